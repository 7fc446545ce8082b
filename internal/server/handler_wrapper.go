// Provides middleware for standardizing HTTP handlers.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/maruel/minum/internal/auth"
	"github.com/maruel/minum/internal/server/dto"
	"github.com/maruel/minum/internal/server/handlers"
	"github.com/maruel/minum/internal/server/ratelimit"
	"github.com/maruel/minum/internal/server/reqctx"
)

// cookieSetter is implemented by responses that set cookies.
type cookieSetter interface {
	Cookies() []*http.Cookie
}

// checkRateLimit consumes a token from tier and writes the rate limit headers.
// Returns false if the request was refused and the error was written.
func checkRateLimit(w http.ResponseWriter, tier *ratelimit.Tier, identifier string) bool {
	if tier == nil {
		return true
	}
	result := tier.Limiter.Allow(ratelimit.BuildKey(tier.Scope, identifier, tier.Name))
	ratelimit.WriteHeaders(w, result)
	if !result.Allowed {
		writeRateLimitError(w, result)
		return false
	}
	return true
}

// getRateLimitIdentifier returns the appropriate identifier for rate limiting based on scope.
func getRateLimitIdentifier(tier *ratelimit.Tier, a *auth.AuthResult, r *http.Request) string {
	if tier.Scope == ratelimit.ScopeUser && a != nil {
		if a.User != nil {
			return strconv.FormatInt(a.User.Index, 10)
		}
		if a.Session != nil {
			return a.Session.Code
		}
	}
	return reqctx.ClientIP(r.Context())
}

// readAndDecodeBody reads the request body with size limit and decodes JSON into input.
// Returns false if an error occurred and was written to the response.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, cfg *handlers.Config) bool {
	if cfg != nil && cfg.MaxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxRequestBodyBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeAPIError(w, dto.PayloadTooLarge(maxBytesErr.Limit))
			return false
		}
		slog.ErrorContext(ctx, "Failed to read request body", "err", err)
		writeAPIError(w, dto.BadRequest("Failed to read request body"))
		return false
	}
	if len(body) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.DisallowUnknownFields()
		if err := d.Decode(input); err != nil {
			slog.WarnContext(ctx, "Failed to decode request body", "err", err)
			writeAPIError(w, dto.BadRequest("Invalid request body"))
			return false
		}
	}
	return true
}

// decodeInput reads the body and the path parameters into a new In and
// validates it. Returns false if an error was written to the response.
func decodeInput[In any, PtrIn interface {
	*In
	dto.Validatable
}](ctx context.Context, w http.ResponseWriter, r *http.Request, cfg *handlers.Config) (*In, bool) {
	input := new(In)
	if !readAndDecodeBody(ctx, w, r, input, cfg) {
		return nil, false
	}
	populatePathParams(r, input)
	if err := PtrIn(input).Validate(); err != nil {
		handleValidationError(ctx, w, err)
		return nil, false
	}
	return input, true
}

// writeJSONResponse writes a JSON response or error response.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, output *Out, err error) {
	if err != nil {
		statusCode := http.StatusInternalServerError
		var ews dto.ErrorWithStatus
		if errors.As(err, &ews) {
			statusCode = ews.StatusCode()
		}
		if statusCode >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", statusCode)
		} else {
			slog.DebugContext(ctx, "Handler error", "err", err, "statusCode", statusCode)
		}
		writeAPIError(w, err)
		return
	}
	if cs, ok := any(output).(cookieSetter); ok && output != nil {
		for _, c := range cs.Cookies() {
			http.SetCookie(w, c)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// Wrap wraps a handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Path parameters can be extracted by tagging struct fields with `path:"name"`.
// *In must implement dto.Validatable.
//
// Example:
//
//	type DeleteNameRequest struct {
//	    Index int64 `path:"index"`
//	}
//
//	func (h *NameHandler) DeleteName(ctx context.Context, a *auth.AuthResult, req *DeleteNameRequest) (*Response, error)
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), cfg *handlers.Config, limiters *ratelimit.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !checkRateLimit(w, limiters.MatchUnauth(r.Method, r.URL.Path), reqctx.ClientIP(ctx)) {
			return
		}
		input, ok := decodeInput[In, PtrIn](ctx, w, r, cfg)
		if !ok {
			return
		}
		output, err := fn(ctx, PtrIn(input))
		writeJSONResponse(ctx, w, output, err)
	})
}

// WrapAuth wraps a handler function that requires a valid session.
// The function must have signature: func(context.Context, *auth.AuthResult, *In) (*Out, error)
// *In must implement dto.Validatable.
func WrapAuth[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](
	fn func(context.Context, *auth.AuthResult, PtrIn) (*Out, error),
	svc *handlers.Services,
	cfg *handlers.Config,
	limiters *ratelimit.Config,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := svc.Auth.ProcessAuth(r)
		if !a.Authenticated {
			writeAPIError(w, dto.Unauthorized())
			return
		}
		ctx := reqctx.WithAuth(r.Context(), &a)
		r = r.WithContext(ctx)
		if tier := limiters.MatchAuth(r.Method, r.URL.Path); tier != nil {
			if !checkRateLimit(w, tier, getRateLimitIdentifier(tier, &a, r)) {
				return
			}
		}
		input, ok := decodeInput[In, PtrIn](ctx, w, r, cfg)
		if !ok {
			return
		}
		output, err := fn(ctx, &a, PtrIn(input))
		writeJSONResponse(ctx, w, output, err)
	})
}

// populatePathParams extracts path parameters from the request and populates
// struct fields tagged with `path:"paramName"`.
//
// A value that doesn't parse leaves the field at its zero value for Validate
// to reject.
func populatePathParams(r *http.Request, input any) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("path")
		if tag == "" {
			continue
		}
		paramValue := r.PathValue(tag)
		if paramValue == "" {
			continue
		}
		switch field.Type.Kind() {
		case reflect.String:
			elem.Field(i).SetString(paramValue)
		case reflect.Int, reflect.Int64:
			if v, err := strconv.ParseInt(paramValue, 10, 64); err == nil {
				elem.Field(i).SetInt(v)
			}
		}
	}
}

// handleValidationError handles a validation error from a request's Validate method.
func handleValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var ews dto.ErrorWithStatus
	if !errors.As(err, &ews) {
		err = dto.BadRequest(err.Error())
	}
	slog.DebugContext(ctx, "Validation error", "err", err)
	writeAPIError(w, err)
}

// writeAPIError writes err as a JSON error response. Errors that don't carry
// a status are reported as internal errors without their message.
func writeAPIError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	code := dto.ErrorCodeInternal
	message := "internal error"
	var details map[string]any
	var ews dto.ErrorWithStatus
	if errors.As(err, &ews) {
		statusCode = ews.StatusCode()
		code = ews.Code()
		message = ews.Error()
		details = ews.Details()
	}
	writeErrorResponseWithCode(w, statusCode, code, message, details)
}

// writeErrorResponseWithCode writes a detailed error response as JSON with code and details.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code dto.ErrorCode, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := dto.ErrorResponse{
		Error:   dto.ErrorDetails{Code: code, Message: message},
		Details: details,
	}
	if len(details) == 0 {
		response.Details = nil
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode error response", "err", err)
	}
}

// writeRateLimitError writes a 429 rate limit error response.
func writeRateLimitError(w http.ResponseWriter, result ratelimit.Result) {
	writeAPIError(w, dto.RateLimitExceeded(int(result.RetryAfter.Seconds())))
}
