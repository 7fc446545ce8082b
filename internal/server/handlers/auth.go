// Handles registration, login and session endpoints.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/maruel/minum/internal/auth"
	"github.com/maruel/minum/internal/server/dto"
)

// AuthHandler handles authentication requests.
type AuthHandler struct {
	svc *auth.Service
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

func userToResponse(u *auth.User) dto.UserResponse {
	return dto.UserResponse{Index: u.Index, Username: u.Username, Created: u.Created.Format(time.RFC3339)}
}

// Register creates an account.
func (h *AuthHandler) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	res, err := h.svc.RegisterUser(req.Username, req.Password)
	if err != nil {
		return nil, toAPIError(err, "user", "register user")
	}
	if res.Status == auth.RegisterAlreadyExists {
		return nil, dto.Conflict("Username is already taken").WithDetail("username", req.Username)
	}
	slog.InfoContext(ctx, "Registered user", "user", res.User.Index)
	return &dto.RegisterResponse{User: userToResponse(res.User)}, nil
}

// Login checks credentials and opens a session.
func (h *AuthHandler) Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	res, err := h.svc.LoginUser(req.Username, req.Password)
	if err != nil {
		return nil, toAPIError(err, "user", "log in")
	}
	if res.Status != auth.LoginSuccess {
		return nil, dto.Unauthorized()
	}
	return &dto.AuthResponse{
		User:       userToResponse(res.User),
		Token:      res.Token,
		SetCookies: []*http.Cookie{h.svc.Cookie(res.Token)},
	}, nil
}

// Logout ends the session of the request.
func (h *AuthHandler) Logout(ctx context.Context, a *auth.AuthResult, req *dto.LogoutRequest) (*dto.LogoutResponse, error) {
	if err := h.svc.Logout(a.Session.Code); err != nil {
		return nil, toAPIError(err, "session", "log out")
	}
	return &dto.LogoutResponse{Ok: true, SetCookies: []*http.Cookie{h.svc.ClearCookie()}}, nil
}

// Me describes the session of the request.
func (h *AuthHandler) Me(ctx context.Context, a *auth.AuthResult, req *dto.GetMeRequest) (*dto.MeResponse, error) {
	resp := &dto.MeResponse{SessionCreated: a.CreationDate.Format(time.RFC3339)}
	if a.User != nil {
		u := userToResponse(a.User)
		resp.User = &u
	}
	return resp, nil
}
