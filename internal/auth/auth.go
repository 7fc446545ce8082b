// Handles user registration, login and cookie based sessions.

// Package auth implements accounts and sessions on top of the database
// collections.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/maruel/minum/internal/database"
	"github.com/maruel/minum/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

// CookieName is the cookie carrying the session token.
const CookieName = "sessionid"

var (
	errCredentialsRequired = errors.New("username and password are required")
	errSecretRequired      = errors.New("secret is required")
	errLifetimeRequired    = errors.New("session lifetime must be positive")
	errSessionNotFound     = errors.New("session not found")
	errInvalidToken        = errors.New("invalid token")
)

// RegisterStatus is the outcome of RegisterUser.
type RegisterStatus string

// Registration outcomes.
const (
	RegisterSuccess       RegisterStatus = "SUCCESS"
	RegisterAlreadyExists RegisterStatus = "ALREADY_EXISTING_USER"
)

// RegisterResult is returned by RegisterUser.
type RegisterResult struct {
	Status RegisterStatus
	User   *User
}

// LoginStatus is the outcome of LoginUser.
type LoginStatus string

// Login outcomes.
const (
	LoginSuccess     LoginStatus = "SUCCESS"
	LoginDidNotMatch LoginStatus = "DID_NOT_MATCH"
)

// LoginResult is returned by LoginUser. Session and Token are only set on
// success.
type LoginResult struct {
	Status  LoginStatus
	User    *User
	Session *Session
	Token   string
}

// AuthResult describes the identity attached to a request.
type AuthResult struct {
	Authenticated bool
	Session       *Session
	// User is nil for sessions not bound to an account.
	User         *User
	CreationDate time.Time
}

// Config configures a Service.
type Config struct {
	// Secret signs session tokens.
	Secret []byte
	// Lifetime is how long a session stays valid after creation.
	Lifetime time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// Secure marks cookies as HTTPS only.
	Secure bool
}

// Service manages users and sessions.
type Service struct {
	sessions *database.DB[*Session]
	users    *database.DB[*User]
	cfg      Config
	now      func() time.Time

	// mu makes the username uniqueness check and the insert atomic.
	mu sync.Mutex
}

// NewService returns a Service persisting to the given collections.
func NewService(sessions *database.DB[*Session], users *database.DB[*User], cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errSecretRequired
	}
	if cfg.Lifetime <= 0 {
		return nil, errLifetimeRequired
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		sessions: sessions,
		users:    users,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// RegisterUser creates an account. An existing username is reported through
// the result status, not as an error.
func (s *Service) RegisterUser(username, password string) (*RegisterResult, error) {
	if username == "" || password == "" {
		return nil, errCredentialsRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.findUser(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &RegisterResult{Status: RegisterAlreadyExists}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u := &User{Username: username, PasswordHash: string(hash), Created: s.now()}
	if err := s.users.Write(u); err != nil {
		return nil, err
	}
	return &RegisterResult{Status: RegisterSuccess, User: u.Clone()}, nil
}

// LoginUser checks credentials and opens a session on success.
func (s *Service) LoginUser(username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, errCredentialsRequired
	}
	u, err := s.findUser(username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return &LoginResult{Status: LoginDidNotMatch}, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return &LoginResult{Status: LoginDidNotMatch}, nil
	}
	sess, token, err := s.RegisterNewSession(u.Index)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Status: LoginSuccess, User: u, Session: sess, Token: token}, nil
}

// ListUsers returns every account sorted by index.
func (s *Service) ListUsers() ([]*User, error) {
	return s.users.Values()
}

func (s *Service) findUser(username string) (*User, error) {
	users, err := s.users.Values()
	if err != nil {
		return nil, err
	}
	u, _, err := utils.FindExactlyOne(users, func(u *User) bool { return u.Username == username })
	return u, err
}

// RegisterNewSession stores a new session for userIndex and returns it with
// its signed token.
func (s *Service) RegisterNewSession(userIndex int64) (*Session, string, error) {
	sess := &Session{Code: uuid.NewString(), UserIndex: userIndex, Created: s.now()}
	if err := s.sessions.Write(sess); err != nil {
		return nil, "", err
	}
	token, err := s.signToken(sess)
	if err != nil {
		return nil, "", err
	}
	return sess, token, nil
}

func (s *Service) signToken(sess *Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sess.Code,
		Subject:   strconv.FormatInt(sess.UserIndex, 10),
		IssuedAt:  jwt.NewNumericDate(sess.Created),
		ExpiresAt: jwt.NewNumericDate(sess.Created.Add(s.cfg.Lifetime)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// parseToken verifies the signature and expiry of a token and returns its
// session code.
func (s *Service) parseToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	t, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !t.Valid {
		return "", errInvalidToken
	}
	if claims.ID == "" {
		return "", errInvalidToken
	}
	return claims.ID, nil
}

// Cookie returns the cookie carrying token.
func (s *Service) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.Lifetime.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearCookie returns a cookie that removes the session cookie.
func (s *Service) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ProcessAuth identifies the session of a request.
//
// The token is read from the session cookie, or from an Authorization Bearer
// header when there is no cookie. A request carrying more than one session
// cookie is ambiguous and is not authenticated.
func (s *Service) ProcessAuth(r *http.Request) AuthResult {
	token, ok := requestToken(r)
	if !ok {
		return AuthResult{}
	}
	code, err := s.parseToken(token)
	if err != nil {
		return AuthResult{}
	}
	sess, err := s.findSession(code)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to look up session", "err", err)
		return AuthResult{}
	}
	if sess == nil {
		return AuthResult{}
	}
	res := AuthResult{Authenticated: true, Session: sess, CreationDate: sess.Created}
	if sess.UserIndex != 0 {
		u, found, err := s.users.Get(sess.UserIndex)
		if err != nil || !found {
			return AuthResult{}
		}
		res.User = u
	}
	return res
}

func requestToken(r *http.Request) (string, bool) {
	cookies := r.CookiesNamed(CookieName)
	switch len(cookies) {
	case 0:
		v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		return v, ok && v != ""
	case 1:
		return cookies[0].Value, cookies[0].Value != ""
	default:
		return "", false
	}
}

func (s *Service) findSession(code string) (*Session, error) {
	sessions, err := s.sessions.Values()
	if err != nil {
		return nil, err
	}
	sess, _, err := utils.FindExactlyOne(sessions, func(x *Session) bool { return x.Code == code })
	return sess, err
}

// Logout deletes the session identified by code.
func (s *Service) Logout(code string) error {
	sess, err := s.findSession(code)
	if err != nil {
		return err
	}
	if sess == nil {
		return errSessionNotFound
	}
	return s.sessions.Delete(sess)
}

// ReviewSessions deletes every session older than the configured lifetime and
// returns how many were removed.
func (s *Service) ReviewSessions(now time.Time) (int, error) {
	sessions, err := s.sessions.Values()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range sessions {
		if now.Before(sess.Created.Add(s.cfg.Lifetime)) {
			continue
		}
		if err := s.sessions.Delete(sess); err != nil {
			var nf *database.NotFoundError
			if errors.As(err, &nf) {
				// Logged out concurrently.
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// StartSessionReviewer runs RunSessionReviewer in a goroutine. The returned
// function cancels it and waits for a review in progress to finish, so the
// collections can be stopped right after it returns.
func (s *Service) StartSessionReviewer(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() { s.RunSessionReviewer(ctx, interval) })
	return func() {
		cancel()
		wg.Wait()
	}
}

// RunSessionReviewer calls ReviewSessions every interval until ctx is done.
func (s *Service) RunSessionReviewer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ReviewSessions(s.now())
			if err != nil {
				slog.WarnContext(ctx, "Failed to review sessions", "err", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "Removed expired sessions", "count", n)
			}
		}
	}
}
