package dto

import "net/http"

// HealthResponse reports the server status.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	Index    int64  `json:"index"`
	Username string `json:"username"`
	Created  string `json:"created"`
}

// RegisterResponse is returned after a successful registration.
type RegisterResponse struct {
	User UserResponse `json:"user"`
}

// AuthResponse is returned by login. The token is also set as a cookie.
type AuthResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`

	SetCookies []*http.Cookie `json:"-"`
}

// Cookies returns the cookies to set on the response.
func (r *AuthResponse) Cookies() []*http.Cookie {
	return r.SetCookies
}

// LogoutResponse is returned by logout.
type LogoutResponse struct {
	Ok bool `json:"ok"`

	SetCookies []*http.Cookie `json:"-"`
}

// Cookies returns the cookies to set on the response.
func (r *LogoutResponse) Cookies() []*http.Cookie {
	return r.SetCookies
}

// MeResponse describes the authenticated session.
type MeResponse struct {
	User           *UserResponse `json:"user,omitempty"`
	SessionCreated string        `json:"session_created"`
}

// NameResponse is one stored name.
type NameResponse struct {
	Index    int64  `json:"index"`
	FullName string `json:"full_name"`
}

// ListNamesResponse lists every stored name.
type ListNamesResponse struct {
	Names []NameResponse `json:"names"`
}

// DeleteNameResponse is returned after a removal.
type DeleteNameResponse struct {
	Ok bool `json:"ok"`
}

// ListUsersResponse lists every account.
type ListUsersResponse struct {
	Users []UserResponse `json:"users"`
}
