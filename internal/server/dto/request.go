package dto

import "strings"

// --- Health ---

// HealthRequest is a request to check server health.
type HealthRequest struct{}

// Validate is a no-op for HealthRequest.
func (r *HealthRequest) Validate() error {
	return nil
}

// --- Auth ---

// RegisterRequest is a request to create an account.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate validates the register request fields.
func (r *RegisterRequest) Validate() error {
	if r.Username == "" {
		return MissingField("username")
	}
	if strings.TrimSpace(r.Username) != r.Username {
		return InvalidField("username", "leading or trailing spaces")
	}
	if r.Password == "" {
		return MissingField("password")
	}
	return nil
}

// LoginRequest is a request to log in.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate validates the login request fields.
func (r *LoginRequest) Validate() error {
	if r.Username == "" {
		return MissingField("username")
	}
	if r.Password == "" {
		return MissingField("password")
	}
	return nil
}

// LogoutRequest is a request to end the current session.
type LogoutRequest struct{}

// Validate is a no-op for LogoutRequest.
func (r *LogoutRequest) Validate() error {
	return nil
}

// GetMeRequest is a request to get current user info.
type GetMeRequest struct{}

// Validate is a no-op for GetMeRequest.
func (r *GetMeRequest) Validate() error {
	return nil
}

// --- Names ---

// ListNamesRequest is a request to list every name.
type ListNamesRequest struct{}

// Validate is a no-op for ListNamesRequest.
func (r *ListNamesRequest) Validate() error {
	return nil
}

// CreateNameRequest is a request to add a name.
type CreateNameRequest struct {
	FullName string `json:"full_name"`
}

// Validate validates the create name request fields.
func (r *CreateNameRequest) Validate() error {
	if strings.TrimSpace(r.FullName) == "" {
		return MissingField("full_name")
	}
	return nil
}

// UpdateNameRequest is a request to rename an entry.
type UpdateNameRequest struct {
	Index    int64  `path:"index" json:"-"`
	FullName string `json:"full_name"`
}

// Validate validates the update name request fields.
func (r *UpdateNameRequest) Validate() error {
	if r.Index <= 0 {
		return InvalidField("index", "must be a positive integer")
	}
	if strings.TrimSpace(r.FullName) == "" {
		return MissingField("full_name")
	}
	return nil
}

// DeleteNameRequest is a request to remove an entry.
type DeleteNameRequest struct {
	Index int64 `path:"index" json:"-"`
}

// Validate validates the delete name request fields.
func (r *DeleteNameRequest) Validate() error {
	if r.Index <= 0 {
		return InvalidField("index", "must be a positive integer")
	}
	return nil
}

// --- Users ---

// ListUsersRequest is a request to list every account.
type ListUsersRequest struct{}

// Validate is a no-op for ListUsersRequest.
func (r *ListUsersRequest) Validate() error {
	return nil
}
