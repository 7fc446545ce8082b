package handlers

import (
	"context"

	"github.com/maruel/minum/internal/auth"
	"github.com/maruel/minum/internal/server/dto"
)

// UserHandler handles user listing requests.
type UserHandler struct {
	svc *auth.Service
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc *auth.Service) *UserHandler {
	return &UserHandler{svc: svc}
}

// ListUsers returns every account without password hashes.
func (h *UserHandler) ListUsers(ctx context.Context, a *auth.AuthResult, req *dto.ListUsersRequest) (*dto.ListUsersResponse, error) {
	users, err := h.svc.ListUsers()
	if err != nil {
		return nil, toAPIError(err, "users", "list users")
	}
	resp := &dto.ListUsersResponse{Users: make([]dto.UserResponse, 0, len(users))}
	for _, u := range users {
		resp.Users = append(resp.Users, userToResponse(u))
	}
	return resp, nil
}
