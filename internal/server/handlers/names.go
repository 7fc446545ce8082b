package handlers

import (
	"context"

	"github.com/maruel/minum/internal/auth"
	"github.com/maruel/minum/internal/names"
	"github.com/maruel/minum/internal/server/dto"
)

// NameHandler handles the names endpoints.
type NameHandler struct {
	svc *names.Service
}

// NewNameHandler creates a new names handler.
func NewNameHandler(svc *names.Service) *NameHandler {
	return &NameHandler{svc: svc}
}

func nameToResponse(p *names.PersonName) dto.NameResponse {
	return dto.NameResponse{Index: p.Index, FullName: p.FullName}
}

// ListNames returns every name sorted by index.
func (h *NameHandler) ListNames(ctx context.Context, req *dto.ListNamesRequest) (*dto.ListNamesResponse, error) {
	all, err := h.svc.List()
	if err != nil {
		return nil, toAPIError(err, "names", "list names")
	}
	resp := &dto.ListNamesResponse{Names: make([]dto.NameResponse, 0, len(all))}
	for _, p := range all {
		resp.Names = append(resp.Names, nameToResponse(p))
	}
	return resp, nil
}

// CreateName adds a name.
func (h *NameHandler) CreateName(ctx context.Context, a *auth.AuthResult, req *dto.CreateNameRequest) (*dto.NameResponse, error) {
	p, err := h.svc.Add(req.FullName)
	if err != nil {
		return nil, toAPIError(err, "name", "add name")
	}
	resp := nameToResponse(p)
	return &resp, nil
}

// UpdateName renames an entry.
func (h *NameHandler) UpdateName(ctx context.Context, a *auth.AuthResult, req *dto.UpdateNameRequest) (*dto.NameResponse, error) {
	p, err := h.svc.Rename(req.Index, req.FullName)
	if err != nil {
		return nil, toAPIError(err, "name", "rename")
	}
	resp := nameToResponse(p)
	return &resp, nil
}

// DeleteName removes an entry.
func (h *NameHandler) DeleteName(ctx context.Context, a *auth.AuthResult, req *dto.DeleteNameRequest) (*dto.DeleteNameResponse, error) {
	if err := h.svc.Remove(req.Index); err != nil {
		return nil, toAPIError(err, "name", "delete name")
	}
	return &dto.DeleteNameResponse{Ok: true}, nil
}
