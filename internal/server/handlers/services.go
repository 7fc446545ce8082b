// Package handlers implements the API endpoints on top of the domain
// services.
package handlers

import (
	"github.com/maruel/minum/internal/auth"
	"github.com/maruel/minum/internal/names"
)

// Services bundles the domain services used by the handlers.
type Services struct {
	Auth  *auth.Service
	Names *names.Service
}

// Config holds configuration values needed by handlers.
type Config struct {
	Version             string
	MaxRequestBodyBytes int64
}
