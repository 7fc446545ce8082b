// Converts domain errors into API errors.

package handlers

import (
	"errors"

	"github.com/maruel/minum/internal/database"
	"github.com/maruel/minum/internal/server/dto"
)

// toAPIError maps errors returned by the collections to a status code.
func toAPIError(err error, resource, op string) error {
	var nf *database.NotFoundError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &nf):
		return dto.NotFound(resource).WithDetail("index", nf.Index)
	case errors.Is(err, database.ErrStopped):
		return dto.Unavailable("Server is shutting down")
	default:
		return dto.InternalWithError("Failed to "+op, err)
	}
}
