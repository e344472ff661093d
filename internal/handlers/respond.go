package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rescuelink/backend/internal/repository"
	"github.com/rescuelink/backend/internal/tracking"
)

// ErrorResponse sends a standardized error response and logs at caller if needed
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tracking.ErrDispatchNotFound),
		errors.Is(err, tracking.ErrAmbulanceNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracking.ErrNoAmbulancesAvailable),
		errors.Is(err, tracking.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, tracking.ErrNotOwner):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}
