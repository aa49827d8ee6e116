package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumenchat/lumen-backend/internal/http/response"
	apperrors "github.com/lumenchat/lumen-backend/internal/pkg/errors"
)

// respondServiceError maps the service-layer sentinel wrapped in err to
// its HTTP status; anything unrecognized falls through to apierr / 500
// handling in the response package.
func respondServiceError(c *gin.Context, fallbackCode string, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidArgument):
		response.RespondError(c, http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, apperrors.ErrUnauthorized):
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", err)
	case errors.Is(err, apperrors.ErrNotFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, apperrors.ErrConflict):
		response.RespondError(c, http.StatusConflict, "conflict", err)
	default:
		response.RespondServiceError(c, fallbackCode, err)
	}
}
