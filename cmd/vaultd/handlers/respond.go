package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sonicvault/vaultd/common/models"
)

// respondError maps domain errors onto HTTP status codes. Unrecognized
// errors become opaque 500s so internal details never leak to clients.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, errBody("not found"))
	case errors.Is(err, models.ErrInvalidAmount):
		return c.JSON(http.StatusBadRequest, errBody(err.Error()))
	case errors.Is(err, models.ErrInsufficientEntitlement):
		return c.JSON(http.StatusUnprocessableEntity, errBody(err.Error()))
	case errors.Is(err, models.ErrClaimAlreadyPending):
		return c.JSON(http.StatusConflict, errBody(err.Error()))
	case errors.Is(err, models.ErrProposalNotActive):
		return c.JSON(http.StatusConflict, errBody(err.Error()))
	case errors.Is(err, models.ErrNoSnapshotWeight):
		return c.JSON(http.StatusForbidden, errBody(err.Error()))
	case errors.Is(err, models.ErrInvalidState):
		return c.JSON(http.StatusConflict, errBody(err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, errBody("internal error"))
	}
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
