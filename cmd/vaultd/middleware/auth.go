package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sonicvault/vaultd/common/clients"
)

// HolderHeader carries the authenticated holder identity, injected by
// the API gateway in front of this service.
const HolderHeader = "X-Holder-ID"

// HolderAuth extracts the holder identity and makes it available to
// handlers and the rate limiter. Requests without an identity are
// rejected before any handler runs.
func HolderAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			holderID := c.Request().Header.Get(HolderHeader)
			if holderID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing holder identity",
				})
			}

			c.Set("holder_id", holderID)
			ctx := clients.WithHolderID(c.Request().Context(), holderID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// HolderID returns the authenticated holder for the current request.
func HolderID(c echo.Context) string {
	holderID, _ := c.Get("holder_id").(string)
	return holderID
}
