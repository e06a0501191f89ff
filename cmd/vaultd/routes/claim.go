package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/sonicvault/vaultd/cmd/vaultd/container"
	"github.com/sonicvault/vaultd/cmd/vaultd/handlers"
	vaultmw "github.com/sonicvault/vaultd/cmd/vaultd/middleware"
	commonmw "github.com/sonicvault/vaultd/common/middleware"
	"github.com/sonicvault/vaultd/common/ratelimit"
)

// RegisterClaimRoutes registers claim intake and status routes
func RegisterClaimRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewClaimHandler(c)

	vaults := e.Group("/api/v1/vaults", vaultmw.HolderAuth())
	{
		vaults.POST("/:id/claims", h.RequestClaim,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierSettle))
		vaults.GET("/:id/claims", h.GetClaimByRequestID,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierQuery))
	}

	claims := e.Group("/api/v1/claims", vaultmw.HolderAuth())
	{
		claims.GET("/:id", h.GetClaim,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierQuery))
	}

	e.GET("/api/v1/claimables", h.Claimables, vaultmw.HolderAuth(),
		commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierQuery))
}
