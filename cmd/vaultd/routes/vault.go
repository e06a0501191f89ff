package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/sonicvault/vaultd/cmd/vaultd/container"
	"github.com/sonicvault/vaultd/cmd/vaultd/handlers"
	vaultmw "github.com/sonicvault/vaultd/cmd/vaultd/middleware"
	commonmw "github.com/sonicvault/vaultd/common/middleware"
	"github.com/sonicvault/vaultd/common/ratelimit"
)

// RegisterVaultRoutes registers vault catalog and trading routes
func RegisterVaultRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewVaultHandler(c)

	vaults := e.Group("/api/v1/vaults", vaultmw.HolderAuth())
	{
		vaults.POST("", h.CreateVault)
		vaults.GET("", h.ListVaults,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierQuery))
		vaults.GET("/:id", h.GetVault,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierQuery))
		vaults.POST("/:id/quote", h.Quote,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierTrade))
		vaults.GET("/:id/position", h.GetPosition,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierQuery))
	}

	e.GET("/api/v1/portfolio", h.Portfolio, vaultmw.HolderAuth(),
		commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierQuery))
}
