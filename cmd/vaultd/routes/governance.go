package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/sonicvault/vaultd/cmd/vaultd/container"
	"github.com/sonicvault/vaultd/cmd/vaultd/handlers"
	vaultmw "github.com/sonicvault/vaultd/cmd/vaultd/middleware"
	commonmw "github.com/sonicvault/vaultd/common/middleware"
	"github.com/sonicvault/vaultd/common/ratelimit"
)

// RegisterGovernanceRoutes registers proposal and voting routes
func RegisterGovernanceRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewGovernanceHandler(c)

	vaults := e.Group("/api/v1/vaults", vaultmw.HolderAuth())
	{
		vaults.POST("/:id/proposals", h.CreateProposal,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierVote))
		vaults.GET("/:id/proposals", h.ListProposals,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierQuery))
	}

	proposals := e.Group("/api/v1/proposals", vaultmw.HolderAuth())
	{
		proposals.GET("/:id", h.GetProposal,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierQuery))
		proposals.POST("/:id/votes", h.CastVote,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierVote))
		proposals.GET("/:id/votes/me", h.GetVote,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierQuery))
		proposals.POST("/:id/finalize", h.Finalize,
			commonmw.TieredRateLimitMiddleware(c.RateLimiter, ratelimit.TierVote))
	}
}
