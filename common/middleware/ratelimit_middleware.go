package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sonicvault/vaultd/common/ratelimit"
)

// GlobalRateLimitMiddleware checks the global service-wide rate limit
// Protects the entire service from being overwhelmed
func GlobalRateLimitMiddleware(rateLimiter *ratelimit.RateLimiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result, err := rateLimiter.CheckGlobalLimit(c.Request().Context(), limit)
			if err != nil {
				// On error, allow request (fail open for availability)
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "global_rate_limit_exceeded",
					"message": "Service is experiencing high load. Please try again later.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window":              "60 seconds",
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}

// TieredRateLimitMiddleware checks per-holder rate limits for one
// operation tier. Requires the holder ID to be set in context by the
// ExtractHolder middleware.
func TieredRateLimitMiddleware(rateLimiter *ratelimit.RateLimiter, tier ratelimit.OpTier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Get holder from context (set by ExtractHolder middleware)
			holderID, ok := c.Get("holder_id").(string)
			if !ok || holderID == "" {
				// No holder identity, skip per-holder limiting
				return next(c)
			}

			result, err := rateLimiter.CheckTieredLimit(c.Request().Context(), holderID, tier)
			if err != nil {
				// Fail open for availability
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "Too many requests for this operation. Please slow down.",
					"details": map[string]interface{}{
						"tier":                string(tier),
						"limit":               result.Limit,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
