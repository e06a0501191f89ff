package ratelimit

// OpTier classifies requests by the load they put on the settlement path
type OpTier string

const (
	TierQuery  OpTier = "query"  // read-only lookups
	TierTrade  OpTier = "trade"  // quote requests
	TierVote   OpTier = "vote"   // governance ballots
	TierSettle OpTier = "settle" // claim/withdraw submissions
)

// TierConfig defines rate limits for each operation tier
type TierConfig struct {
	Tier          OpTier
	Limit         int64  // Requests allowed per window
	WindowSeconds int    // Time window in seconds
	Description   string // Human-readable description
}

// Default tier configurations
var DefaultTierConfigs = map[OpTier]TierConfig{
	TierQuery: {
		Tier:          TierQuery,
		Limit:         300,
		WindowSeconds: 60,
		Description:   "Read-only queries - 300 requests/minute",
	},
	TierTrade: {
		Tier:          TierTrade,
		Limit:         120,
		WindowSeconds: 60,
		Description:   "Trade quotes - 120 requests/minute",
	},
	TierVote: {
		Tier:          TierVote,
		Limit:         30,
		WindowSeconds: 60,
		Description:   "Governance votes - 30 requests/minute",
	},
	TierSettle: {
		Tier:          TierSettle,
		Limit:         10,
		WindowSeconds: 60,
		Description:   "Claim and withdraw submissions - 10 requests/minute",
	},
}

// GlobalConfig contains global service-wide limits
type GlobalConfig struct {
	Limit         int64 // Total requests per window (all holders)
	WindowSeconds int   // Time window
}

// Default global configuration
var DefaultGlobalConfig = GlobalConfig{
	Limit:         2000,
	WindowSeconds: 60,
}

// GetLimitForTier returns the rate limit for a given tier
func GetLimitForTier(tier OpTier) int64 {
	if config, exists := DefaultTierConfigs[tier]; exists {
		return config.Limit
	}
	// Fallback to most restrictive tier
	return DefaultTierConfigs[TierSettle].Limit
}

// GetWindowForTier returns the time window for a given tier
func GetWindowForTier(tier OpTier) int {
	if config, exists := DefaultTierConfigs[tier]; exists {
		return config.WindowSeconds
	}
	return DefaultTierConfigs[TierSettle].WindowSeconds
}
