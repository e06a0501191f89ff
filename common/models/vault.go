package models

import (
	"time"

	"github.com/google/uuid"
)

// Protocol identifies the external yield protocol a vault routes
// revenue through.
type Protocol string

const (
	ProtocolCetus   Protocol = "cetus"
	ProtocolSuiLend Protocol = "suilend"
	ProtocolScallop Protocol = "scallop"
)

// MicroUnit is the fixed-point scale for accrual rates and prices:
// 1 settlement unit = 1_000_000 micro-units.
const MicroUnit = 1_000_000

// AccrualParams are the governance-controlled accounting parameters of a
// vault. They are stored as a JSON document so governance proposals can
// modify them with an RFC-6902 patch.
type AccrualParams struct {
	// Rate is accrued settlement currency in micro-units, per token
	// per day.
	Rate int64 `json:"rate"`

	// Protocol is the external yield source.
	Protocol Protocol `json:"protocol"`

	// Compounding allows claim requests in compound mode, converting
	// accrued yield into additional tokens instead of paying it out.
	Compounding bool `json:"compounding"`

	// Quorum is the minimum total voting weight for a valid governance
	// outcome, in smallest token units.
	Quorum int64 `json:"quorum"`

	// FeeBps is the trading fee in basis points, charged on quote input.
	FeeBps int64 `json:"fee_bps"`
}

// Vault represents a tokenized revenue stream
// Maps to: vault table
type Vault struct {
	VaultID uuid.UUID `db:"vault_id" json:"vault_id"`

	// Catalog metadata surfaced to the dashboard
	Name   string `db:"name" json:"name"`
	Symbol string `db:"symbol" json:"symbol"`
	Artist string `db:"artist" json:"artist"`

	// Supply in smallest token units
	TotalSupply       int64 `db:"total_supply" json:"total_supply"`
	CirculatingSupply int64 `db:"circulating_supply" json:"circulating_supply"`

	Params AccrualParams `json:"params"`

	// ClaimPolicy is an optional CEL expression evaluated before any
	// reservation; empty means allow.
	ClaimPolicy string `db:"claim_policy" json:"claim_policy,omitempty"`

	// Bonding curve parameters (micro-price)
	CurveBasePrice int64 `db:"curve_base_price" json:"curve_base_price"`
	CurveSlope     int64 `db:"curve_slope" json:"curve_slope"`

	InvestorCount int64     `db:"investor_count" json:"investor_count"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// APYBps derives the displayed APY in basis points from the accrual rate
// and the current spot price. Display-only; never feeds back into
// accounting.
func (v *Vault) APYBps(spotPrice int64) int64 {
	if spotPrice <= 0 {
		return 0
	}
	// rate is micro-units/token/day; annualize against the token price
	return v.Params.Rate * 365 * 10_000 / spotPrice
}
