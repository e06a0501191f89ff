package models

import (
	"time"

	"github.com/google/uuid"
)

// HolderPosition is one holder's entitlement in one vault
// Maps to: holder_position table
type HolderPosition struct {
	VaultID  uuid.UUID `db:"vault_id" json:"vault_id"`
	HolderID string    `db:"holder_id" json:"holder_id"`

	// TokenBalance in smallest token units, never negative
	TokenBalance int64 `db:"token_balance" json:"token_balance"`

	// AccruedYield in smallest settlement units. Only a successful
	// settlement may decrease it.
	AccruedYield int64 `db:"accrued_yield" json:"accrued_yield"`

	// LastCheckpoint is the time up to which yield has been accrued
	LastCheckpoint time.Time `db:"last_checkpoint" json:"last_checkpoint"`

	// PendingClaimID is the single in-flight claim reservation for this
	// position; claims are serialized per (vault, holder).
	PendingClaimID *uuid.UUID `db:"pending_claim_id" json:"pending_claim_id,omitempty"`
}

// DaysAccrued returns whole days since the last checkpoint, for the
// claimables listing.
func (p *HolderPosition) DaysAccrued(now time.Time) int64 {
	elapsed := now.Sub(p.LastCheckpoint)
	if elapsed < 0 {
		return 0
	}
	return int64(elapsed.Hours() / 24)
}
