package models

import (
	"time"

	"github.com/google/uuid"
)

// ClaimState represents the settlement state of a claim request
type ClaimState string

const (
	ClaimRequested ClaimState = "REQUESTED"
	ClaimReserved  ClaimState = "RESERVED"
	ClaimSubmitted ClaimState = "SUBMITTED"
	ClaimConfirmed ClaimState = "CONFIRMED"
	ClaimFailed    ClaimState = "FAILED"
)

// Terminal reports whether the state is final. Terminal rows are
// append-only facts; resubmission with the same idempotency key returns
// the stored outcome.
func (s ClaimState) Terminal() bool {
	return s == ClaimConfirmed || s == ClaimFailed
}

// CanTransitionTo enforces the forward-only settlement state machine:
// REQUESTED -> RESERVED -> SUBMITTED -> {CONFIRMED | FAILED}.
// RESERVED may fail directly when reservation validation collapses.
func (s ClaimState) CanTransitionTo(next ClaimState) bool {
	switch s {
	case ClaimRequested:
		return next == ClaimReserved || next == ClaimFailed
	case ClaimReserved:
		return next == ClaimSubmitted || next == ClaimFailed
	case ClaimSubmitted:
		return next == ClaimConfirmed || next == ClaimFailed
	default:
		return false
	}
}

// ClaimMode distinguishes what a claim does to the ledger on success
type ClaimMode string

const (
	// ModeClaim pays out accrued yield in settlement currency
	ModeClaim ClaimMode = "claim"
	// ModeCompound converts accrued yield into additional vault tokens
	ModeCompound ClaimMode = "compound"
	// ModeWithdraw redeems principal by burning tokens
	ModeWithdraw ClaimMode = "withdraw"
)

// Valid reports whether the mode is one of the known claim modes.
func (m ClaimMode) Valid() bool {
	return m == ModeClaim || m == ModeCompound || m == ModeWithdraw
}

// ClaimRequest is a durable settlement record, owned exclusively by the
// settlement coordinator
// Maps to: claim_request table
type ClaimRequest struct {
	ClaimID uuid.UUID `db:"claim_id" json:"claim_id"`

	// ClientRequestID is the caller-supplied idempotency key, unique per
	// (vault, holder).
	ClientRequestID string `db:"client_request_id" json:"client_request_id"`

	VaultID  uuid.UUID `db:"vault_id" json:"vault_id"`
	HolderID string    `db:"holder_id" json:"holder_id"`

	// RequestedAmount in smallest settlement units (claim/compound) or
	// smallest token units (withdraw)
	RequestedAmount int64 `db:"requested_amount" json:"requested_amount"`

	Mode  ClaimMode  `db:"mode" json:"mode"`
	State ClaimState `db:"state" json:"state"`

	// ExternalTxRef is recorded before the first confirmation poll so a
	// crash mid-settlement leaves a recoverable row
	ExternalTxRef *string `db:"external_tx_ref" json:"external_tx_ref,omitempty"`

	// ConversionPrice is the single bonding-curve price captured at
	// reservation time, used for compound conversion. Micro-price.
	ConversionPrice *int64 `db:"conversion_price" json:"conversion_price,omitempty"`

	FailureReason *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt    *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}
