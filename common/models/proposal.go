package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProposalStatus represents the lifecycle of a governance proposal.
// Transitions only move forward; terminal proposals are never reopened.
type ProposalStatus string

const (
	ProposalDraft    ProposalStatus = "draft"
	ProposalActive   ProposalStatus = "active"
	ProposalPassed   ProposalStatus = "passed"
	ProposalFailed   ProposalStatus = "failed"
	ProposalNoQuorum ProposalStatus = "ended-no-quorum"
)

// Terminal reports whether the proposal has been finalized.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalPassed || s == ProposalFailed || s == ProposalNoQuorum
}

// Proposal is a governance proposal against a single vault
// Maps to: proposal table
type Proposal struct {
	ProposalID uuid.UUID `db:"proposal_id" json:"proposal_id"`
	VaultID    uuid.UUID `db:"vault_id" json:"vault_id"`

	// ClientRequestID is the caller-supplied idempotency key, unique per
	// vault, so scheduler retries never open a duplicate proposal.
	ClientRequestID string `db:"client_request_id" json:"client_request_id"`

	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Proposer    string    `db:"proposer" json:"proposer"`

	// ParamsPatch is an RFC-6902 patch applied to the vault's accrual
	// parameter document when the proposal passes. Nil for
	// signalling-only proposals.
	ParamsPatch json.RawMessage `db:"params_patch" json:"params_patch,omitempty"`

	// SnapshotAt fixes voting weight: every vote resolves against token
	// balances as of this instant, never live balances.
	SnapshotAt time.Time `db:"snapshot_at" json:"snapshot_at"`

	Status          ProposalStatus `db:"status" json:"status"`
	QuorumThreshold int64          `db:"quorum_threshold" json:"quorum_threshold"`

	// Aggregates in snapshot weight units; maintained by atomic
	// increment/decrement pairs so a holder is never double-counted
	VotesFor     int64 `db:"votes_for" json:"votes_for"`
	VotesAgainst int64 `db:"votes_against" json:"votes_against"`
	VotesAbstain int64 `db:"votes_abstain" json:"votes_abstain"`

	EndTime   time.Time `db:"end_time" json:"end_time"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Turnout is the total participating weight across all choices.
func (p *Proposal) Turnout() int64 {
	return p.VotesFor + p.VotesAgainst + p.VotesAbstain
}

// Outcome computes the terminal status for a proposal past its end time.
// Quorum is checked first: low turnout ends without a result regardless
// of the for/against ratio.
func (p *Proposal) Outcome() ProposalStatus {
	if p.Turnout() < p.QuorumThreshold {
		return ProposalNoQuorum
	}
	if p.VotesFor > p.VotesAgainst {
		return ProposalPassed
	}
	return ProposalFailed
}
