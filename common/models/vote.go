package models

import (
	"time"

	"github.com/google/uuid"
)

// VoteChoice is a governance ballot option
type VoteChoice string

const (
	VoteFor     VoteChoice = "for"
	VoteAgainst VoteChoice = "against"
	VoteAbstain VoteChoice = "abstain"
)

// Valid reports whether the choice is a known ballot option.
func (c VoteChoice) Valid() bool {
	return c == VoteFor || c == VoteAgainst || c == VoteAbstain
}

// Vote is one holder's ballot on one proposal. Re-casting replaces the
// prior vote and adjusts the proposal aggregates atomically.
// Maps to: vote table
type Vote struct {
	ProposalID uuid.UUID  `db:"proposal_id" json:"proposal_id"`
	HolderID   string     `db:"holder_id" json:"holder_id"`
	Choice     VoteChoice `db:"choice" json:"choice"`

	// Weight is captured from the proposal snapshot at cast time and is
	// immutable thereafter
	Weight int64 `db:"weight" json:"weight"`

	CastAt time.Time `db:"cast_at" json:"cast_at"`
}
