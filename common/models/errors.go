package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the accounting core. Handlers map these to HTTP
// status codes with errors.Is; everything else surfaces as a 500.
var (
	// ErrInsufficientEntitlement means a claim exceeds the accrued yield
	// (or token balance, for withdrawals). Terminal, user-correctable.
	ErrInsufficientEntitlement = errors.New("insufficient entitlement")

	// ErrClaimAlreadyPending means another claim holds the reservation for
	// this position. The caller should retry after it resolves.
	ErrClaimAlreadyPending = errors.New("claim already pending for position")

	// ErrProposalNotActive means a vote was cast outside the voting window.
	ErrProposalNotActive = errors.New("proposal not active")

	// ErrNoSnapshotWeight means the holder had no balance at snapshot time.
	ErrNoSnapshotWeight = errors.New("no voting weight at snapshot")

	// ErrInvalidAmount rejects non-positive or otherwise malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidState guards ledger invariants and state-machine
	// transitions. Never retried.
	ErrInvalidState = errors.New("invalid state")

	// ErrRevertedTx means the chain definitively rejected the submission.
	ErrRevertedTx = errors.New("external transaction reverted")

	// ErrAlreadySettled means the ledger debit for a claim was applied by
	// an earlier attempt. Safe to treat as success when re-driving a
	// claim after a crash.
	ErrAlreadySettled = errors.New("claim already settled")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// SubmissionError wraps a transient failure talking to the chain node.
// The settlement coordinator retries these with bounded backoff.
type SubmissionError struct {
	Op  string // "submit" or "poll"
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("chain %s failed: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable submission failure.
func IsTransient(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}
