package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sonicvault/vaultd/common/db"
	"github.com/sonicvault/vaultd/common/models"
)

// ClaimRepository persists claim settlement records. State transitions
// are guarded UPDATEs keyed on the prior state, so duplicate deliveries
// and crashed replays collapse into no-ops.
type ClaimRepository struct {
	db *db.DB
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(database *db.DB) *ClaimRepository {
	return &ClaimRepository{db: database}
}

const claimColumns = `claim_id, client_request_id, vault_id, holder_id, requested_amount,
		mode, state, external_tx_ref, conversion_price, failure_reason, created_at, resolved_at`

// Create inserts a new claim request in REQUESTED state
func (r *ClaimRepository) Create(ctx context.Context, claim *models.ClaimRequest) error {
	query := `
		INSERT INTO claim_request (claim_id, client_request_id, vault_id, holder_id,
			requested_amount, mode, state, conversion_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		claim.ClaimID,
		claim.ClientRequestID,
		claim.VaultID,
		claim.HolderID,
		claim.RequestedAmount,
		claim.Mode,
		claim.State,
		claim.ConversionPrice,
		claim.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}

	return nil
}

// GetByID retrieves a claim by its ID
func (r *ClaimRepository) GetByID(ctx context.Context, claimID uuid.UUID) (*models.ClaimRequest, error) {
	query := `
		SELECT ` + claimColumns + `
		FROM claim_request
		WHERE claim_id = $1
	`

	return r.scanOne(r.db.QueryRow(ctx, query, claimID))
}

// GetByIdempotencyKey retrieves a claim by its caller-supplied key.
// Returns models.ErrNotFound when no claim has used the key.
func (r *ClaimRepository) GetByIdempotencyKey(ctx context.Context, vaultID uuid.UUID, holderID, clientRequestID string) (*models.ClaimRequest, error) {
	query := `
		SELECT ` + claimColumns + `
		FROM claim_request
		WHERE vault_id = $1 AND holder_id = $2 AND client_request_id = $3
	`

	return r.scanOne(r.db.QueryRow(ctx, query, vaultID, holderID, clientRequestID))
}

// Transition moves a claim between non-terminal states. The update is
// guarded on the prior state; zero rows affected means the claim was not
// where the caller thought it was.
func (r *ClaimRepository) Transition(ctx context.Context, claimID uuid.UUID, from, to models.ClaimState) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: claim transition %s -> %s", models.ErrInvalidState, from, to)
	}

	query := `
		UPDATE claim_request
		SET state = $3
		WHERE claim_id = $1 AND state = $2
	`

	tag, err := r.db.Exec(ctx, query, claimID, from, to)
	if err != nil {
		return fmt.Errorf("failed to transition claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: claim %s not in state %s", models.ErrInvalidState, claimID, from)
	}

	return nil
}

// MarkSubmitted records the external transaction reference and moves the
// claim to SUBMITTED in one statement. The reference lands durably
// before the first confirmation poll, so a crash here leaves a
// recoverable row instead of a lost submission.
func (r *ClaimRepository) MarkSubmitted(ctx context.Context, claimID uuid.UUID, txRef string) error {
	query := `
		UPDATE claim_request
		SET state = $3, external_tx_ref = $4
		WHERE claim_id = $1 AND state = $2
	`

	tag, err := r.db.Exec(ctx, query, claimID, models.ClaimReserved, models.ClaimSubmitted, txRef)
	if err != nil {
		return fmt.Errorf("failed to mark claim submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: claim %s not in state %s", models.ErrInvalidState, claimID, models.ClaimReserved)
	}

	return nil
}

// Resolve moves a claim to a terminal state and stamps resolved_at.
// Terminal rows are immutable; resolving an already-terminal claim
// affects zero rows and reports ErrInvalidState.
func (r *ClaimRepository) Resolve(ctx context.Context, claimID uuid.UUID, from models.ClaimState, to models.ClaimState, failureReason string) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal claim state", models.ErrInvalidState, to)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: claim transition %s -> %s", models.ErrInvalidState, from, to)
	}

	var reason *string
	if failureReason != "" {
		reason = &failureReason
	}

	query := `
		UPDATE claim_request
		SET state = $3, failure_reason = $4, resolved_at = now()
		WHERE claim_id = $1 AND state = $2
	`

	tag, err := r.db.Exec(ctx, query, claimID, from, to, reason)
	if err != nil {
		return fmt.Errorf("failed to resolve claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: claim %s not in state %s", models.ErrInvalidState, claimID, from)
	}

	return nil
}

// ListInState retrieves claims stuck in a state longer than the cutoff,
// oldest first. The reconciler uses this to recover in-flight
// settlements after a crash.
func (r *ClaimRepository) ListInState(ctx context.Context, state models.ClaimState, olderThan time.Time, limit int) ([]*models.ClaimRequest, error) {
	query := `
		SELECT ` + claimColumns + `
		FROM claim_request
		WHERE state = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, state, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []*models.ClaimRequest
	for rows.Next() {
		claim, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claims: %w", err)
	}

	return claims, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ClaimRepository) scanOne(row rowScanner) (*models.ClaimRequest, error) {
	claim := &models.ClaimRequest{}
	err := row.Scan(
		&claim.ClaimID,
		&claim.ClientRequestID,
		&claim.VaultID,
		&claim.HolderID,
		&claim.RequestedAmount,
		&claim.Mode,
		&claim.State,
		&claim.ExternalTxRef,
		&claim.ConversionPrice,
		&claim.FailureReason,
		&claim.CreatedAt,
		&claim.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan claim: %w", err)
	}
	return claim, nil
}
