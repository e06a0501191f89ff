package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sonicvault/vaultd/common/db"
	"github.com/sonicvault/vaultd/common/models"
)

// ProposalRepository handles database operations for governance proposals
type ProposalRepository struct {
	db *db.DB
}

// NewProposalRepository creates a new proposal repository
func NewProposalRepository(database *db.DB) *ProposalRepository {
	return &ProposalRepository{db: database}
}

const proposalColumns = `proposal_id, vault_id, client_request_id, title, description, proposer,
		params_patch, snapshot_at, status, quorum_threshold, votes_for, votes_against,
		votes_abstain, end_time, created_at`

// CreateWithSnapshot inserts the proposal and captures every positive
// token balance of the vault as snapshot weight, in one transaction.
// Voting weight resolves against this snapshot forever after, never the
// live ledger.
func (r *ProposalRepository) CreateWithSnapshot(ctx context.Context, proposal *models.Proposal) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin proposal transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO proposal (proposal_id, vault_id, client_request_id, title, description,
			proposer, params_patch, snapshot_at, status, quorum_threshold, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		proposal.ProposalID,
		proposal.VaultID,
		proposal.ClientRequestID,
		proposal.Title,
		proposal.Description,
		proposal.Proposer,
		proposal.ParamsPatch,
		proposal.SnapshotAt,
		proposal.Status,
		proposal.QuorumThreshold,
		proposal.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO snapshot_weight (proposal_id, holder_id, weight)
		SELECT $1, holder_id, token_balance
		FROM holder_position
		WHERE vault_id = $2 AND token_balance > 0
	`, proposal.ProposalID, proposal.VaultID)
	if err != nil {
		return fmt.Errorf("failed to capture snapshot weights: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit proposal: %w", err)
	}

	return nil
}

// GetByID retrieves a proposal by its ID
func (r *ProposalRepository) GetByID(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	query := `
		SELECT ` + proposalColumns + `
		FROM proposal
		WHERE proposal_id = $1
	`

	return r.scanOne(r.db.QueryRow(ctx, query, proposalID))
}

// GetByClientRequestID retrieves a proposal by its caller-supplied
// idempotency key, scoped to one vault.
func (r *ProposalRepository) GetByClientRequestID(ctx context.Context, vaultID uuid.UUID, clientRequestID string) (*models.Proposal, error) {
	query := `
		SELECT ` + proposalColumns + `
		FROM proposal
		WHERE vault_id = $1 AND client_request_id = $2
	`

	return r.scanOne(r.db.QueryRow(ctx, query, vaultID, clientRequestID))
}

// ListByVault retrieves proposals for a vault, optionally filtered by
// status, newest first with offset pagination.
func (r *ProposalRepository) ListByVault(ctx context.Context, vaultID uuid.UUID, status models.ProposalStatus, limit, offset int) ([]*models.Proposal, error) {
	query := `
		SELECT ` + proposalColumns + `
		FROM proposal
		WHERE vault_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, vaultID, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*models.Proposal
	for rows.Next() {
		proposal, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proposals: %w", err)
	}

	return proposals, nil
}

// SnapshotWeight returns a holder's voting weight captured at proposal
// creation. Returns models.ErrNoSnapshotWeight if the holder held no
// tokens at snapshot time.
func (r *ProposalRepository) SnapshotWeight(ctx context.Context, proposalID uuid.UUID, holderID string) (int64, error) {
	query := `
		SELECT weight
		FROM snapshot_weight
		WHERE proposal_id = $1 AND holder_id = $2
	`

	var weight int64
	err := r.db.QueryRow(ctx, query, proposalID, holderID).Scan(&weight)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrNoSnapshotWeight
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot weight: %w", err)
	}

	return weight, nil
}

// Finalize moves an active proposal to a terminal status. Guarded on the
// active state so repeated finalization affects zero rows; the caller
// treats that as the idempotent no-op case.
func (r *ProposalRepository) Finalize(ctx context.Context, proposalID uuid.UUID, to models.ProposalStatus) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("%w: %s is not a terminal proposal status", models.ErrInvalidState, to)
	}

	query := `
		UPDATE proposal
		SET status = $3
		WHERE proposal_id = $1 AND status = $2
	`

	tag, err := r.db.Exec(ctx, query, proposalID, models.ProposalActive, to)
	if err != nil {
		return false, fmt.Errorf("failed to finalize proposal: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *ProposalRepository) scanOne(row rowScanner) (*models.Proposal, error) {
	proposal := &models.Proposal{}
	err := row.Scan(
		&proposal.ProposalID,
		&proposal.VaultID,
		&proposal.ClientRequestID,
		&proposal.Title,
		&proposal.Description,
		&proposal.Proposer,
		&proposal.ParamsPatch,
		&proposal.SnapshotAt,
		&proposal.Status,
		&proposal.QuorumThreshold,
		&proposal.VotesFor,
		&proposal.VotesAgainst,
		&proposal.VotesAbstain,
		&proposal.EndTime,
		&proposal.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan proposal: %w", err)
	}
	return proposal, nil
}
