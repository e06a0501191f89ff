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

// VoteRepository handles ballot storage and proposal aggregate upkeep
type VoteRepository struct {
	db *db.DB
}

// NewVoteRepository creates a new vote repository
func NewVoteRepository(database *db.DB) *VoteRepository {
	return &VoteRepository{db: database}
}

// Get retrieves a holder's vote on a proposal
func (r *VoteRepository) Get(ctx context.Context, proposalID uuid.UUID, holderID string) (*models.Vote, error) {
	query := `
		SELECT proposal_id, holder_id, choice, weight, cast_at
		FROM vote
		WHERE proposal_id = $1 AND holder_id = $2
	`

	vote := &models.Vote{}
	err := r.db.QueryRow(ctx, query, proposalID, holderID).Scan(
		&vote.ProposalID,
		&vote.HolderID,
		&vote.Choice,
		&vote.Weight,
		&vote.CastAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vote: %w", err)
	}

	return vote, nil
}

// Apply upserts a ballot and reconciles the proposal aggregates in one
// transaction. A re-cast subtracts the old weight from the old choice and
// adds the new weight to the new choice as atomic increments, so a holder
// is never double-counted and concurrent ballots from different holders
// never lose updates.
func (r *VoteRepository) Apply(ctx context.Context, vote *models.Vote) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin vote transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock this holder's ballot row so a concurrent re-cast from the
	// same holder serializes here, not on the proposal.
	var prevChoice models.VoteChoice
	var prevWeight int64
	err = tx.QueryRow(ctx, `
		SELECT choice, weight
		FROM vote
		WHERE proposal_id = $1 AND holder_id = $2
		FOR UPDATE
	`, vote.ProposalID, vote.HolderID).Scan(&prevChoice, &prevWeight)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First ballot from this holder
		_, err = tx.Exec(ctx, `
			INSERT INTO vote (proposal_id, holder_id, choice, weight, cast_at)
			VALUES ($1, $2, $3, $4, $5)
		`, vote.ProposalID, vote.HolderID, vote.Choice, vote.Weight, vote.CastAt)
		if err != nil {
			return fmt.Errorf("failed to insert vote: %w", err)
		}

		if err := r.adjustAggregate(ctx, tx, vote.ProposalID, vote.Choice, vote.Weight); err != nil {
			return err
		}

	case err != nil:
		return fmt.Errorf("failed to read prior vote: %w", err)

	case prevChoice == vote.Choice:
		// Same choice re-cast: refresh the timestamp, aggregates unchanged
		_, err = tx.Exec(ctx, `
			UPDATE vote SET cast_at = $3
			WHERE proposal_id = $1 AND holder_id = $2
		`, vote.ProposalID, vote.HolderID, vote.CastAt)
		if err != nil {
			return fmt.Errorf("failed to refresh vote: %w", err)
		}

	default:
		// Replace-on-resubmit: move the snapshot weight between choices
		_, err = tx.Exec(ctx, `
			UPDATE vote SET choice = $3, cast_at = $4
			WHERE proposal_id = $1 AND holder_id = $2
		`, vote.ProposalID, vote.HolderID, vote.Choice, vote.CastAt)
		if err != nil {
			return fmt.Errorf("failed to update vote: %w", err)
		}

		if err := r.adjustAggregate(ctx, tx, vote.ProposalID, prevChoice, -prevWeight); err != nil {
			return err
		}
		if err := r.adjustAggregate(ctx, tx, vote.ProposalID, vote.Choice, prevWeight); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit vote: %w", err)
	}

	return nil
}

// adjustAggregate applies a single atomic increment or decrement to one
// choice column of the proposal aggregates.
func (r *VoteRepository) adjustAggregate(ctx context.Context, tx pgx.Tx, proposalID uuid.UUID, choice models.VoteChoice, delta int64) error {
	var column string
	switch choice {
	case models.VoteFor:
		column = "votes_for"
	case models.VoteAgainst:
		column = "votes_against"
	case models.VoteAbstain:
		column = "votes_abstain"
	default:
		return fmt.Errorf("%w: unknown vote choice %q", models.ErrInvalidState, choice)
	}

	query := fmt.Sprintf(`
		UPDATE proposal
		SET %s = %s + $2
		WHERE proposal_id = $1
	`, column, column)

	if _, err := tx.Exec(ctx, query, proposalID, delta); err != nil {
		return fmt.Errorf("failed to adjust %s: %w", column, err)
	}

	return nil
}
