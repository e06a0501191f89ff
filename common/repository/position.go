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

// PositionRepository is the entitlement ledger: the single source of
// truth for token balances and accrued yield. Balances are mutated only
// through settlement and governance-approved parameter changes.
type PositionRepository struct {
	db *db.DB
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(database *db.DB) *PositionRepository {
	return &PositionRepository{db: database}
}

const positionColumns = `vault_id, holder_id, token_balance, accrued_yield, last_checkpoint, pending_claim_id`

// GetPosition retrieves a holder's position, creating a zeroed row on
// first read. A zeroed row never fabricates balance; it only gives the
// holder a checkpoint to accrue from once they hold tokens.
func (r *PositionRepository) GetPosition(ctx context.Context, vaultID uuid.UUID, holderID string) (*models.HolderPosition, error) {
	insert := `
		INSERT INTO holder_position (vault_id, holder_id, token_balance, accrued_yield, last_checkpoint)
		VALUES ($1, $2, 0, 0, now())
		ON CONFLICT (vault_id, holder_id) DO NOTHING
	`

	if _, err := r.db.Exec(ctx, insert, vaultID, holderID); err != nil {
		return nil, fmt.Errorf("failed to ensure position row: %w", err)
	}

	query := `
		SELECT ` + positionColumns + `
		FROM holder_position
		WHERE vault_id = $1 AND holder_id = $2
	`

	pos := &models.HolderPosition{}
	err := r.db.QueryRow(ctx, query, vaultID, holderID).Scan(
		&pos.VaultID,
		&pos.HolderID,
		&pos.TokenBalance,
		&pos.AccruedYield,
		&pos.LastCheckpoint,
		&pos.PendingClaimID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	return pos, nil
}

// ListByHolder retrieves all positions a holder has across vaults
func (r *PositionRepository) ListByHolder(ctx context.Context, holderID string) ([]*models.HolderPosition, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM holder_position
		WHERE holder_id = $1
		ORDER BY vault_id
	`

	rows, err := r.db.Query(ctx, query, holderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.HolderPosition
	for rows.Next() {
		pos := &models.HolderPosition{}
		err := rows.Scan(
			&pos.VaultID,
			&pos.HolderID,
			&pos.TokenBalance,
			&pos.AccruedYield,
			&pos.LastCheckpoint,
			&pos.PendingClaimID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// ApplyAccrual adds newly accrued yield and advances the checkpoint.
// Negative deltas violate the accrual invariant and are rejected.
func (r *PositionRepository) ApplyAccrual(ctx context.Context, vaultID uuid.UUID, holderID string, delta int64, checkpoint time.Time) (*models.HolderPosition, error) {
	if delta < 0 {
		return nil, fmt.Errorf("%w: negative accrual delta %d", models.ErrInvalidState, delta)
	}

	query := `
		UPDATE holder_position
		SET accrued_yield = accrued_yield + $3,
		    last_checkpoint = $4
		WHERE vault_id = $1 AND holder_id = $2
		RETURNING ` + positionColumns + `
	`

	pos := &models.HolderPosition{}
	err := r.db.QueryRow(ctx, query, vaultID, holderID, delta, checkpoint).Scan(
		&pos.VaultID,
		&pos.HolderID,
		&pos.TokenBalance,
		&pos.AccruedYield,
		&pos.LastCheckpoint,
		&pos.PendingClaimID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply accrual: %w", err)
	}

	return pos, nil
}

// ReserveClaim atomically sets the pending claim for a position, only if
// no claim is currently pending. This compare-and-set is the sole
// concurrency gate serializing claims per (vault, holder); it never
// blocks waiting on the external transaction.
func (r *PositionRepository) ReserveClaim(ctx context.Context, vaultID uuid.UUID, holderID string, claimID uuid.UUID) error {
	query := `
		UPDATE holder_position
		SET pending_claim_id = $3
		WHERE vault_id = $1 AND holder_id = $2 AND pending_claim_id IS NULL
	`

	tag, err := r.db.Exec(ctx, query, vaultID, holderID, claimID)
	if err != nil {
		return fmt.Errorf("failed to reserve claim: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrClaimAlreadyPending
	}

	return nil
}

// SettleSuccess debits the ledger for a confirmed claim and clears the
// reservation, in one transaction. tokensOut is non-zero only for
// compound mode. Every debit is guarded so a balance can never go
// negative; a guard miss is classified as either a replay of an applied
// settlement (ErrAlreadySettled) or an entitlement shortfall.
func (r *PositionRepository) SettleSuccess(ctx context.Context, claim *models.ClaimRequest, tokensOut int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin settle transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var tag interface{ RowsAffected() int64 }

	switch claim.Mode {
	case models.ModeClaim:
		tag, err = tx.Exec(ctx, `
			UPDATE holder_position
			SET accrued_yield = accrued_yield - $4,
			    pending_claim_id = NULL
			WHERE vault_id = $1 AND holder_id = $2
			  AND pending_claim_id = $3
			  AND accrued_yield >= $4
		`, claim.VaultID, claim.HolderID, claim.ClaimID, claim.RequestedAmount)

	case models.ModeCompound:
		tag, err = tx.Exec(ctx, `
			UPDATE holder_position
			SET accrued_yield = accrued_yield - $4,
			    token_balance = token_balance + $5,
			    pending_claim_id = NULL
			WHERE vault_id = $1 AND holder_id = $2
			  AND pending_claim_id = $3
			  AND accrued_yield >= $4
		`, claim.VaultID, claim.HolderID, claim.ClaimID, claim.RequestedAmount, tokensOut)

	case models.ModeWithdraw:
		tag, err = tx.Exec(ctx, `
			UPDATE holder_position
			SET token_balance = token_balance - $4,
			    pending_claim_id = NULL
			WHERE vault_id = $1 AND holder_id = $2
			  AND pending_claim_id = $3
			  AND token_balance >= $4
		`, claim.VaultID, claim.HolderID, claim.ClaimID, claim.RequestedAmount)

	default:
		return fmt.Errorf("%w: unknown claim mode %q", models.ErrInvalidState, claim.Mode)
	}

	if err != nil {
		return fmt.Errorf("failed to settle claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyGuardMiss(ctx, tx, claim)
	}

	// Minting compounded tokens grows circulating supply; supply moves
	// only on the contract-confirmed settlement path, bounded by the
	// vault's total supply.
	if claim.Mode == models.ModeCompound {
		supplyTag, err := tx.Exec(ctx, `
			UPDATE vault
			SET circulating_supply = circulating_supply + $2,
			    updated_at = now()
			WHERE vault_id = $1 AND circulating_supply + $2 <= total_supply
		`, claim.VaultID, tokensOut)
		if err != nil {
			return fmt.Errorf("failed to mint compounded supply: %w", err)
		}
		if supplyTag.RowsAffected() == 0 {
			return fmt.Errorf("%w: supply cap rejected compound claim %s", models.ErrInvalidState, claim.ClaimID)
		}
	}

	// Burning principal shrinks circulating supply symmetrically.
	if claim.Mode == models.ModeWithdraw {
		supplyTag, err := tx.Exec(ctx, `
			UPDATE vault
			SET circulating_supply = circulating_supply - $2,
			    updated_at = now()
			WHERE vault_id = $1 AND circulating_supply >= $2
		`, claim.VaultID, claim.RequestedAmount)
		if err != nil {
			return fmt.Errorf("failed to burn supply: %w", err)
		}
		if supplyTag.RowsAffected() == 0 {
			return fmt.Errorf("%w: supply burn guard rejected claim %s", models.ErrInvalidState, claim.ClaimID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}

	return nil
}

// classifyGuardMiss tells a stale replay apart from a broken invariant
// when the settle UPDATE matched no row. A claim that no longer holds
// the reservation was settled by an earlier attempt; a claim that still
// holds it was rejected by the balance guard, and that must surface as
// an entitlement failure rather than a silent no-op.
func (r *PositionRepository) classifyGuardMiss(ctx context.Context, tx pgx.Tx, claim *models.ClaimRequest) error {
	var pending *uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT pending_claim_id
		FROM holder_position
		WHERE vault_id = $1 AND holder_id = $2
	`, claim.VaultID, claim.HolderID).Scan(&pending)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to inspect reservation for claim %s: %w", claim.ClaimID, err)
	}

	if pending != nil && *pending == claim.ClaimID {
		return fmt.Errorf("%w: ledger cannot cover claim %s", models.ErrInsufficientEntitlement, claim.ClaimID)
	}

	return fmt.Errorf("%w: claim %s no longer holds its reservation", models.ErrAlreadySettled, claim.ClaimID)
}

// SettleFailure releases the reservation without touching balances,
// restoring claimability after a failed settlement.
func (r *PositionRepository) SettleFailure(ctx context.Context, claim *models.ClaimRequest) error {
	query := `
		UPDATE holder_position
		SET pending_claim_id = NULL
		WHERE vault_id = $1 AND holder_id = $2 AND pending_claim_id = $3
	`

	_, err := r.db.Exec(ctx, query, claim.VaultID, claim.HolderID, claim.ClaimID)
	if err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}

	return nil
}

// CreditTokens adds tokens to a position (vault launch allocations and
// development seeding).
func (r *PositionRepository) CreditTokens(ctx context.Context, vaultID uuid.UUID, holderID string, amount int64) error {
	if amount <= 0 {
		return models.ErrInvalidAmount
	}

	query := `
		INSERT INTO holder_position (vault_id, holder_id, token_balance, accrued_yield, last_checkpoint)
		VALUES ($1, $2, $3, 0, now())
		ON CONFLICT (vault_id, holder_id)
		DO UPDATE SET token_balance = holder_position.token_balance + $3
	`

	if _, err := r.db.Exec(ctx, query, vaultID, holderID, amount); err != nil {
		return fmt.Errorf("failed to credit tokens: %w", err)
	}

	return nil
}
