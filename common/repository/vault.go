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

// VaultRepository handles database operations for vaults
type VaultRepository struct {
	db *db.DB
}

// NewVaultRepository creates a new vault repository
func NewVaultRepository(database *db.DB) *VaultRepository {
	return &VaultRepository{db: database}
}

const vaultColumns = `vault_id, name, symbol, artist, protocol, total_supply, circulating_supply,
		accrual_rate, compounding, claim_policy, curve_base_price, curve_slope, fee_bps,
		quorum_threshold, investor_count, created_at, updated_at`

// Create inserts a new vault at launch
func (r *VaultRepository) Create(ctx context.Context, vault *models.Vault) error {
	query := `
		INSERT INTO vault (vault_id, name, symbol, artist, protocol, total_supply,
			circulating_supply, accrual_rate, compounding, claim_policy,
			curve_base_price, curve_slope, fee_bps, quorum_threshold, investor_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		vault.VaultID,
		vault.Name,
		vault.Symbol,
		vault.Artist,
		vault.Params.Protocol,
		vault.TotalSupply,
		vault.CirculatingSupply,
		vault.Params.Rate,
		vault.Params.Compounding,
		vault.ClaimPolicy,
		vault.CurveBasePrice,
		vault.CurveSlope,
		vault.Params.FeeBps,
		vault.Params.Quorum,
		vault.InvestorCount,
	)

	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}

	return nil
}

// GetByID retrieves a vault by its ID
func (r *VaultRepository) GetByID(ctx context.Context, vaultID uuid.UUID) (*models.Vault, error) {
	query := `
		SELECT ` + vaultColumns + `
		FROM vault
		WHERE vault_id = $1
	`

	return r.scanOne(r.db.QueryRow(ctx, query, vaultID))
}

// List retrieves all vaults, newest first
func (r *VaultRepository) List(ctx context.Context, limit int) ([]*models.Vault, error) {
	query := `
		SELECT ` + vaultColumns + `
		FROM vault
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list vaults: %w", err)
	}
	defer rows.Close()

	var vaults []*models.Vault
	for rows.Next() {
		vault, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		vaults = append(vaults, vault)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vaults: %w", err)
	}

	return vaults, nil
}

// UpdateParams persists governance-approved accrual parameter changes.
// This is the only mutation path for vault parameters.
func (r *VaultRepository) UpdateParams(ctx context.Context, vaultID uuid.UUID, params models.AccrualParams) error {
	query := `
		UPDATE vault
		SET accrual_rate = $2,
		    protocol = $3,
		    compounding = $4,
		    quorum_threshold = $5,
		    fee_bps = $6,
		    updated_at = now()
		WHERE vault_id = $1
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		vaultID,
		params.Rate,
		params.Protocol,
		params.Compounding,
		params.Quorum,
		params.FeeBps,
	)
	if err != nil {
		return fmt.Errorf("failed to update vault params: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *VaultRepository) scanOne(row rowScanner) (*models.Vault, error) {
	vault := &models.Vault{}
	err := row.Scan(
		&vault.VaultID,
		&vault.Name,
		&vault.Symbol,
		&vault.Artist,
		&vault.Params.Protocol,
		&vault.TotalSupply,
		&vault.CirculatingSupply,
		&vault.Params.Rate,
		&vault.Params.Compounding,
		&vault.ClaimPolicy,
		&vault.CurveBasePrice,
		&vault.CurveSlope,
		&vault.Params.FeeBps,
		&vault.Params.Quorum,
		&vault.InvestorCount,
		&vault.CreatedAt,
		&vault.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan vault: %w", err)
	}
	return vault, nil
}
