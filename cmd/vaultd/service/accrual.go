package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/sonicvault/vaultd/common/models"
)

// PositionStore is the slice of the position repository the accrual
// service needs.
type PositionStore interface {
	GetPosition(ctx context.Context, vaultID uuid.UUID, holderID string) (*models.HolderPosition, error)
	ApplyAccrual(ctx context.Context, vaultID uuid.UUID, holderID string, delta int64, checkpoint time.Time) (*models.HolderPosition, error)
}

// AccrualService computes and persists yield accrual. Accrual is lazy:
// positions are brought current when they are read, never by a
// background sweep, so a position that is never touched costs nothing.
type AccrualService struct {
	positions PositionStore
	logger    Logger
	now       func() time.Time
}

// NewAccrualService creates an accrual service
func NewAccrualService(positions PositionStore, logger Logger) *AccrualService {
	return &AccrualService{
		positions: positions,
		logger:    logger,
		now:       time.Now,
	}
}

// AccrualDelta computes yield earned by a token balance over whole days
// at the given rate. Rate is micro-units of settlement currency per
// token per day; partial days earn nothing until they complete. The
// product is taken in arbitrary precision so large balances over long
// windows cannot overflow.
func AccrualDelta(balance, rate int64, from, to time.Time) int64 {
	if balance <= 0 || rate <= 0 {
		return 0
	}
	elapsed := to.Sub(from)
	if elapsed < 24*time.Hour {
		return 0
	}
	days := int64(elapsed.Hours() / 24)

	delta := new(big.Int).Mul(big.NewInt(balance), big.NewInt(rate))
	delta.Mul(delta, big.NewInt(days))
	delta.Div(delta, big.NewInt(models.MicroUnit))
	return delta.Int64()
}

// BringCurrent accrues any yield owed to the position since its last
// checkpoint and persists the new checkpoint. The checkpoint advances by
// whole days only, so the fractional remainder keeps earning toward the
// next day.
func (s *AccrualService) BringCurrent(ctx context.Context, vault *models.Vault, vaultID uuid.UUID, holderID string) (*models.HolderPosition, error) {
	pos, err := s.positions.GetPosition(ctx, vaultID, holderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}

	now := s.now()
	delta := AccrualDelta(pos.TokenBalance, vault.Params.Rate, pos.LastCheckpoint, now)
	if delta == 0 {
		return pos, nil
	}

	days := int64(now.Sub(pos.LastCheckpoint).Hours() / 24)
	checkpoint := pos.LastCheckpoint.Add(time.Duration(days) * 24 * time.Hour)

	updated, err := s.positions.ApplyAccrual(ctx, vaultID, holderID, delta, checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to persist accrual: %w", err)
	}

	s.logger.Debug("position brought current",
		"vault_id", vaultID, "holder_id", holderID, "delta", delta, "days", days)

	return updated, nil
}
