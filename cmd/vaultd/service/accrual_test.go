package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicvault/vaultd/common/models"
)

type noopLogger struct{}

func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Debug(string, ...interface{}) {}

type fakePositions struct {
	positions map[string]*models.HolderPosition
}

func positionKey(vaultID uuid.UUID, holderID string) string {
	return vaultID.String() + "/" + holderID
}

func newFakePositions(positions ...*models.HolderPosition) *fakePositions {
	f := &fakePositions{positions: make(map[string]*models.HolderPosition)}
	for _, p := range positions {
		f.positions[positionKey(p.VaultID, p.HolderID)] = p
	}
	return f
}

func (f *fakePositions) GetPosition(_ context.Context, vaultID uuid.UUID, holderID string) (*models.HolderPosition, error) {
	pos, ok := f.positions[positionKey(vaultID, holderID)]
	if !ok {
		pos = &models.HolderPosition{VaultID: vaultID, HolderID: holderID, LastCheckpoint: time.Now()}
		f.positions[positionKey(vaultID, holderID)] = pos
	}
	copied := *pos
	return &copied, nil
}

func (f *fakePositions) ApplyAccrual(_ context.Context, vaultID uuid.UUID, holderID string, delta int64, checkpoint time.Time) (*models.HolderPosition, error) {
	pos := f.positions[positionKey(vaultID, holderID)]
	pos.AccruedYield += delta
	pos.LastCheckpoint = checkpoint
	copied := *pos
	return &copied, nil
}

func testVault(rate int64) *models.Vault {
	return &models.Vault{
		VaultID:           uuid.New(),
		Symbol:            "NEON",
		TotalSupply:       10_000 * models.MicroUnit,
		CirculatingSupply: 2_000 * models.MicroUnit,
		Params: models.AccrualParams{
			Rate:     rate,
			Protocol: models.ProtocolCetus,
		},
		CurveBasePrice: models.MicroUnit,
		CurveSlope:     500,
	}
}

func TestAccrualDeltaSevenDays(t *testing.T) {
	// 500 tokens at 0.2 settlement units per token per day earns
	// 100 units a day, 700 after a week.
	balance := int64(500 * models.MicroUnit)
	rate := int64(200_000)
	from := time.Now().Add(-7 * 24 * time.Hour)

	delta := AccrualDelta(balance, rate, from, time.Now())
	assert.Equal(t, int64(700*models.MicroUnit), delta)
}

func TestAccrualDeltaPartialDayEarnsNothing(t *testing.T) {
	balance := int64(500 * models.MicroUnit)
	from := time.Now().Add(-23 * time.Hour)

	assert.Zero(t, AccrualDelta(balance, 200_000, from, time.Now()))
}

func TestAccrualDeltaMonotonic(t *testing.T) {
	balance := int64(500 * models.MicroUnit)
	now := time.Now()

	var prev int64
	for days := int64(1); days <= 30; days++ {
		delta := AccrualDelta(balance, 200_000, now.Add(-time.Duration(days)*24*time.Hour), now)
		assert.Greater(t, delta, prev, "day %d", days)
		prev = delta
	}
}

func TestAccrualDeltaZeroBalanceOrRate(t *testing.T) {
	from := time.Now().Add(-10 * 24 * time.Hour)

	assert.Zero(t, AccrualDelta(0, 200_000, from, time.Now()))
	assert.Zero(t, AccrualDelta(500*models.MicroUnit, 0, from, time.Now()))
}

func TestBringCurrentKeepsFractionalRemainder(t *testing.T) {
	vault := testVault(200_000)
	start := time.Now().Add(-36 * time.Hour)
	pos := &models.HolderPosition{
		VaultID:        vault.VaultID,
		HolderID:       "holder-1",
		TokenBalance:   500 * models.MicroUnit,
		LastCheckpoint: start,
	}
	positions := newFakePositions(pos)
	svc := NewAccrualService(positions, noopLogger{})

	updated, err := svc.BringCurrent(context.Background(), vault, vault.VaultID, "holder-1")
	require.NoError(t, err)

	// 36h is one whole day; the checkpoint advances 24h, leaving 12h
	// still earning toward the next day.
	assert.Equal(t, int64(100*models.MicroUnit), updated.AccruedYield)
	assert.WithinDuration(t, start.Add(24*time.Hour), updated.LastCheckpoint, time.Second)
}

func TestBringCurrentNoopWhenCurrent(t *testing.T) {
	vault := testVault(200_000)
	pos := &models.HolderPosition{
		VaultID:        vault.VaultID,
		HolderID:       "holder-1",
		TokenBalance:   500 * models.MicroUnit,
		AccruedYield:   42,
		LastCheckpoint: time.Now().Add(-time.Hour),
	}
	positions := newFakePositions(pos)
	svc := NewAccrualService(positions, noopLogger{})

	updated, err := svc.BringCurrent(context.Background(), vault, vault.VaultID, "holder-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), updated.AccruedYield)
}
