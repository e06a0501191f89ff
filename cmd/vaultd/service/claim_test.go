package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicvault/vaultd/common/curve"
	"github.com/sonicvault/vaultd/common/models"
)

type fakeCache struct {
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	delete(c.data, key)
	return nil
}

func (c *fakeCache) Close() error { return nil }

type fakeVaultStore struct {
	vaults map[uuid.UUID]*models.Vault
}

func newFakeVaultStore(vaults ...*models.Vault) *fakeVaultStore {
	s := &fakeVaultStore{vaults: make(map[uuid.UUID]*models.Vault)}
	for _, v := range vaults {
		s.vaults[v.VaultID] = v
	}
	return s
}

func (s *fakeVaultStore) Create(_ context.Context, vault *models.Vault) error {
	s.vaults[vault.VaultID] = vault
	return nil
}

func (s *fakeVaultStore) GetByID(_ context.Context, vaultID uuid.UUID) (*models.Vault, error) {
	vault, ok := s.vaults[vaultID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *vault
	return &copied, nil
}

func (s *fakeVaultStore) List(_ context.Context, _ int) ([]*models.Vault, error) {
	out := make([]*models.Vault, 0, len(s.vaults))
	for _, v := range s.vaults {
		copied := *v
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeVaultStore) UpdateParams(_ context.Context, vaultID uuid.UUID, params models.AccrualParams) error {
	vault, ok := s.vaults[vaultID]
	if !ok {
		return models.ErrNotFound
	}
	vault.Params = params
	return nil
}

type fakeClaimStore struct {
	byID  map[uuid.UUID]*models.ClaimRequest
	byKey map[string]uuid.UUID
}

func newFakeClaimStore() *fakeClaimStore {
	return &fakeClaimStore{
		byID:  make(map[uuid.UUID]*models.ClaimRequest),
		byKey: make(map[string]uuid.UUID),
	}
}

func claimKey(vaultID uuid.UUID, holderID, clientRequestID string) string {
	return vaultID.String() + "/" + holderID + "/" + clientRequestID
}

func (s *fakeClaimStore) Create(_ context.Context, claim *models.ClaimRequest) error {
	key := claimKey(claim.VaultID, claim.HolderID, claim.ClientRequestID)
	if _, exists := s.byKey[key]; exists {
		return fmt.Errorf("duplicate key value violates unique constraint")
	}
	copied := *claim
	s.byID[claim.ClaimID] = &copied
	s.byKey[key] = claim.ClaimID
	return nil
}

func (s *fakeClaimStore) GetByID(_ context.Context, claimID uuid.UUID) (*models.ClaimRequest, error) {
	claim, ok := s.byID[claimID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *claim
	return &copied, nil
}

func (s *fakeClaimStore) GetByIdempotencyKey(_ context.Context, vaultID uuid.UUID, holderID, clientRequestID string) (*models.ClaimRequest, error) {
	id, ok := s.byKey[claimKey(vaultID, holderID, clientRequestID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s.byID[id]
	return &copied, nil
}

func (s *fakeClaimStore) Transition(_ context.Context, claimID uuid.UUID, from, to models.ClaimState) error {
	claim, ok := s.byID[claimID]
	if !ok {
		return models.ErrNotFound
	}
	if claim.State != from || !from.CanTransitionTo(to) {
		return models.ErrInvalidState
	}
	claim.State = to
	return nil
}

func (s *fakeClaimStore) Resolve(_ context.Context, claimID uuid.UUID, from, to models.ClaimState, failureReason string) error {
	if err := s.Transition(context.Background(), claimID, from, to); err != nil {
		return err
	}
	if failureReason != "" {
		s.byID[claimID].FailureReason = &failureReason
	}
	return nil
}

type fakeLedgerStore struct {
	*fakePositions

	// onReserve runs inside ReserveClaim before the reservation lands,
	// to interleave a competing settlement with intake.
	onReserve func()
}

func (f *fakeLedgerStore) ListByHolder(_ context.Context, holderID string) ([]*models.HolderPosition, error) {
	var out []*models.HolderPosition
	for _, pos := range f.positions {
		if pos.HolderID == holderID {
			copied := *pos
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeLedgerStore) ReserveClaim(_ context.Context, vaultID uuid.UUID, holderID string, claimID uuid.UUID) error {
	if f.onReserve != nil {
		f.onReserve()
	}
	pos, ok := f.positions[positionKey(vaultID, holderID)]
	if !ok {
		return models.ErrNotFound
	}
	if pos.PendingClaimID != nil {
		return models.ErrClaimAlreadyPending
	}
	id := claimID
	pos.PendingClaimID = &id
	return nil
}

func (f *fakeLedgerStore) SettleFailure(_ context.Context, claim *models.ClaimRequest) error {
	pos, ok := f.positions[positionKey(claim.VaultID, claim.HolderID)]
	if !ok {
		return models.ErrNotFound
	}
	if pos.PendingClaimID != nil && *pos.PendingClaimID == claim.ClaimID {
		pos.PendingClaimID = nil
	}
	return nil
}

type fakeStream struct {
	entries []map[string]interface{}
}

func (s *fakeStream) AddToStream(_ context.Context, _ string, values map[string]interface{}) (string, error) {
	s.entries = append(s.entries, values)
	return fmt.Sprintf("0-%d", len(s.entries)), nil
}

type claimFixture struct {
	svc    *ClaimService
	vault  *models.Vault
	claims *fakeClaimStore
	ledger *fakeLedgerStore
	stream *fakeStream
}

func newClaimFixture(t *testing.T, vault *models.Vault, positions ...*models.HolderPosition) *claimFixture {
	t.Helper()

	vaultStore := newFakeVaultStore(vault)
	ledger := &fakeLedgerStore{fakePositions: newFakePositions(positions...)}
	claims := newFakeClaimStore()
	stream := &fakeStream{}
	policy := NewPolicyEvaluator()

	vaults := NewVaultService(vaultStore, nil, newFakeCache(), policy, noopLogger{})
	accrual := NewAccrualService(ledger, noopLogger{})
	svc := NewClaimService(claims, ledger, vaults, accrual, policy, stream, noopLogger{})

	return &claimFixture{svc: svc, vault: vault, claims: claims, ledger: ledger, stream: stream}
}

func accruedPosition(vaultID uuid.UUID, holderID string, balance, accrued int64) *models.HolderPosition {
	return &models.HolderPosition{
		VaultID:        vaultID,
		HolderID:       holderID,
		TokenBalance:   balance,
		AccruedYield:   accrued,
		LastCheckpoint: time.Now(),
	}
}

func TestRequestReservesAndEnqueues(t *testing.T) {
	vault := testVault(200_000)
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 700*models.MicroUnit))

	claim, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Mode:            models.ModeClaim,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ClaimReserved, claim.State)
	assert.Equal(t, int64(700*models.MicroUnit), claim.RequestedAmount)
	assert.Nil(t, claim.ConversionPrice)

	require.Len(t, fix.stream.entries, 1)
	assert.Equal(t, claim.ClaimID.String(), fix.stream.entries[0]["claim_id"])

	pos, _ := fix.ledger.GetPosition(context.Background(), vault.VaultID, "holder-1")
	require.NotNil(t, pos.PendingClaimID)
	assert.Equal(t, claim.ClaimID, *pos.PendingClaimID)
}

func TestRequestAccruesOnRead(t *testing.T) {
	vault := testVault(200_000)
	pos := accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 0)
	pos.LastCheckpoint = time.Now().Add(-7 * 24 * time.Hour)
	fix := newClaimFixture(t, vault, pos)

	claim, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Mode:            models.ModeClaim,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(700*models.MicroUnit), claim.RequestedAmount)
}

func TestRequestIdempotentReplay(t *testing.T) {
	vault := testVault(200_000)
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 700*models.MicroUnit))

	params := ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Mode:            models.ModeClaim,
	}

	first, err := fix.svc.Request(context.Background(), params)
	require.NoError(t, err)

	second, err := fix.svc.Request(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, first.ClaimID, second.ClaimID)
	assert.Len(t, fix.stream.entries, 1, "replay must not enqueue again")
}

func TestRequestInsufficientEntitlement(t *testing.T) {
	vault := testVault(200_000)
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 100))

	amount := int64(500)
	_, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Amount:          &amount,
		Mode:            models.ModeClaim,
	})
	assert.ErrorIs(t, err, models.ErrInsufficientEntitlement)
	assert.Empty(t, fix.stream.entries)
}

func TestRequestRejectsInvalidAmount(t *testing.T) {
	vault := testVault(200_000)
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 700*models.MicroUnit))

	amount := int64(-5)
	_, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Amount:          &amount,
		Mode:            models.ModeClaim,
	})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-2",
		Mode:            "stake",
	})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestRequestSecondClaimWhilePending(t *testing.T) {
	vault := testVault(200_000)
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 700*models.MicroUnit))

	first, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Mode:            models.ModeClaim,
	})
	require.NoError(t, err)

	_, err = fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-2",
		Mode:            models.ModeClaim,
	})
	assert.ErrorIs(t, err, models.ErrClaimAlreadyPending)

	// The winning reservation is untouched
	stored, err := fix.claims.GetByID(context.Background(), first.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimReserved, stored.State)
	assert.Len(t, fix.stream.entries, 1)
}

func TestRequestRevalidatesAfterReservation(t *testing.T) {
	vault := testVault(200_000)
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 700*models.MicroUnit))

	// A competing settlement drains the entitlement between intake's
	// first read and the reservation landing.
	fix.ledger.onReserve = func() {
		pos := fix.ledger.positions[positionKey(vault.VaultID, "holder-1")]
		pos.AccruedYield = 100
	}

	_, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Mode:            models.ModeClaim,
	})
	assert.ErrorIs(t, err, models.ErrInsufficientEntitlement)
	assert.Empty(t, fix.stream.entries, "stale claim must never reach the settlement stream")

	// The claim is failed and its reservation released
	pos, _ := fix.ledger.GetPosition(context.Background(), vault.VaultID, "holder-1")
	assert.Nil(t, pos.PendingClaimID)
	for _, claim := range fix.claims.byID {
		assert.Equal(t, models.ClaimFailed, claim.State)
	}
}

func TestGetByClientRequestID(t *testing.T) {
	vault := testVault(200_000)
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 700*models.MicroUnit))

	created, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Mode:            models.ModeClaim,
	})
	require.NoError(t, err)

	found, err := fix.svc.GetByClientRequestID(context.Background(), vault.VaultID, "holder-1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, created.ClaimID, found.ClaimID)

	_, err = fix.svc.GetByClientRequestID(context.Background(), vault.VaultID, "holder-1", "req-unknown")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = fix.svc.GetByClientRequestID(context.Background(), vault.VaultID, "holder-1", "")
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestRequestCompoundCapturesConversionPrice(t *testing.T) {
	vault := testVault(200_000)
	vault.Params.Compounding = true
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 700*models.MicroUnit))

	claim, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Mode:            models.ModeCompound,
	})
	require.NoError(t, err)

	want := curve.PriceAt(CurveParams(vault), vault.CirculatingSupply)
	require.NotNil(t, claim.ConversionPrice)
	assert.Equal(t, want, *claim.ConversionPrice)
}

func TestRequestCompoundDisabled(t *testing.T) {
	vault := testVault(200_000)
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 700*models.MicroUnit))

	_, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Mode:            models.ModeCompound,
	})
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestRequestPolicyDenies(t *testing.T) {
	vault := testVault(200_000)
	vault.ClaimPolicy = "amount <= 100"
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 700*models.MicroUnit))

	_, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Mode:            models.ModeClaim,
	})
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Empty(t, fix.stream.entries)
}

func TestRequestWithdrawUsesTokenBalance(t *testing.T) {
	vault := testVault(200_000)
	fix := newClaimFixture(t, vault,
		accruedPosition(vault.VaultID, "holder-1", 500*models.MicroUnit, 0))

	amount := int64(200 * models.MicroUnit)
	claim, err := fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-1",
		ClientRequestID: "req-1",
		Amount:          &amount,
		Mode:            models.ModeWithdraw,
	})
	require.NoError(t, err)
	assert.Equal(t, amount, claim.RequestedAmount)

	over := int64(600 * models.MicroUnit)
	_, err = fix.svc.Request(context.Background(), ClaimParams{
		VaultID:         vault.VaultID,
		HolderID:        "holder-2",
		ClientRequestID: "req-2",
		Amount:          &over,
		Mode:            models.ModeWithdraw,
	})
	assert.ErrorIs(t, err, models.ErrInsufficientEntitlement)
}
