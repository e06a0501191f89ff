package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sonicvault/vaultd/common/curve"
	"github.com/sonicvault/vaultd/common/models"
)

// ClaimSubmissionStream is the Redis stream settlement workers consume.
const ClaimSubmissionStream = "claim.submissions"

// ClaimStore is the slice of the claim repository intake needs.
type ClaimStore interface {
	Create(ctx context.Context, claim *models.ClaimRequest) error
	GetByID(ctx context.Context, claimID uuid.UUID) (*models.ClaimRequest, error)
	GetByIdempotencyKey(ctx context.Context, vaultID uuid.UUID, holderID, clientRequestID string) (*models.ClaimRequest, error)
	Transition(ctx context.Context, claimID uuid.UUID, from, to models.ClaimState) error
	Resolve(ctx context.Context, claimID uuid.UUID, from, to models.ClaimState, failureReason string) error
}

// ClaimLedger is the slice of the position repository intake needs.
type ClaimLedger interface {
	GetPosition(ctx context.Context, vaultID uuid.UUID, holderID string) (*models.HolderPosition, error)
	ListByHolder(ctx context.Context, holderID string) ([]*models.HolderPosition, error)
	ReserveClaim(ctx context.Context, vaultID uuid.UUID, holderID string, claimID uuid.UUID) error
	SettleFailure(ctx context.Context, claim *models.ClaimRequest) error
}

// StreamPublisher hands reserved claims to the settlement worker.
type StreamPublisher interface {
	AddToStream(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// ClaimService validates and reserves claim requests. It never talks to
// the chain: once a claim is reserved it is published to the submission
// stream and the settlement worker owns it from there, so intake latency
// is independent of chain latency.
type ClaimService struct {
	claims  ClaimStore
	ledger  ClaimLedger
	vaults  *VaultService
	accrual *AccrualService
	policy  *PolicyEvaluator
	stream  StreamPublisher
	logger  Logger
	now     func() time.Time
}

// NewClaimService creates a claim intake service
func NewClaimService(claims ClaimStore, ledger ClaimLedger, vaults *VaultService, accrual *AccrualService, policy *PolicyEvaluator, stream StreamPublisher, logger Logger) *ClaimService {
	return &ClaimService{
		claims:  claims,
		ledger:  ledger,
		vaults:  vaults,
		accrual: accrual,
		policy:  policy,
		stream:  stream,
		logger:  logger,
		now:     time.Now,
	}
}

// ClaimParams is one claim request as received from the API.
type ClaimParams struct {
	VaultID         uuid.UUID
	HolderID        string
	ClientRequestID string

	// Amount in smallest settlement units (claim/compound) or smallest
	// token units (withdraw). Nil claims the full entitlement.
	Amount *int64

	Mode models.ClaimMode
}

// Request validates, reserves and enqueues a claim. Resubmitting the
// same (vault, holder, client_request_id) returns the stored claim in
// whatever state it has reached, without any new side effects.
func (s *ClaimService) Request(ctx context.Context, params ClaimParams) (*models.ClaimRequest, error) {
	if !params.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown claim mode %q", models.ErrInvalidAmount, params.Mode)
	}
	if params.ClientRequestID == "" {
		return nil, fmt.Errorf("%w: client_request_id is required", models.ErrInvalidAmount)
	}
	if params.Amount != nil && *params.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidAmount)
	}

	if existing, err := s.claims.GetByIdempotencyKey(ctx, params.VaultID, params.HolderID, params.ClientRequestID); err == nil {
		s.logger.Debug("idempotent claim replay",
			"claim_id", existing.ClaimID, "state", existing.State, "client_request_id", params.ClientRequestID)
		return existing, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	vault, err := s.vaults.Get(ctx, params.VaultID)
	if err != nil {
		return nil, err
	}

	if params.Mode == models.ModeCompound && !vault.Params.Compounding {
		return nil, fmt.Errorf("%w: vault %s does not allow compounding", models.ErrInvalidState, vault.Symbol)
	}

	pos, err := s.accrual.BringCurrent(ctx, vault, params.VaultID, params.HolderID)
	if err != nil {
		return nil, err
	}

	amount, err := resolveAmount(params, pos)
	if err != nil {
		return nil, err
	}

	allowed, err := s.policy.Allow(vault.ClaimPolicy, PolicyInput{
		Amount:  amount,
		Accrued: pos.AccruedYield,
		Balance: pos.TokenBalance,
		Mode:    params.Mode,
	})
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: claim denied by vault policy", models.ErrInvalidState)
	}

	claim := &models.ClaimRequest{
		ClaimID:         uuid.New(),
		ClientRequestID: params.ClientRequestID,
		VaultID:         params.VaultID,
		HolderID:        params.HolderID,
		RequestedAmount: amount,
		Mode:            params.Mode,
		State:           models.ClaimRequested,
		CreatedAt:       s.now(),
	}

	// Compounding converts at a single price read, captured here and
	// never re-read during settlement.
	if params.Mode == models.ModeCompound {
		price := curve.PriceAt(CurveParams(vault), vault.CirculatingSupply)
		claim.ConversionPrice = &price
	}

	if err := s.claims.Create(ctx, claim); err != nil {
		// A concurrent request with the same idempotency key won the
		// insert; return its row.
		if existing, lookupErr := s.claims.GetByIdempotencyKey(ctx, params.VaultID, params.HolderID, params.ClientRequestID); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}

	if err := s.ledger.ReserveClaim(ctx, params.VaultID, params.HolderID, claim.ClaimID); err != nil {
		if errors.Is(err, models.ErrClaimAlreadyPending) {
			reason := "another claim is already pending for this position"
			if resolveErr := s.claims.Resolve(ctx, claim.ClaimID, models.ClaimRequested, models.ClaimFailed, reason); resolveErr != nil {
				s.logger.Error("failed to mark lost claim", "claim_id", claim.ClaimID, "error", resolveErr)
			}
		}
		return nil, err
	}

	// The pre-reservation read raced every other settlement on this
	// position. Now that the reservation is held, no debit can land
	// without pending_claim_id matching this claim, so re-checking the
	// entitlement here freezes it for the whole settlement.
	fresh, err := s.ledger.GetPosition(ctx, params.VaultID, params.HolderID)
	if err != nil {
		return nil, s.abandonReserved(ctx, claim, err)
	}
	available := fresh.AccruedYield
	if params.Mode == models.ModeWithdraw {
		available = fresh.TokenBalance
	}
	if amount > available {
		return nil, s.abandonReserved(ctx, claim,
			fmt.Errorf("%w: requested %d, available %d after reservation", models.ErrInsufficientEntitlement, amount, available))
	}

	if err := s.claims.Transition(ctx, claim.ClaimID, models.ClaimRequested, models.ClaimReserved); err != nil {
		return nil, fmt.Errorf("failed to reserve claim %s: %w", claim.ClaimID, err)
	}
	claim.State = models.ClaimReserved

	if _, err := s.stream.AddToStream(ctx, ClaimSubmissionStream, map[string]interface{}{
		"claim_id": claim.ClaimID.String(),
	}); err != nil {
		// The row is durable; the reconciler picks up reserved claims
		// that never reached the stream.
		s.logger.Error("failed to enqueue claim for settlement", "claim_id", claim.ClaimID, "error", err)
	}

	s.logger.Info("claim reserved",
		"claim_id", claim.ClaimID, "vault_id", params.VaultID, "holder_id", params.HolderID,
		"mode", params.Mode, "amount", amount)

	return claim, nil
}

// abandonReserved fails a claim that won its reservation but cannot
// proceed, releasing the reservation so the holder can claim again.
func (s *ClaimService) abandonReserved(ctx context.Context, claim *models.ClaimRequest, cause error) error {
	if err := s.claims.Resolve(ctx, claim.ClaimID, models.ClaimRequested, models.ClaimFailed, cause.Error()); err != nil {
		s.logger.Error("failed to mark abandoned claim", "claim_id", claim.ClaimID, "error", err)
	}
	if err := s.ledger.SettleFailure(ctx, claim); err != nil {
		s.logger.Error("failed to release abandoned reservation", "claim_id", claim.ClaimID, "error", err)
	}
	return cause
}

// resolveAmount fills in the full-entitlement default and checks the
// ledger can cover the request.
func resolveAmount(params ClaimParams, pos *models.HolderPosition) (int64, error) {
	available := pos.AccruedYield
	if params.Mode == models.ModeWithdraw {
		available = pos.TokenBalance
	}

	amount := available
	if params.Amount != nil {
		amount = *params.Amount
	}

	if amount <= 0 {
		return 0, fmt.Errorf("%w: nothing to %s", models.ErrInsufficientEntitlement, params.Mode)
	}
	if amount > available {
		return 0, fmt.Errorf("%w: requested %d, available %d", models.ErrInsufficientEntitlement, amount, available)
	}

	return amount, nil
}

// Get returns one claim by ID.
func (s *ClaimService) Get(ctx context.Context, claimID uuid.UUID) (*models.ClaimRequest, error) {
	return s.claims.GetByID(ctx, claimID)
}

// GetByClientRequestID returns the claim a holder submitted under an
// idempotency key, so callers can check an earlier request's outcome
// without storing the claim ID.
func (s *ClaimService) GetByClientRequestID(ctx context.Context, vaultID uuid.UUID, holderID, clientRequestID string) (*models.ClaimRequest, error) {
	if clientRequestID == "" {
		return nil, fmt.Errorf("%w: client_request_id is required", models.ErrInvalidAmount)
	}
	return s.claims.GetByIdempotencyKey(ctx, vaultID, holderID, clientRequestID)
}

// ClaimableView is one row of the holder's claimables listing.
type ClaimableView struct {
	VaultID      uuid.UUID  `json:"vault_id"`
	Symbol       string     `json:"symbol"`
	TokenBalance int64      `json:"token_balance"`
	AccruedYield int64      `json:"accrued_yield"`
	PendingClaim *uuid.UUID `json:"pending_claim,omitempty"`
}

// Claimables lists a holder's positions with accrual brought current,
// so the dashboard always shows what a claim would pay right now.
func (s *ClaimService) Claimables(ctx context.Context, holderID string) ([]*ClaimableView, error) {
	positions, err := s.ledger.ListByHolder(ctx, holderID)
	if err != nil {
		return nil, err
	}

	views := make([]*ClaimableView, 0, len(positions))
	for _, pos := range positions {
		vault, err := s.vaults.Get(ctx, pos.VaultID)
		if err != nil {
			return nil, err
		}

		current, err := s.accrual.BringCurrent(ctx, vault, pos.VaultID, pos.HolderID)
		if err != nil {
			return nil, err
		}

		views = append(views, &ClaimableView{
			VaultID:      vault.VaultID,
			Symbol:       vault.Symbol,
			TokenBalance: current.TokenBalance,
			AccruedYield: current.AccruedYield,
			PendingClaim: current.PendingClaimID,
		})
	}

	return views, nil
}
