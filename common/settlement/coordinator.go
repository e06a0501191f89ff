package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sonicvault/vaultd/common/clients"
	"github.com/sonicvault/vaultd/common/config"
	"github.com/sonicvault/vaultd/common/models"
)

// Logger interface for coordinator logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ClaimStore is the slice of the claim repository the coordinator needs
type ClaimStore interface {
	GetByID(ctx context.Context, claimID uuid.UUID) (*models.ClaimRequest, error)
	MarkSubmitted(ctx context.Context, claimID uuid.UUID, txRef string) error
	Resolve(ctx context.Context, claimID uuid.UUID, from, to models.ClaimState, failureReason string) error
	ListInState(ctx context.Context, state models.ClaimState, olderThan time.Time, limit int) ([]*models.ClaimRequest, error)
}

// Ledger applies the balance effects of a resolved claim
type Ledger interface {
	SettleSuccess(ctx context.Context, claim *models.ClaimRequest, tokensOut int64) error
	SettleFailure(ctx context.Context, claim *models.ClaimRequest) error
}

// EventPublisher broadcasts settlement outcomes to holder channels
type EventPublisher interface {
	PublishEvent(ctx context.Context, channel, message string) error
}

// Coordinator drives a reserved claim through external submission and
// confirmation. The external transaction reference is persisted before
// the first confirmation poll, so a crash anywhere after submission
// leaves a row the reconciler can resume without submitting twice.
type Coordinator struct {
	claims    ClaimStore
	ledger    Ledger
	submitter clients.TxSubmitter
	events    EventPublisher
	cfg       config.SettlementConfig
	logger    Logger
}

// NewCoordinator creates a settlement coordinator
func NewCoordinator(claims ClaimStore, ledger Ledger, submitter clients.TxSubmitter, events EventPublisher, cfg config.SettlementConfig, logger Logger) *Coordinator {
	return &Coordinator{
		claims:    claims,
		ledger:    ledger,
		submitter: submitter,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process settles one claim. Safe to call repeatedly with the same ID:
// terminal claims are a no-op, submitted claims resume polling against
// the stored transaction reference instead of submitting again.
func (c *Coordinator) Process(ctx context.Context, claimID uuid.UUID) error {
	claim, err := c.claims.GetByID(ctx, claimID)
	if err != nil {
		return fmt.Errorf("failed to load claim %s: %w", claimID, err)
	}

	if claim.State.Terminal() {
		c.logger.Debug("claim already resolved, skipping", "claim_id", claimID, "state", claim.State)
		return nil
	}

	switch claim.State {
	case models.ClaimReserved:
		txRef, err := c.submit(ctx, claim)
		if err != nil {
			return c.fail(ctx, claim, models.ClaimReserved, err)
		}
		if err := c.claims.MarkSubmitted(ctx, claim.ClaimID, txRef); err != nil {
			// A concurrent worker won the transition; its poll loop owns
			// the claim now.
			if errors.Is(err, models.ErrInvalidState) {
				c.logger.Warn("claim submitted by another worker", "claim_id", claimID)
				return nil
			}
			return fmt.Errorf("failed to record submission for claim %s: %w", claimID, err)
		}
		claim.State = models.ClaimSubmitted
		claim.ExternalTxRef = &txRef

	case models.ClaimSubmitted:
		if claim.ExternalTxRef == nil {
			return c.fail(ctx, claim, models.ClaimSubmitted,
				fmt.Errorf("%w: submitted claim has no transaction reference", models.ErrInvalidState))
		}

	default:
		return fmt.Errorf("%w: claim %s is %s, expected %s or %s",
			models.ErrInvalidState, claimID, claim.State, models.ClaimReserved, models.ClaimSubmitted)
	}

	return c.awaitConfirmation(ctx, claim)
}

// submit sends the settlement call to the relay. The claim ID rides
// along as the relay-side idempotency key, so retrying a transient
// submission failure cannot execute the contract call twice.
func (c *Coordinator) submit(ctx context.Context, claim *models.ClaimRequest) (string, error) {
	args := map[string]interface{}{
		"claim_id":  claim.ClaimID.String(),
		"vault_id":  claim.VaultID.String(),
		"holder_id": claim.HolderID,
		"amount":    claim.RequestedAmount,
		"mode":      string(claim.Mode),
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxPollAttempts; attempt++ {
		txRef, err := c.submitter.Submit(ctx, callFor(claim.Mode), args)
		if err == nil {
			c.logger.Info("claim submitted",
				"claim_id", claim.ClaimID, "tx_ref", txRef, "attempt", attempt)
			return txRef, nil
		}

		if !models.IsTransient(err) {
			return "", err
		}

		lastErr = err
		c.logger.Warn("transient submission failure, retrying",
			"claim_id", claim.ClaimID, "attempt", attempt, "error", err)

		if attempt < c.cfg.MaxPollAttempts {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return "", err
			}
		}
	}

	return "", fmt.Errorf("submission attempts exhausted: %w", lastErr)
}

// awaitConfirmation polls the relay with bounded exponential backoff
// until the transaction confirms, reverts or the window runs out.
func (c *Coordinator) awaitConfirmation(ctx context.Context, claim *models.ClaimRequest) error {
	txRef := *claim.ExternalTxRef

	for attempt := 1; attempt <= c.cfg.MaxPollAttempts; attempt++ {
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return err
		}

		status, err := c.submitter.PollStatus(ctx, txRef)
		if err != nil {
			if models.IsTransient(err) {
				c.logger.Warn("transient poll failure",
					"claim_id", claim.ClaimID, "tx_ref", txRef, "attempt", attempt, "error", err)
				continue
			}
			return c.fail(ctx, claim, models.ClaimSubmitted, err)
		}

		switch status {
		case clients.TxConfirmed:
			return c.confirm(ctx, claim)
		case clients.TxReverted:
			return c.fail(ctx, claim, models.ClaimSubmitted,
				fmt.Errorf("%w: tx %s", models.ErrRevertedTx, txRef))
		case clients.TxPending:
			c.logger.Debug("transaction still pending",
				"claim_id", claim.ClaimID, "tx_ref", txRef, "attempt", attempt)
		}
	}

	return c.fail(ctx, claim, models.ClaimSubmitted,
		fmt.Errorf("confirmation window exhausted after %d polls for tx %s", c.cfg.MaxPollAttempts, txRef))
}

// confirm applies the ledger effects and records the terminal state.
// The ledger debit runs first; if a prior attempt already debited, the
// ErrAlreadySettled replay is tolerated and only the claim row is
// advanced. Any other debit failure leaves the claim in SUBMITTED so
// the reconciler keeps retrying instead of recording a payout the
// ledger never covered.
func (c *Coordinator) confirm(ctx context.Context, claim *models.ClaimRequest) error {
	tokensOut, err := compoundTokensOut(claim)
	if err != nil {
		return c.fail(ctx, claim, models.ClaimSubmitted, err)
	}

	if err := c.ledger.SettleSuccess(ctx, claim, tokensOut); err != nil {
		if !errors.Is(err, models.ErrAlreadySettled) {
			return fmt.Errorf("failed to apply settlement for claim %s: %w", claim.ClaimID, err)
		}
		c.logger.Warn("ledger already settled, advancing claim only", "claim_id", claim.ClaimID)
	}

	if err := c.claims.Resolve(ctx, claim.ClaimID, models.ClaimSubmitted, models.ClaimConfirmed, ""); err != nil {
		return fmt.Errorf("failed to confirm claim %s: %w", claim.ClaimID, err)
	}

	c.logger.Info("claim confirmed",
		"claim_id", claim.ClaimID, "mode", claim.Mode, "amount", claim.RequestedAmount, "tokens_out", tokensOut)

	c.publish(ctx, claim, "claim.confirmed", "")
	return nil
}

// fail records the terminal failure first, then releases the ledger
// reservation so the holder can claim again.
func (c *Coordinator) fail(ctx context.Context, claim *models.ClaimRequest, from models.ClaimState, cause error) error {
	c.logger.Error("claim failed", "claim_id", claim.ClaimID, "state", from, "error", cause)

	if err := c.claims.Resolve(ctx, claim.ClaimID, from, models.ClaimFailed, cause.Error()); err != nil {
		return fmt.Errorf("failed to record claim failure for %s: %w", claim.ClaimID, err)
	}

	if err := c.ledger.SettleFailure(ctx, claim); err != nil {
		return fmt.Errorf("failed to release reservation for claim %s: %w", claim.ClaimID, err)
	}

	c.publish(ctx, claim, "claim.failed", cause.Error())
	return nil
}

// Recover resumes claims stranded by a crash. Stale RESERVED rows were
// never submitted and restart from the top; stale SUBMITTED rows resume
// polling against their stored transaction reference.
func (c *Coordinator) Recover(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().Add(-c.cfg.StaleAfter)
	recovered := 0

	for _, state := range []models.ClaimState{models.ClaimReserved, models.ClaimSubmitted} {
		stale, err := c.claims.ListInState(ctx, state, cutoff, limit)
		if err != nil {
			return recovered, fmt.Errorf("failed to list stale %s claims: %w", state, err)
		}

		for _, claim := range stale {
			c.logger.Info("recovering stale claim",
				"claim_id", claim.ClaimID, "state", state, "created_at", claim.CreatedAt)
			if err := c.Process(ctx, claim.ClaimID); err != nil {
				c.logger.Error("recovery failed for claim", "claim_id", claim.ClaimID, "error", err)
				continue
			}
			recovered++
		}
	}

	return recovered, nil
}

// backoff returns the delay before attempt n: base * 2^(n-1)
func (c *Coordinator) backoff(attempt int) time.Duration {
	return c.cfg.PollBaseDelay * time.Duration(1<<uint(attempt-1))
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Coordinator) publish(ctx context.Context, claim *models.ClaimRequest, event, reason string) {
	payload := map[string]interface{}{
		"type":     event,
		"claim_id": claim.ClaimID.String(),
		"vault_id": claim.VaultID.String(),
		"mode":     string(claim.Mode),
		"amount":   claim.RequestedAmount,
	}
	if reason != "" {
		payload["reason"] = reason
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to encode settlement event", "claim_id", claim.ClaimID, "error", err)
		return
	}

	channel := fmt.Sprintf("vault:events:holder:%s", claim.HolderID)
	if err := c.events.PublishEvent(ctx, channel, string(body)); err != nil {
		c.logger.Warn("failed to publish settlement event",
			"claim_id", claim.ClaimID, "channel", channel, "error", err)
	}
}

// compoundTokensOut converts the claimed yield into token units at the
// conversion price captured when the claim was reserved. Only compound
// mode mints tokens.
func compoundTokensOut(claim *models.ClaimRequest) (int64, error) {
	if claim.Mode != models.ModeCompound {
		return 0, nil
	}
	if claim.ConversionPrice == nil || *claim.ConversionPrice <= 0 {
		return 0, fmt.Errorf("%w: compound claim %s has no conversion price", models.ErrInvalidState, claim.ClaimID)
	}
	return claim.RequestedAmount * models.MicroUnit / *claim.ConversionPrice, nil
}

func callFor(mode models.ClaimMode) string {
	switch mode {
	case models.ModeCompound:
		return "vault.compound"
	case models.ModeWithdraw:
		return "vault.withdraw"
	default:
		return "vault.claim"
	}
}
