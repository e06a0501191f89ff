package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/sonicvault/vaultd/common/models"
)

// ProposalStore is the slice of the proposal repository the tally needs.
type ProposalStore interface {
	CreateWithSnapshot(ctx context.Context, proposal *models.Proposal) error
	GetByID(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error)
	GetByClientRequestID(ctx context.Context, vaultID uuid.UUID, clientRequestID string) (*models.Proposal, error)
	ListByVault(ctx context.Context, vaultID uuid.UUID, status models.ProposalStatus, limit, offset int) ([]*models.Proposal, error)
	SnapshotWeight(ctx context.Context, proposalID uuid.UUID, holderID string) (int64, error)
	Finalize(ctx context.Context, proposalID uuid.UUID, to models.ProposalStatus) (bool, error)
}

// VoteStore is the slice of the vote repository the tally needs.
type VoteStore interface {
	Get(ctx context.Context, proposalID uuid.UUID, holderID string) (*models.Vote, error)
	Apply(ctx context.Context, vote *models.Vote) error
}

// EventPublisher broadcasts governance outcomes to holder channels.
type EventPublisher interface {
	PublishEvent(ctx context.Context, channel, message string) error
}

// GovernanceService tallies proposals against snapshot weights. Voting
// weight is frozen when the proposal is created; trades after the
// snapshot never change a ballot's weight.
type GovernanceService struct {
	proposals ProposalStore
	votes     VoteStore
	vaults    *VaultService
	events    EventPublisher
	logger    Logger
	now       func() time.Time

	defaultQuorum int64
	defaultPeriod time.Duration
}

// NewGovernanceService creates a governance service
func NewGovernanceService(proposals ProposalStore, votes VoteStore, vaults *VaultService, events EventPublisher, defaultQuorum int64, defaultPeriod time.Duration, logger Logger) *GovernanceService {
	return &GovernanceService{
		proposals:     proposals,
		votes:         votes,
		vaults:        vaults,
		events:        events,
		logger:        logger,
		now:           time.Now,
		defaultQuorum: defaultQuorum,
		defaultPeriod: defaultPeriod,
	}
}

// ProposalParams carries a new proposal as received from the API.
type ProposalParams struct {
	VaultID         uuid.UUID
	ClientRequestID string
	Title           string
	Description     string
	Proposer        string

	// ParamsPatch is optional; nil means a signalling-only proposal.
	ParamsPatch json.RawMessage

	// VotingPeriod defaults to the service-wide period when zero.
	VotingPeriod time.Duration
}

// Propose creates a proposal and captures the weight snapshot in the
// same transaction, so no balance change can slip between the proposal
// and its snapshot. Resubmitting the same (vault, client_request_id)
// returns the stored proposal, so a scheduler retry never opens a
// duplicate.
func (s *GovernanceService) Propose(ctx context.Context, params ProposalParams) (*models.Proposal, error) {
	if params.Title == "" {
		return nil, fmt.Errorf("%w: proposal title is required", models.ErrInvalidAmount)
	}
	if params.ClientRequestID == "" {
		return nil, fmt.Errorf("%w: client_request_id is required", models.ErrInvalidAmount)
	}

	if existing, err := s.proposals.GetByClientRequestID(ctx, params.VaultID, params.ClientRequestID); err == nil {
		s.logger.Debug("idempotent proposal replay",
			"proposal_id", existing.ProposalID, "client_request_id", params.ClientRequestID)
		return existing, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	vault, err := s.vaults.Get(ctx, params.VaultID)
	if err != nil {
		return nil, err
	}

	if len(params.ParamsPatch) > 0 {
		if _, err := jsonpatch.DecodePatch(params.ParamsPatch); err != nil {
			return nil, fmt.Errorf("invalid params patch: %w", err)
		}
	}

	quorum := vault.Params.Quorum
	if quorum <= 0 {
		quorum = s.defaultQuorum
	}

	period := params.VotingPeriod
	if period <= 0 {
		period = s.defaultPeriod
	}

	now := s.now()
	proposal := &models.Proposal{
		ProposalID:      uuid.New(),
		VaultID:         params.VaultID,
		ClientRequestID: params.ClientRequestID,
		Title:           params.Title,
		Description:     params.Description,
		Proposer:        params.Proposer,
		ParamsPatch:     params.ParamsPatch,
		SnapshotAt:      now,
		Status:          models.ProposalActive,
		QuorumThreshold: quorum,
		EndTime:         now.Add(period),
		CreatedAt:       now,
	}

	if err := s.proposals.CreateWithSnapshot(ctx, proposal); err != nil {
		// A concurrent request with the same idempotency key won the
		// insert; return its row.
		if existing, lookupErr := s.proposals.GetByClientRequestID(ctx, params.VaultID, params.ClientRequestID); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}

	s.logger.Info("proposal created",
		"proposal_id", proposal.ProposalID, "vault_id", params.VaultID,
		"quorum", quorum, "end_time", proposal.EndTime)

	return proposal, nil
}

// CastVote records or replaces a holder's ballot. The weight always
// comes from the proposal snapshot; a holder with no snapshot weight
// cannot vote no matter their current balance.
func (s *GovernanceService) CastVote(ctx context.Context, proposalID uuid.UUID, holderID string, choice models.VoteChoice) (*models.Vote, error) {
	if !choice.Valid() {
		return nil, fmt.Errorf("%w: unknown vote choice %q", models.ErrInvalidAmount, choice)
	}

	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != models.ProposalActive || !s.now().Before(proposal.EndTime) {
		return nil, fmt.Errorf("%w: proposal %s is not accepting votes", models.ErrProposalNotActive, proposalID)
	}

	weight, err := s.proposals.SnapshotWeight(ctx, proposalID, holderID)
	if err != nil {
		return nil, err
	}

	vote := &models.Vote{
		ProposalID: proposalID,
		HolderID:   holderID,
		Choice:     choice,
		Weight:     weight,
		CastAt:     s.now(),
	}

	if err := s.votes.Apply(ctx, vote); err != nil {
		return nil, err
	}

	s.logger.Info("vote cast",
		"proposal_id", proposalID, "holder_id", holderID, "choice", choice, "weight", weight)

	if payload, err := json.Marshal(map[string]interface{}{
		"type":        "vote.cast",
		"proposal_id": proposalID.String(),
		"vault_id":    proposal.VaultID.String(),
		"choice":      string(choice),
		"weight":      weight,
	}); err == nil {
		channel := fmt.Sprintf("vault:events:holder:%s", holderID)
		if err := s.events.PublishEvent(ctx, channel, string(payload)); err != nil {
			s.logger.Warn("failed to publish vote event", "proposal_id", proposalID, "error", err)
		}
	}

	return vote, nil
}

// GetVote returns a holder's current ballot on a proposal.
func (s *GovernanceService) GetVote(ctx context.Context, proposalID uuid.UUID, holderID string) (*models.Vote, error) {
	return s.votes.Get(ctx, proposalID, holderID)
}

// Finalize closes a proposal past its end time and, when it passed with
// a parameter patch, applies the patch to the vault. Finalizing an
// already-terminal proposal returns it unchanged.
func (s *GovernanceService) Finalize(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if proposal.Status.Terminal() {
		return proposal, nil
	}
	if proposal.Status != models.ProposalActive {
		return nil, fmt.Errorf("%w: proposal %s is %s", models.ErrProposalNotActive, proposalID, proposal.Status)
	}
	if s.now().Before(proposal.EndTime) {
		return nil, fmt.Errorf("%w: voting is open until %s", models.ErrInvalidState, proposal.EndTime.Format(time.RFC3339))
	}

	outcome := proposal.Outcome()

	applied, err := s.proposals.Finalize(ctx, proposalID, outcome)
	if err != nil {
		return nil, err
	}
	if !applied {
		// A concurrent finalize won; return the stored result.
		return s.proposals.GetByID(ctx, proposalID)
	}
	proposal.Status = outcome

	if outcome == models.ProposalPassed && len(proposal.ParamsPatch) > 0 {
		if _, err := s.vaults.ApplyParamsPatch(ctx, proposal.VaultID, proposal.ParamsPatch); err != nil {
			s.logger.Error("failed to apply passed proposal patch",
				"proposal_id", proposalID, "vault_id", proposal.VaultID, "error", err)
		}
	}

	s.logger.Info("proposal finalized",
		"proposal_id", proposalID, "outcome", outcome,
		"for", proposal.VotesFor, "against", proposal.VotesAgainst, "abstain", proposal.VotesAbstain)

	s.publishOutcome(ctx, proposal)

	return proposal, nil
}

// GetProposal returns one proposal by ID.
func (s *GovernanceService) GetProposal(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	return s.proposals.GetByID(ctx, proposalID)
}

// ListProposals lists proposals for a vault, optionally filtered by
// status.
func (s *GovernanceService) ListProposals(ctx context.Context, vaultID uuid.UUID, status models.ProposalStatus, limit, offset int) ([]*models.Proposal, error) {
	return s.proposals.ListByVault(ctx, vaultID, status, limit, offset)
}

func (s *GovernanceService) publishOutcome(ctx context.Context, proposal *models.Proposal) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":        "proposal.finalized",
		"proposal_id": proposal.ProposalID.String(),
		"vault_id":    proposal.VaultID.String(),
		"status":      string(proposal.Status),
		"turnout":     proposal.Turnout(),
	})
	if err != nil {
		s.logger.Error("failed to encode proposal event", "proposal_id", proposal.ProposalID, "error", err)
		return
	}

	channel := fmt.Sprintf("vault:events:vault:%s", proposal.VaultID)
	if err := s.events.PublishEvent(ctx, channel, string(payload)); err != nil {
		s.logger.Warn("failed to publish proposal event", "proposal_id", proposal.ProposalID, "error", err)
	}
}
