package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicvault/vaultd/common/models"
)

type fakeProposalStore struct {
	proposals map[uuid.UUID]*models.Proposal
	snapshots map[uuid.UUID]map[string]int64
	byKey     map[string]uuid.UUID

	// balances are the live token balances snapshotted at proposal
	// creation time
	balances map[string]int64
}

func newFakeProposalStore(balances map[string]int64) *fakeProposalStore {
	return &fakeProposalStore{
		proposals: make(map[uuid.UUID]*models.Proposal),
		snapshots: make(map[uuid.UUID]map[string]int64),
		byKey:     make(map[string]uuid.UUID),
		balances:  balances,
	}
}

func proposalKey(vaultID uuid.UUID, clientRequestID string) string {
	return vaultID.String() + "/" + clientRequestID
}

func (s *fakeProposalStore) CreateWithSnapshot(_ context.Context, proposal *models.Proposal) error {
	key := proposalKey(proposal.VaultID, proposal.ClientRequestID)
	if _, exists := s.byKey[key]; exists {
		return fmt.Errorf("duplicate key value violates unique constraint")
	}
	copied := *proposal
	s.proposals[proposal.ProposalID] = &copied
	s.byKey[key] = proposal.ProposalID

	snapshot := make(map[string]int64, len(s.balances))
	for holder, weight := range s.balances {
		snapshot[holder] = weight
	}
	s.snapshots[proposal.ProposalID] = snapshot
	return nil
}

func (s *fakeProposalStore) GetByClientRequestID(_ context.Context, vaultID uuid.UUID, clientRequestID string) (*models.Proposal, error) {
	id, ok := s.byKey[proposalKey(vaultID, clientRequestID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s.proposals[id]
	return &copied, nil
}

func (s *fakeProposalStore) GetByID(_ context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	proposal, ok := s.proposals[proposalID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *proposal
	return &copied, nil
}

func (s *fakeProposalStore) ListByVault(_ context.Context, vaultID uuid.UUID, status models.ProposalStatus, _, _ int) ([]*models.Proposal, error) {
	var out []*models.Proposal
	for _, p := range s.proposals {
		if p.VaultID == vaultID && (status == "" || p.Status == status) {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeProposalStore) SnapshotWeight(_ context.Context, proposalID uuid.UUID, holderID string) (int64, error) {
	weight, ok := s.snapshots[proposalID][holderID]
	if !ok || weight <= 0 {
		return 0, models.ErrNoSnapshotWeight
	}
	return weight, nil
}

func (s *fakeProposalStore) Finalize(_ context.Context, proposalID uuid.UUID, to models.ProposalStatus) (bool, error) {
	proposal, ok := s.proposals[proposalID]
	if !ok {
		return false, models.ErrNotFound
	}
	if proposal.Status != models.ProposalActive {
		return false, nil
	}
	proposal.Status = to
	return true, nil
}

type fakeVoteStore struct {
	proposals *fakeProposalStore
	votes     map[string]*models.Vote
}

func newFakeVoteStore(proposals *fakeProposalStore) *fakeVoteStore {
	return &fakeVoteStore{proposals: proposals, votes: make(map[string]*models.Vote)}
}

func voteKey(proposalID uuid.UUID, holderID string) string {
	return proposalID.String() + "/" + holderID
}

func (s *fakeVoteStore) Get(_ context.Context, proposalID uuid.UUID, holderID string) (*models.Vote, error) {
	vote, ok := s.votes[voteKey(proposalID, holderID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *vote
	return &copied, nil
}

func (s *fakeVoteStore) Apply(_ context.Context, vote *models.Vote) error {
	proposal := s.proposals.proposals[vote.ProposalID]
	key := voteKey(vote.ProposalID, vote.HolderID)

	if prev, ok := s.votes[key]; ok {
		if prev.Choice != vote.Choice {
			adjustTally(proposal, prev.Choice, -prev.Weight)
			adjustTally(proposal, vote.Choice, prev.Weight)
		}
	} else {
		adjustTally(proposal, vote.Choice, vote.Weight)
	}

	copied := *vote
	s.votes[key] = &copied
	return nil
}

func adjustTally(p *models.Proposal, choice models.VoteChoice, delta int64) {
	switch choice {
	case models.VoteFor:
		p.VotesFor += delta
	case models.VoteAgainst:
		p.VotesAgainst += delta
	case models.VoteAbstain:
		p.VotesAbstain += delta
	}
}

type tallyFixture struct {
	svc        *GovernanceService
	vault      *models.Vault
	proposals  *fakeProposalStore
	vaultStore *fakeVaultStore
	publisher  *fakeGovPublisher
}

type fakeGovPublisher struct {
	messages []string
}

func (p *fakeGovPublisher) PublishEvent(_ context.Context, _, message string) error {
	p.messages = append(p.messages, message)
	return nil
}

func newTallyFixture(t *testing.T, balances map[string]int64) *tallyFixture {
	t.Helper()

	vault := testVault(200_000)
	vault.Params.Quorum = 600 * models.MicroUnit

	vaultStore := newFakeVaultStore(vault)
	proposals := newFakeProposalStore(balances)
	votes := newFakeVoteStore(proposals)
	publisher := &fakeGovPublisher{}

	vaults := NewVaultService(vaultStore, nil, newFakeCache(), NewPolicyEvaluator(), noopLogger{})
	svc := NewGovernanceService(proposals, votes, vaults, publisher,
		100*models.MicroUnit, 72*time.Hour, noopLogger{})

	return &tallyFixture{svc: svc, vault: vault, proposals: proposals, vaultStore: vaultStore, publisher: publisher}
}

func (f *tallyFixture) propose(t *testing.T, patch json.RawMessage) *models.Proposal {
	t.Helper()
	proposal, err := f.svc.Propose(context.Background(), ProposalParams{
		VaultID:         f.vault.VaultID,
		ClientRequestID: "prop-1",
		Title:           "raise accrual rate",
		Proposer:        "holder-1",
		ParamsPatch:     patch,
	})
	require.NoError(t, err)
	return proposal
}

func holderBalances() map[string]int64 {
	return map[string]int64{
		"holder-1": 500 * models.MicroUnit,
		"holder-2": 300 * models.MicroUnit,
		"holder-3": 200 * models.MicroUnit,
	}
}

func TestProposeSnapshotsWeights(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())
	proposal := fix.propose(t, nil)

	assert.Equal(t, models.ProposalActive, proposal.Status)
	assert.Equal(t, int64(600*models.MicroUnit), proposal.QuorumThreshold)

	weight, err := fix.proposals.SnapshotWeight(context.Background(), proposal.ProposalID, "holder-2")
	require.NoError(t, err)
	assert.Equal(t, int64(300*models.MicroUnit), weight)
}

func TestProposeIdempotentReplay(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())

	params := ProposalParams{
		VaultID:         fix.vault.VaultID,
		ClientRequestID: "prop-1",
		Title:           "raise accrual rate",
		Proposer:        "holder-1",
	}

	first, err := fix.svc.Propose(context.Background(), params)
	require.NoError(t, err)

	second, err := fix.svc.Propose(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, first.ProposalID, second.ProposalID)
	assert.Len(t, fix.proposals.proposals, 1, "retry must not open a second proposal")
	assert.Len(t, fix.proposals.snapshots, 1)
}

func TestProposeRequiresClientRequestID(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())

	_, err := fix.svc.Propose(context.Background(), ProposalParams{
		VaultID:  fix.vault.VaultID,
		Title:    "raise accrual rate",
		Proposer: "holder-1",
	})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestCastVoteUsesSnapshotWeight(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())
	proposal := fix.propose(t, nil)

	vote, err := fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-1", models.VoteFor)
	require.NoError(t, err)
	assert.Equal(t, int64(500*models.MicroUnit), vote.Weight)

	stored, _ := fix.proposals.GetByID(context.Background(), proposal.ProposalID)
	assert.Equal(t, int64(500*models.MicroUnit), stored.VotesFor)
}

func TestCastVoteReplacesOnResubmit(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())
	proposal := fix.propose(t, nil)

	_, err := fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-1", models.VoteFor)
	require.NoError(t, err)
	_, err = fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-1", models.VoteAgainst)
	require.NoError(t, err)

	stored, _ := fix.proposals.GetByID(context.Background(), proposal.ProposalID)
	assert.Zero(t, stored.VotesFor)
	assert.Equal(t, int64(500*models.MicroUnit), stored.VotesAgainst)
	assert.Equal(t, int64(500*models.MicroUnit), stored.Turnout(), "holder must never be double-counted")
}

func TestCastVoteSameChoiceKeepsTally(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())
	proposal := fix.propose(t, nil)

	_, err := fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-1", models.VoteFor)
	require.NoError(t, err)
	_, err = fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-1", models.VoteFor)
	require.NoError(t, err)

	stored, _ := fix.proposals.GetByID(context.Background(), proposal.ProposalID)
	assert.Equal(t, int64(500*models.MicroUnit), stored.VotesFor)
}

func TestCastVoteNoSnapshotWeight(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())
	proposal := fix.propose(t, nil)

	_, err := fix.svc.CastVote(context.Background(), proposal.ProposalID, "late-buyer", models.VoteFor)
	assert.ErrorIs(t, err, models.ErrNoSnapshotWeight)
}

func TestCastVoteAfterEndTime(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())
	proposal := fix.propose(t, nil)

	fix.svc.now = func() time.Time { return proposal.EndTime.Add(time.Minute) }

	_, err := fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-1", models.VoteFor)
	assert.ErrorIs(t, err, models.ErrProposalNotActive)
}

func TestFinalizeBeforeEndRejected(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())
	proposal := fix.propose(t, nil)

	_, err := fix.svc.Finalize(context.Background(), proposal.ProposalID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestFinalizeQuorumNotMet(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())
	proposal := fix.propose(t, nil)

	// 500 of the 600 required weight participates
	_, err := fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-1", models.VoteFor)
	require.NoError(t, err)

	fix.svc.now = func() time.Time { return proposal.EndTime.Add(time.Minute) }

	final, err := fix.svc.Finalize(context.Background(), proposal.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalNoQuorum, final.Status)
}

func TestFinalizePassedAppliesPatch(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())
	patch := json.RawMessage(`[{"op":"replace","path":"/rate","value":300000}]`)
	proposal := fix.propose(t, patch)

	_, err := fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-1", models.VoteFor)
	require.NoError(t, err)
	_, err = fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-2", models.VoteAgainst)
	require.NoError(t, err)

	fix.svc.now = func() time.Time { return proposal.EndTime.Add(time.Minute) }

	final, err := fix.svc.Finalize(context.Background(), proposal.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalPassed, final.Status)

	vault := fix.vaultStore.vaults[fix.vault.VaultID]
	assert.Equal(t, int64(300_000), vault.Params.Rate)
	require.NotEmpty(t, fix.publisher.messages)
	assert.Contains(t, fix.publisher.messages[len(fix.publisher.messages)-1], "proposal.finalized")
}

func TestFinalizeTieFails(t *testing.T) {
	balances := map[string]int64{
		"holder-1": 400 * models.MicroUnit,
		"holder-2": 400 * models.MicroUnit,
	}
	fix := newTallyFixture(t, balances)
	proposal := fix.propose(t, nil)

	_, err := fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-1", models.VoteFor)
	require.NoError(t, err)
	_, err = fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-2", models.VoteAgainst)
	require.NoError(t, err)

	fix.svc.now = func() time.Time { return proposal.EndTime.Add(time.Minute) }

	final, err := fix.svc.Finalize(context.Background(), proposal.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalFailed, final.Status)
}

func TestFinalizeIdempotent(t *testing.T) {
	fix := newTallyFixture(t, holderBalances())
	patch := json.RawMessage(`[{"op":"replace","path":"/rate","value":300000}]`)
	proposal := fix.propose(t, patch)

	_, err := fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-1", models.VoteFor)
	require.NoError(t, err)
	_, err = fix.svc.CastVote(context.Background(), proposal.ProposalID, "holder-2", models.VoteFor)
	require.NoError(t, err)

	fix.svc.now = func() time.Time { return proposal.EndTime.Add(time.Minute) }

	first, err := fix.svc.Finalize(context.Background(), proposal.ProposalID)
	require.NoError(t, err)
	second, err := fix.svc.Finalize(context.Background(), proposal.ProposalID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)

	finalized := 0
	for _, msg := range fix.publisher.messages {
		if strings.Contains(msg, "proposal.finalized") {
			finalized++
		}
	}
	assert.Equal(t, 1, finalized, "outcome must be published once")
}
