package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeQuorumCheckedFirst(t *testing.T) {
	// a landslide still ends without quorum when turnout falls short
	p := &Proposal{QuorumThreshold: 1000, VotesFor: 900, VotesAgainst: 0}
	assert.Equal(t, ProposalNoQuorum, p.Outcome())

	// abstentions count toward turnout
	p = &Proposal{QuorumThreshold: 1000, VotesFor: 600, VotesAgainst: 100, VotesAbstain: 300}
	assert.Equal(t, ProposalPassed, p.Outcome())
}

func TestOutcomeTieFails(t *testing.T) {
	p := &Proposal{QuorumThreshold: 100, VotesFor: 250, VotesAgainst: 250}
	assert.Equal(t, ProposalFailed, p.Outcome())
}

func TestOutcomeMajorityAgainstFails(t *testing.T) {
	p := &Proposal{QuorumThreshold: 100, VotesFor: 200, VotesAgainst: 300}
	assert.Equal(t, ProposalFailed, p.Outcome())
}

func TestTurnout(t *testing.T) {
	p := &Proposal{VotesFor: 500, VotesAgainst: 300, VotesAbstain: 200}
	assert.Equal(t, int64(1000), p.Turnout())
}

func TestProposalTerminal(t *testing.T) {
	assert.True(t, ProposalPassed.Terminal())
	assert.True(t, ProposalFailed.Terminal())
	assert.True(t, ProposalNoQuorum.Terminal())
	assert.False(t, ProposalActive.Terminal())
	assert.False(t, ProposalDraft.Terminal())
}
