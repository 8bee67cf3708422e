package orchestrator

import (
	"sync"

	"github.com/harmonycode/harmonycode/internal/diversity"
	"github.com/harmonycode/harmonycode/internal/metrics"
)

// voteTable keeps the active votes per proposal, keyed by session so a
// re-cast replaces the previous vote.
type voteTable struct {
	mu         sync.Mutex
	byProposal map[string]map[string]diversity.Vote
}

// RecordVote upserts the vote for (proposal, session), weighing it through
// the diversity middleware, and reports whether voting is now complete.
func (e *Engine) RecordVote(v diversity.Vote) (complete bool) {
	if v.Weight == 0 && e.enforcer != nil {
		if p, ok := e.enforcer.Tracker().PerspectiveOf(v.Agent); ok && v.Perspective == "" {
			v.Perspective = p
		}
		v.Weight = e.enforcer.WeighVote(v)
	}

	e.votes.mu.Lock()
	sessions, ok := e.votes.byProposal[v.ProposalID]
	if !ok {
		sessions = make(map[string]diversity.Vote)
		e.votes.byProposal[v.ProposalID] = sessions
	}
	sessions[v.Session] = v
	count := len(sessions)
	e.votes.mu.Unlock()

	metrics.VotesRecorded.Inc()
	return count >= e.ActiveAgents()
}

// CheckVotingComplete is true once every non-offline agent has voted.
func (e *Engine) CheckVotingComplete(proposalID string) bool {
	e.votes.mu.Lock()
	count := len(e.votes.byProposal[proposalID])
	e.votes.mu.Unlock()
	return count > 0 && count >= e.ActiveAgents()
}

// Votes returns the active votes for a proposal.
func (e *Engine) Votes(proposalID string) []diversity.Vote {
	e.votes.mu.Lock()
	defer e.votes.mu.Unlock()
	sessions := e.votes.byProposal[proposalID]
	out := make([]diversity.Vote, 0, len(sessions))
	for _, v := range sessions {
		out = append(out, v)
	}
	return out
}

// ResolveProposal runs weighted decision resolution over the recorded
// votes and clears the proposal.
func (e *Engine) ResolveProposal(proposalID string) (diversity.Decision, bool) {
	votes := e.Votes(proposalID)
	if len(votes) == 0 || e.enforcer == nil {
		return diversity.Decision{}, false
	}
	dec, ok := e.enforcer.ResolveDecision(votes)
	if ok {
		e.votes.mu.Lock()
		delete(e.votes.byProposal, proposalID)
		e.votes.mu.Unlock()
	}
	return dec, ok
}

func (t *voteTable) proposalCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byProposal)
}
