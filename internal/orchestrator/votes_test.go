package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonycode/harmonycode/internal/diversity"
	"github.com/harmonycode/harmonycode/internal/perspective"
)

func TestRecordVoteUpsertsBySession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.RegisterAgent("agent-a", "coder")
	env.engine.RegisterAgent("agent-b", "coder")

	env.engine.RecordVote(diversity.Vote{ProposalID: "p1", Session: "s1", Agent: "agent-a", Choice: "yes"})
	env.engine.RecordVote(diversity.Vote{ProposalID: "p1", Session: "s1", Agent: "agent-a", Choice: "no"})

	votes := env.engine.Votes("p1")
	require.Len(t, votes, 1, "re-cast replaces, never duplicates")
	assert.Equal(t, "no", votes[0].Choice)
}

func TestVotingCompleteNeedsAllActiveAgents(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.RegisterAgent("agent-a", "coder")
	env.engine.RegisterAgent("agent-b", "coder")

	complete := env.engine.RecordVote(diversity.Vote{ProposalID: "p1", Session: "s1", Agent: "agent-a", Choice: "yes"})
	assert.False(t, complete)
	assert.False(t, env.engine.CheckVotingComplete("p1"))

	complete = env.engine.RecordVote(diversity.Vote{ProposalID: "p1", Session: "s2", Agent: "agent-b", Choice: "yes"})
	assert.True(t, complete)
	assert.True(t, env.engine.CheckVotingComplete("p1"))
}

func TestOfflineAgentsDoNotBlockVoting(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.RegisterAgent("agent-a", "coder")
	env.engine.RegisterAgent("agent-b", "coder")
	env.engine.HandleAgentDisconnect("agent-b")

	complete := env.engine.RecordVote(diversity.Vote{ProposalID: "p1", Session: "s1", Agent: "agent-a", Choice: "yes"})
	assert.True(t, complete)
}

func TestResolveProposalClearsVotes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.RegisterAgent("agent-a", "coder")

	env.engine.RecordVote(diversity.Vote{
		ProposalID: "p1", Session: "s1", Agent: "agent-a",
		Choice: "ship", Perspective: perspective.Skeptic, Weight: 1.2,
	})

	dec, ok := env.engine.ResolveProposal("p1")
	require.True(t, ok)
	assert.Equal(t, "ship", dec.Choice)
	assert.Empty(t, env.engine.Votes("p1"))

	_, ok = env.engine.ResolveProposal("p1")
	assert.False(t, ok)
}

func TestMemoryStoreRetrieveList(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.engine.StoreMemory("design-notes", "agent-a", json.RawMessage(`{"v":1}`)))
	require.NoError(t, env.engine.StoreMemory("retro", "agent-b", json.RawMessage(`"text"`)))

	val, err := env.engine.RetrieveMemory("design-notes")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(val))

	keys, err := env.engine.ListMemory()
	require.NoError(t, err)
	assert.Equal(t, []string{"design-notes", "retro"}, keys)

	_, err = env.engine.RetrieveMemory("missing")
	assert.Error(t, err)

	err = env.engine.StoreMemory("../escape", "agent-a", nil)
	assert.Error(t, err, "path separators are rejected")
}

func TestWorkflowLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.engine.StartWorkflow("wf-1")
	assert.Equal(t, WorkflowRunning, w.Status)

	w, err := env.engine.UpdateWorkflow("wf-1", json.RawMessage(`{"step":2}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":2}`, string(w.Progress))

	w, err = env.engine.CompleteWorkflow("wf-1")
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, w.Status)

	_, err = env.engine.UpdateWorkflow("wf-unknown", nil)
	assert.Error(t, err)
}
