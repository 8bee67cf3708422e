package protocol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrameKeepsRawPayload(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"vote","proposal_id":"p1","choice":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeVote, frame.Type)

	var req VoteRequest
	require.NoError(t, frame.Payload(&req))
	assert.Equal(t, "p1", req.ProposalID)
	assert.Equal(t, `"a"`, string(req.Choice))
}

func TestDecodeFrameRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestCriticalFrames(t *testing.T) {
	assert.True(t, Critical(TypeAuthSuccess))
	assert.True(t, Critical(TypeAuthFailed))
	assert.True(t, Critical(TypeIntervention))
	assert.False(t, Critical(TypeChat))
	assert.False(t, Critical(TypeStats))
}

func TestCodeOf(t *testing.T) {
	err := NewError(CodeLocked, "task %s held", "t1")
	assert.Equal(t, CodeLocked, CodeOf(err))
	assert.Equal(t, CodeLocked, CodeOf(fmt.Errorf("assign: %w", err)))
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain failure")))
}

func TestAsErrorNeverLeaksInternals(t *testing.T) {
	e := AsError(fmt.Errorf("dial tcp 10.0.0.1: connection refused"))
	assert.Equal(t, CodeInternal, e.Code)
	assert.NotContains(t, e.Message, "10.0.0.1")
}
