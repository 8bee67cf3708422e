package hub

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonycode/harmonycode/internal/protocol"
)

func TestOutQueueFIFO(t *testing.T) {
	q := newOutQueue(4)
	for i := 0; i < 3; i++ {
		require.True(t, q.push(outFrame{kind: protocol.TypeChat, data: []byte{byte(i)}}))
	}
	for i := 0; i < 3; i++ {
		f, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, byte(i), f.data[0])
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestOutQueueDropsOldestNonCritical(t *testing.T) {
	q := newOutQueue(3)
	require.True(t, q.push(outFrame{kind: protocol.TypeAuthSuccess, data: []byte("critical")}))
	require.True(t, q.push(outFrame{kind: protocol.TypeChat, data: []byte("old")}))
	require.True(t, q.push(outFrame{kind: protocol.TypeChat, data: []byte("mid")}))

	// Full: the oldest non-critical frame goes, the critical one stays.
	require.True(t, q.push(outFrame{kind: protocol.TypeStats, data: []byte("new")}))

	var kinds []string
	for {
		f, ok := q.pop()
		if !ok {
			break
		}
		kinds = append(kinds, string(f.data))
	}
	assert.Equal(t, []string{"critical", "mid", "new"}, kinds)
}

func TestOutQueueOverflowOnAllCritical(t *testing.T) {
	q := newOutQueue(2)
	require.True(t, q.push(outFrame{kind: protocol.TypeAuthSuccess, data: []byte("a")}))
	require.True(t, q.push(outFrame{kind: protocol.TypeIntervention, data: []byte("b")}))

	ok := q.push(outFrame{kind: protocol.TypeIntervention, data: []byte("c")})
	assert.False(t, ok, "a queue full of critical frames closes instead of dropping")

	closed, overflow := q.state()
	assert.True(t, closed)
	assert.True(t, overflow)

	// Later pushes are no-ops on a closed queue.
	assert.False(t, q.push(outFrame{kind: protocol.TypeChat, data: []byte("d")}))
}

func TestOutQueueCloseIsNotOverflow(t *testing.T) {
	q := newOutQueue(2)
	q.close()
	closed, overflow := q.state()
	assert.True(t, closed)
	assert.False(t, overflow)
}

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	b := newTokenBucket(10, 2, clock)
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "burst exhausted")

	now = now.Add(100 * time.Millisecond) // refills one token at 10/s
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())

	now = now.Add(time.Hour)
	for i := 0; i < 2; i++ {
		assert.True(t, b.Allow(), fmt.Sprintf("token %d after full refill", i))
	}
	assert.False(t, b.Allow(), "capped at burst")
}
