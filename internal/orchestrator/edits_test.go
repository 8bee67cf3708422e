package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEditNoConflictOutsideWindow(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.engine.ApplyEdit(Edit{File: "main.go", Session: "s1", Agent: "a1", Op: json.RawMessage(`{"insert":"x"}`)})
	assert.False(t, res.Conflict)

	env.clock.Advance(6 * time.Second)
	res = env.engine.ApplyEdit(Edit{File: "main.go", Session: "s2", Agent: "a2"})
	assert.False(t, res.Conflict)
	assert.Len(t, env.engine.FileHistory("main.go"), 2)
}

// Edits by two sessions three seconds apart collide, and the response
// carries both sides.
func TestApplyEditConflictWithinWindow(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.engine.ApplyEdit(Edit{File: "f", Session: "s1", Agent: "a1"})
	require.False(t, first.Conflict)

	env.clock.Advance(3 * time.Second)
	second := env.engine.ApplyEdit(Edit{File: "f", Session: "s2", Agent: "a2"})

	assert.True(t, second.Conflict)
	require.Len(t, second.Conflicts, 2)
	sessions := []string{second.Conflicts[0].Session, second.Conflicts[1].Session}
	assert.ElementsMatch(t, []string{"s1", "s2"}, sessions)
}

func TestApplyEditSameSessionNeverConflicts(t *testing.T) {
	env := newTestEnv(t, nil)

	env.engine.ApplyEdit(Edit{File: "f", Session: "s1"})
	env.clock.Advance(time.Second)
	res := env.engine.ApplyEdit(Edit{File: "f", Session: "s1"})
	assert.False(t, res.Conflict)
}

// Conflict detection is symmetric: whichever order two near-simultaneous
// edits land in, the second one reports the conflict.
func TestApplyEditConflictSymmetry(t *testing.T) {
	for _, order := range [][2]string{{"s1", "s2"}, {"s2", "s1"}} {
		env := newTestEnv(t, nil)
		env.engine.ApplyEdit(Edit{File: "f", Session: order[0]})
		env.clock.Advance(time.Second)
		res := env.engine.ApplyEdit(Edit{File: "f", Session: order[1]})
		assert.True(t, res.Conflict, "order %v", order)
	}
}

// A clean apply lands an authorship comment line in the target file under
// the project directory; conflicting edits are recorded but not forwarded.
func TestAppliedEditForwardedToDisk(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.engine.ApplyEdit(Edit{File: "src/main.go", Session: "s1", Agent: "agent-a"})
	require.False(t, res.Conflict)

	data, err := os.ReadFile(filepath.Join(env.dir, "src", "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "agent-a")

	env.clock.Advance(time.Second)
	second := env.engine.ApplyEdit(Edit{File: "src/main.go", Session: "s2", Agent: "agent-b"})
	require.True(t, second.Conflict)

	data, err = os.ReadFile(filepath.Join(env.dir, "src", "main.go"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "agent-b")
}

func TestEditOutsideProjectNotForwarded(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.engine.ApplyEdit(Edit{File: "../escape.go", Session: "s1", Agent: "agent-a"})
	assert.False(t, res.Conflict, "the edit is still recorded")

	_, err := os.Stat(filepath.Join(env.dir, "..", "escape.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestEditHistoryBounded(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < editHistoryLimit+20; i++ {
		env.engine.ApplyEdit(Edit{File: "f", Session: "s1"})
		env.clock.Advance(10 * time.Second)
	}
	assert.Len(t, env.engine.FileHistory("f"), editHistoryLimit)
}
