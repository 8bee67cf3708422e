package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harmonycode/harmonycode/internal/metrics"
)

// Edit is one recorded change to a shared file. Op is an opaque payload;
// the server records authorship and ordering, it does not interpret the
// operation.
type Edit struct {
	File    string          `json:"file"`
	Op      json.RawMessage `json:"op"`
	Version int64           `json:"version"` // unix millis at apply time
	Session string          `json:"session"`
	Agent   string          `json:"agent"`
}

// EditResult reports whether the edit landed cleanly or collided with
// recent edits by other sessions.
type EditResult struct {
	Conflict  bool   `json:"conflict"`
	Conflicts []Edit `json:"conflicts,omitempty"`
	Applied   Edit   `json:"applied"`
}

// editLog keeps a bounded per-file history of applied edits.
type editLog struct {
	mu     sync.Mutex
	byFile map[string][]Edit
	window time.Duration
	now    func() time.Time
}

const editHistoryLimit = 50

// ApplyEdit stamps the edit with the current version clock and checks the
// file's recent history. Any edit by a different session within the
// conflict window makes the result a conflict; the conflicting set
// includes both sides so either party can resolve. The edit is appended
// either way, which keeps conflict detection symmetric across orderings.
// A clean apply is also forwarded to the target file on disk as an
// authorship comment line; disk errors never fail the edit.
func (e *Engine) ApplyEdit(edit Edit) EditResult {
	res := e.edits.apply(edit)
	if !res.Conflict {
		e.forwardEdit(res.Applied)
	}
	return res
}

func (e *Engine) forwardEdit(edit Edit) {
	if e.ws == nil {
		return
	}
	if filepath.IsAbs(edit.File) || strings.Contains(edit.File, "..") {
		slog.Warn("edit targets a path outside the project", "file", edit.File)
		return
	}
	line := fmt.Sprintf("// edit by %s at %s\n",
		edit.Agent, time.UnixMilli(edit.Version).UTC().Format(time.RFC3339))
	if err := e.ws.AppendProjectFile(edit.File, []byte(line)); err != nil {
		slog.Error("forward edit to disk", "file", edit.File, "error", err)
	}
}

func (l *editLog) apply(edit Edit) EditResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	edit.Version = l.now().UnixMilli()

	var conflicts []Edit
	for _, prev := range l.byFile[edit.File] {
		if prev.Session == edit.Session {
			continue
		}
		delta := edit.Version - prev.Version
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta)*time.Millisecond < l.window {
			conflicts = append(conflicts, prev)
		}
	}

	hist := append(l.byFile[edit.File], edit)
	if len(hist) > editHistoryLimit {
		hist = hist[len(hist)-editHistoryLimit:]
	}
	l.byFile[edit.File] = hist

	res := EditResult{Applied: edit}
	if len(conflicts) > 0 {
		res.Conflict = true
		res.Conflicts = append(conflicts, edit)
		metrics.EditConflicts.Inc()
	}
	return res
}

// FileHistory returns a copy of the recorded edits for one file.
func (e *Engine) FileHistory(file string) []Edit {
	e.edits.mu.Lock()
	defer e.edits.mu.Unlock()
	return append([]Edit(nil), e.edits.byFile[file]...)
}
