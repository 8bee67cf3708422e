package orchestrator

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harmonycode/harmonycode/internal/protocol"
	"github.com/harmonycode/harmonycode/internal/workspace"
)

// Workflow statuses.
const (
	WorkflowRunning   = "running"
	WorkflowCompleted = "completed"
)

// Workflow is a named multi-step process tracked across frames.
type Workflow struct {
	WorkflowID string          `json:"workflow_id"`
	Status     string          `json:"status"`
	Progress   json.RawMessage `json:"progress,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type workflowTable struct {
	mu      sync.Mutex
	entries map[string]*Workflow
}

// StartWorkflow begins (or restarts) a workflow.
func (e *Engine) StartWorkflow(workflowID string) Workflow {
	e.workflows.mu.Lock()
	w := &Workflow{
		WorkflowID: workflowID,
		Status:     WorkflowRunning,
		StartedAt:  e.now(),
		UpdatedAt:  e.now(),
	}
	e.workflows.entries[workflowID] = w
	cp := *w
	e.workflows.mu.Unlock()
	e.persistSnapshot()
	return cp
}

// UpdateWorkflow records progress for a running workflow.
func (e *Engine) UpdateWorkflow(workflowID string, progress json.RawMessage) (Workflow, error) {
	e.workflows.mu.Lock()
	w, ok := e.workflows.entries[workflowID]
	if !ok {
		e.workflows.mu.Unlock()
		return Workflow{}, protocol.NewError(protocol.CodeNotFound, "workflow %s not found", workflowID)
	}
	w.Progress = progress
	w.UpdatedAt = e.now()
	cp := *w
	e.workflows.mu.Unlock()
	e.persistSnapshot()
	return cp, nil
}

// CompleteWorkflow marks a workflow finished.
func (e *Engine) CompleteWorkflow(workflowID string) (Workflow, error) {
	e.workflows.mu.Lock()
	w, ok := e.workflows.entries[workflowID]
	if !ok {
		e.workflows.mu.Unlock()
		return Workflow{}, protocol.NewError(protocol.CodeNotFound, "workflow %s not found", workflowID)
	}
	w.Status = WorkflowCompleted
	w.UpdatedAt = e.now()
	cp := *w
	e.workflows.mu.Unlock()
	e.persistSnapshot()
	return cp, nil
}

func (t *workflowTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// memoryStore is the shared key-value memory. Each entry is its own JSON
// file under the workspace memory/ subtree; the value is an opaque blob.
type memoryStore struct {
	mu sync.Mutex
	ws *workspace.Workspace
}

// memoryEntry is the on-disk shape of one memory key.
type memoryEntry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Agent    string          `json:"agent,omitempty"`
	StoredAt time.Time       `json:"stored_at"`
}

// StoreMemory writes one memory entry.
func (e *Engine) StoreMemory(key, agent string, value json.RawMessage) error {
	if key == "" || strings.ContainsAny(key, "/\\") {
		return protocol.NewError(protocol.CodeNotFound, "invalid memory key %q", key)
	}
	e.memory.mu.Lock()
	defer e.memory.mu.Unlock()
	return e.ws.WriteJSONAtomic(workspace.MemoryName(key), memoryEntry{
		Key:      key,
		Value:    value,
		Agent:    agent,
		StoredAt: e.now(),
	})
}

// RetrieveMemory reads one memory entry's value.
func (e *Engine) RetrieveMemory(key string) (json.RawMessage, error) {
	if key == "" || strings.ContainsAny(key, "/\\") {
		return nil, protocol.NewError(protocol.CodeNotFound, "invalid memory key %q", key)
	}
	e.memory.mu.Lock()
	defer e.memory.mu.Unlock()
	var entry memoryEntry
	if err := e.ws.ReadJSON(workspace.MemoryName(key), &entry); err != nil {
		if workspace.IsNotExist(err) {
			return nil, protocol.NewError(protocol.CodeNotFound, "memory key %q not found", key)
		}
		return nil, err
	}
	return entry.Value, nil
}

// ListMemory returns the stored keys, sorted.
func (e *Engine) ListMemory() ([]string, error) {
	e.memory.mu.Lock()
	defer e.memory.mu.Unlock()
	keys, err := e.ws.MemoryKeys()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
