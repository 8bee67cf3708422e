// Package orchestrator owns tasks, agents, edits, votes, workflows, and
// shared memory. Task assignment goes through the lock manager so that
// concurrent assignment attempts resolve to exactly one winner.
package orchestrator

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/harmonycode/harmonycode/internal/diversity"
	"github.com/harmonycode/harmonycode/internal/events"
	"github.com/harmonycode/harmonycode/internal/id"
	"github.com/harmonycode/harmonycode/internal/locks"
	"github.com/harmonycode/harmonycode/internal/metrics"
	"github.com/harmonycode/harmonycode/internal/perspective"
	"github.com/harmonycode/harmonycode/internal/protocol"
	"github.com/harmonycode/harmonycode/internal/workspace"
)

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// Agent statuses.
const (
	AgentIdle    = "idle"
	AgentBusy    = "busy"
	AgentOffline = "offline"
)

// Swarm coordination modes.
const (
	SwarmCentralized = "centralized"
	SwarmDistributed = "distributed"
)

// compatibleModes maps a task type to the agent modes that may work it.
var compatibleModes = map[string][]string{
	"code":          {"coder", "tdd", "debugger"},
	"review":        {"reviewer", "tester", "analyzer"},
	"design":        {"architect", "designer"},
	"research":      {"researcher", "analyzer"},
	"documentation": {"documenter"},
}

// modeCapabilities is the fixed capability vector per agent mode.
var modeCapabilities = map[string][]string{
	"coder":      {"write_code", "refactor", "fix_bugs"},
	"tdd":        {"write_tests", "write_code", "refactor"},
	"debugger":   {"fix_bugs", "trace", "profile"},
	"reviewer":   {"review_code", "suggest_changes"},
	"tester":     {"write_tests", "run_tests", "report_defects"},
	"analyzer":   {"analyze_code", "measure", "summarize"},
	"architect":  {"design_systems", "define_interfaces"},
	"designer":   {"design_apis", "sketch_flows"},
	"researcher": {"gather_sources", "compare_options", "summarize"},
	"documenter": {"write_docs", "maintain_changelog"},
}

// Task is a unit of work tracked by the engine.
type Task struct {
	TaskID               string                    `json:"task_id"`
	Type                 string                    `json:"type"`
	Description          string                    `json:"description"`
	Priority             string                    `json:"priority"`
	Status               string                    `json:"status"`
	AssignedTo           string                    `json:"assigned_to,omitempty"`
	Dependencies         []string                  `json:"dependencies,omitempty"`
	RequiredPerspectives []perspective.Perspective `json:"required_perspectives,omitempty"`
	EvidenceRequired     bool                      `json:"evidence_required"`
	CreatedAt            time.Time                 `json:"created_at"`
	Deadline             time.Time                 `json:"deadline,omitempty"`
	Result               any                       `json:"result,omitempty"`
}

// Agent is a registered worker, human or synthetic.
type Agent struct {
	AgentID      string    `json:"agent_id"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
	Capabilities []string  `json:"capabilities"`
	CurrentTask  string    `json:"current_task,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Options wires the engine's collaborators.
type Options struct {
	Locks       *locks.Manager
	Bus         events.Emitter
	Workspace   *workspace.Workspace
	Enforcer    *diversity.Enforcer
	TaskTimeout time.Duration
	Window      time.Duration // edit conflict window
	SwarmMode   string
	Now         func() time.Time
}

// Engine is the orchestration core. One mutex guards tasks and agents;
// edits, votes, workflows, and memory each have their own (per-domain
// mutual exclusion, no lock ordering between domains).
type Engine struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	agents map[string]*Agent
	timers map[string]*time.Timer

	edits     editLog
	votes     voteTable
	workflows workflowTable
	memory    memoryStore

	locks       *locks.Manager
	bus         events.Emitter
	ws          *workspace.Workspace
	enforcer    *diversity.Enforcer
	taskTimeout time.Duration
	swarmMode   string
	now         func() time.Time
}

// NewEngine builds an engine and restores any previous snapshot.
func NewEngine(opts Options) (*Engine, error) {
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 300 * time.Second
	}
	if opts.Window <= 0 {
		opts.Window = 5 * time.Second
	}
	if opts.SwarmMode == "" {
		opts.SwarmMode = SwarmDistributed
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		tasks:       make(map[string]*Task),
		agents:      make(map[string]*Agent),
		timers:      make(map[string]*time.Timer),
		edits:       editLog{window: opts.Window, now: opts.Now, byFile: make(map[string][]Edit)},
		votes:       voteTable{byProposal: make(map[string]map[string]diversity.Vote)},
		workflows:   workflowTable{entries: make(map[string]*Workflow)},
		memory:      memoryStore{ws: opts.Workspace},
		locks:       opts.Locks,
		bus:         opts.Bus,
		ws:          opts.Workspace,
		enforcer:    opts.Enforcer,
		taskTimeout: opts.TaskTimeout,
		swarmMode:   opts.SwarmMode,
		now:         opts.Now,
	}
	if err := e.loadSnapshot(); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateTask registers a new task and, outside centralized mode, tries to
// auto-assign it.
func (e *Engine) CreateTask(partial Task) *Task {
	t := partial
	if t.TaskID == "" {
		t.TaskID = id.New("task")
	}
	if t.Type == "" {
		t.Type = "code"
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	t.Status = TaskPending
	t.CreatedAt = e.now()

	e.mu.Lock()
	e.tasks[t.TaskID] = &t
	e.mu.Unlock()

	metrics.TasksByStatus.WithLabelValues(TaskPending).Inc()
	e.bus.Emit(events.TaskCreated, t.TaskID, map[string]any{
		"type": t.Type, "priority": t.Priority, "description": t.Description,
	})

	if e.swarmMode != SwarmCentralized {
		e.AutoAssign(t.TaskID)
	}
	e.persistSnapshot()
	return e.GetTask(t.TaskID)
}

// GetTask returns a copy of a task.
func (e *Engine) GetTask(taskID string) *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// ListTasks returns copies of all tasks, newest first.
func (e *Engine) ListTasks() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// TaskOwner returns the agent holding the live claim for a task.
func (e *Engine) TaskOwner(taskID string) (string, bool) {
	return e.locks.ClaimOwner(taskID)
}

// AssignTask locks, claims, and hands a task to an agent. The lock-then-
// claim sequence in the lock manager guarantees a single winner under
// concurrent attempts.
func (e *Engine) AssignTask(taskID, agentID string) error {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return protocol.NewError(protocol.CodeNotFound, "task %s not found", taskID)
	}
	a, ok := e.agents[agentID]
	if !ok {
		e.mu.Unlock()
		return protocol.NewError(protocol.CodeNotFound, "agent %s not found", agentID)
	}
	if a.Status == AgentBusy {
		e.mu.Unlock()
		return protocol.NewError(protocol.CodeLocked, "agent %s is busy", agentID)
	}
	e.mu.Unlock()

	if !e.locks.IsAvailable(taskID) {
		return protocol.NewError(protocol.CodeLocked, "task %s is locked", taskID)
	}
	token, ok := e.locks.Acquire(taskID, agentID)
	if !ok {
		return protocol.NewError(protocol.CodeLocked, "task %s is locked", taskID)
	}
	if !e.locks.Claim(taskID, agentID, token) {
		e.locks.Release(taskID, token)
		return protocol.NewError(protocol.CodeClaimConflict, "task %s already claimed", taskID)
	}

	e.mu.Lock()
	// The agent may have taken another task while the mutex was released
	// for the lock manager calls.
	if a.Status == AgentBusy {
		e.mu.Unlock()
		e.locks.DropClaim(taskID)
		return protocol.NewError(protocol.CodeLocked, "agent %s is busy", agentID)
	}
	prev := t.Status
	t.Status = TaskInProgress
	t.AssignedTo = agentID
	a.Status = AgentBusy
	a.CurrentTask = taskID
	e.scheduleTimeoutLocked(taskID)
	e.mu.Unlock()

	metrics.TasksByStatus.WithLabelValues(prev).Dec()
	metrics.TasksByStatus.WithLabelValues(TaskInProgress).Inc()
	e.bus.Emit(events.TaskAssigned, taskID, map[string]any{"agent": agentID})
	e.persistSnapshot()
	return nil
}

// AutoAssign picks the first idle agent whose mode is compatible with the
// task type and assigns the task to it.
func (e *Engine) AutoAssign(taskID string) bool {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	if !ok || t.Status != TaskPending {
		e.mu.Unlock()
		return false
	}
	modes := compatibleModes[t.Type]
	var candidates []string
	for _, a := range e.agents {
		if a.Status != AgentIdle {
			continue
		}
		for _, m := range modes {
			if a.Mode == m {
				candidates = append(candidates, a.AgentID)
				break
			}
		}
	}
	e.mu.Unlock()

	sort.Strings(candidates)
	for _, agentID := range candidates {
		if err := e.AssignTask(taskID, agentID); err == nil {
			return true
		}
	}
	return false
}

// CompleteTask finishes a task on behalf of its assignee.
func (e *Engine) CompleteTask(taskID, agentID string, result any) error {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return protocol.NewError(protocol.CodeNotFound, "task %s not found", taskID)
	}
	if t.AssignedTo != agentID {
		e.mu.Unlock()
		return protocol.NewError(protocol.CodeForbidden, "task %s is not assigned to %s", taskID, agentID)
	}
	prev := t.Status
	t.Status = TaskCompleted
	t.Result = result
	if a, ok := e.agents[agentID]; ok {
		a.Status = AgentIdle
		a.CurrentTask = ""
	}
	e.cancelTimeoutLocked(taskID)
	e.mu.Unlock()

	e.locks.UpdateStatus(taskID, agentID, locks.ClaimCompleted)
	metrics.TasksByStatus.WithLabelValues(prev).Dec()
	metrics.TasksByStatus.WithLabelValues(TaskCompleted).Inc()
	e.bus.Emit(events.TaskCompleted, taskID, map[string]any{"agent": agentID})
	e.persistSnapshot()
	return nil
}

// scheduleTimeoutLocked arms the task deadline. Caller holds e.mu.
func (e *Engine) scheduleTimeoutLocked(taskID string) {
	if prev, ok := e.timers[taskID]; ok {
		prev.Stop()
	}
	e.timers[taskID] = time.AfterFunc(e.taskTimeout, func() { e.timeoutTask(taskID) })
}

func (e *Engine) cancelTimeoutLocked(taskID string) {
	if timer, ok := e.timers[taskID]; ok {
		timer.Stop()
		delete(e.timers, taskID)
	}
}

// timeoutTask fires when a task stays in progress past the deadline: the
// task fails back to pending via requeue, the agent is freed, and
// auto-assign runs again.
func (e *Engine) timeoutTask(taskID string) {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	if !ok || t.Status != TaskInProgress {
		e.mu.Unlock()
		return
	}
	agentID := t.AssignedTo
	t.Status = TaskFailed
	t.AssignedTo = ""
	if a, ok := e.agents[agentID]; ok {
		a.Status = AgentIdle
		a.CurrentTask = ""
	}
	delete(e.timers, taskID)
	e.mu.Unlock()

	e.locks.DropClaim(taskID)
	metrics.TasksByStatus.WithLabelValues(TaskInProgress).Dec()
	metrics.TasksByStatus.WithLabelValues(TaskFailed).Inc()
	e.bus.Emit(events.TaskTimeout, taskID, map[string]any{"agent": agentID})
	slog.Warn("task timed out", "task", taskID, "agent", agentID)

	e.requeue(taskID)
}

// requeue flips a failed task back to pending and re-runs auto-assign.
func (e *Engine) requeue(taskID string) {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return
	}
	prev := t.Status
	t.Status = TaskPending
	e.mu.Unlock()

	metrics.TasksByStatus.WithLabelValues(prev).Dec()
	metrics.TasksByStatus.WithLabelValues(TaskPending).Inc()
	e.AutoAssign(taskID)
}

// RegisterAgent adds (or revives) an agent with the fixed capability
// vector for its mode.
func (e *Engine) RegisterAgent(agentID, mode string) *Agent {
	caps, ok := modeCapabilities[mode]
	if !ok {
		caps = nil
	}
	e.mu.Lock()
	a, exists := e.agents[agentID]
	if exists {
		a.Mode = mode
		a.Capabilities = caps
		a.Status = AgentIdle
		a.CurrentTask = ""
		// A re-register while the agent's claim is still live must not
		// lose the assignment.
		for taskID, t := range e.tasks {
			if t.Status == TaskInProgress && t.AssignedTo == agentID {
				a.Status = AgentBusy
				a.CurrentTask = taskID
				break
			}
		}
	} else {
		a = &Agent{
			AgentID:      agentID,
			Mode:         mode,
			Status:       AgentIdle,
			Capabilities: caps,
			RegisteredAt: e.now(),
		}
		e.agents[agentID] = a
	}
	cp := *a
	e.mu.Unlock()
	e.persistSnapshot()
	return &cp
}

// GetAgent returns a copy of an agent.
func (e *Engine) GetAgent(agentID string) *Agent {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[agentID]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// ActiveAgents counts agents that are not offline.
func (e *Engine) ActiveAgents() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, a := range e.agents {
		if a.Status != AgentOffline {
			n++
		}
	}
	return n
}

// SpawnRequest asks for count synthetic agents of one mode.
type SpawnRequest struct {
	Mode            string `json:"mode"`
	Task            string `json:"task,omitempty"`
	Count           int    `json:"count"`
	EnsureDiversity bool   `json:"ensure_diversity"`
}

// SpawnAgents creates synthetic agents; with a task description each one
// gets an initial task created for it.
func (e *Engine) SpawnAgents(req SpawnRequest) []Agent {
	if req.Count <= 0 {
		req.Count = 1
	}
	out := make([]Agent, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		agentID := id.New("agent")
		a := e.RegisterAgent(agentID, req.Mode)
		if req.EnsureDiversity && e.enforcer != nil {
			e.enforcer.AssignPerspective(agentID)
		}
		if req.Task != "" {
			t := e.CreateTask(Task{Type: taskTypeForMode(req.Mode), Description: req.Task})
			if e.GetTask(t.TaskID).Status == TaskPending {
				_ = e.AssignTask(t.TaskID, agentID)
			}
		}
		out = append(out, *e.GetAgent(a.AgentID))
	}
	return out
}

// taskTypeForMode inverts the compatibility map for spawn-created tasks.
func taskTypeForMode(mode string) string {
	for taskType, modes := range compatibleModes {
		for _, m := range modes {
			if m == mode {
				return taskType
			}
		}
	}
	return "code"
}

// HandleAgentDisconnect reverts the agent's in-progress work and marks it
// offline; the reverted task goes back through auto-assign.
func (e *Engine) HandleAgentDisconnect(agentID string) {
	e.mu.Lock()
	a, ok := e.agents[agentID]
	if !ok {
		e.mu.Unlock()
		return
	}
	taskID := a.CurrentTask
	a.Status = AgentOffline
	a.CurrentTask = ""
	var hadTask bool
	if taskID != "" {
		if t, ok := e.tasks[taskID]; ok && t.Status == TaskInProgress {
			t.Status = TaskFailed
			t.AssignedTo = ""
			hadTask = true
		}
	}
	e.cancelTimeoutLocked(taskID)
	e.mu.Unlock()

	if hadTask {
		e.locks.DropClaim(taskID)
		metrics.TasksByStatus.WithLabelValues(TaskInProgress).Dec()
		metrics.TasksByStatus.WithLabelValues(TaskFailed).Inc()
		e.requeue(taskID)
	}
	e.persistSnapshot()
}

// Stats is the aggregate view broadcast to clients and served over HTTP.
type Stats struct {
	Tasks     map[string]int `json:"tasks"`
	Agents    map[string]int `json:"agents"`
	Proposals int            `json:"proposals"`
	Workflows int            `json:"workflows"`
}

// Snapshot of counts by status.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{Tasks: make(map[string]int), Agents: make(map[string]int)}
	for _, t := range e.tasks {
		s.Tasks[t.Status]++
	}
	for _, a := range e.agents {
		s.Agents[a.Status]++
	}
	e.mu.Unlock()
	s.Proposals = e.votes.proposalCount()
	s.Workflows = e.workflows.count()
	return s
}
