// Package hub terminates WebSocket connections and routes JSON frames
// between agents, the identity store, the diversity middleware, and the
// orchestration engine. Broadcast is at-most-once and in-memory: a slow
// session loses non-critical frames rather than blocking the rest.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harmonycode/harmonycode/internal/config"
	"github.com/harmonycode/harmonycode/internal/diversity"
	"github.com/harmonycode/harmonycode/internal/events"
	"github.com/harmonycode/harmonycode/internal/identity"
	"github.com/harmonycode/harmonycode/internal/metrics"
	"github.com/harmonycode/harmonycode/internal/orchestrator"
	"github.com/harmonycode/harmonycode/internal/protocol"
)

const chatHistoryLimit = 100

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChatEntry is one broadcast message kept for history and analyzer
// context.
type ChatEntry struct {
	Agent string    `json:"agent"`
	Name  string    `json:"name"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Hub owns the session table. One live session per identity: a new
// connection for the same agent evicts the previous one.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session // by agent id, authed only
	history  []ChatEntry

	identities *identity.Store
	engine     *orchestrator.Engine
	enforcer   *diversity.Enforcer
	bus        *events.Bus

	queueSize   int
	frameRate   int
	frameBurst  int
	statsPeriod time.Duration
	now         func() time.Time
}

// Options wires the hub's collaborators.
type Options struct {
	Identities *identity.Store
	Engine     *orchestrator.Engine
	Enforcer   *diversity.Enforcer
	Bus        *events.Bus
	Server     config.ServerConfig
	Now        func() time.Time
}

// New builds a hub.
func New(opts Options) *Hub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	statsPeriod := time.Duration(opts.Server.StatsPeriodS) * time.Second
	if statsPeriod <= 0 {
		statsPeriod = 30 * time.Second
	}
	return &Hub{
		sessions:    make(map[string]*Session),
		identities:  opts.Identities,
		engine:      opts.Engine,
		enforcer:    opts.Enforcer,
		bus:         opts.Bus,
		queueSize:   opts.Server.QueueSize,
		frameRate:   opts.Server.FrameRate,
		frameBurst:  opts.Server.FrameBurst,
		statsPeriod: statsPeriod,
		now:         opts.Now,
	}
}

// HandleWebSocket upgrades the request and runs the session pumps. The
// first frame must be auth.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	h.Serve(conn)
}

// Serve runs the pumps for an accepted connection. Split from the HTTP
// handler so tests can drive in-memory connections.
func (h *Hub) Serve(conn Conn) *Session {
	s := h.newSession(conn)
	go s.writePump()
	go s.readPump()
	return s
}

// register binds an authed session, evicting any previous session for the
// same agent.
func (h *Hub) register(s *Session) {
	agentID := s.AgentID()
	h.mu.Lock()
	prev := h.sessions[agentID]
	h.sessions[agentID] = s
	h.mu.Unlock()

	if prev != nil && prev != s {
		slog.Info("evicting previous session", "agent", agentID, "session", prev.ID)
		prev.close()
	}
	metrics.ActiveSessions.Set(float64(h.SessionCount()))
}

// unregister removes a closed session. The engine reverts the agent's
// in-flight work only when this session is still the registered one
// (an evicted session must not revert its successor's state).
func (h *Hub) unregister(s *Session) {
	agentID := s.AgentID()
	if agentID == "" {
		return
	}
	h.mu.Lock()
	current := h.sessions[agentID] == s
	if current {
		delete(h.sessions, agentID)
	}
	h.mu.Unlock()

	if current {
		h.engine.HandleAgentDisconnect(agentID)
		h.bus.Emit(events.SessionLeft, agentID, map[string]any{"name": s.DisplayName()})
		h.Broadcast(protocol.TypeSessionLeft, map[string]any{
			"type": protocol.TypeSessionLeft, "agent_id": agentID, "name": s.DisplayName(),
		}, s)
	}
	metrics.ActiveSessions.Set(float64(h.SessionCount()))
}

// SessionCount returns the number of authed sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SessionFor returns the live session for an agent.
func (h *Hub) SessionFor(agentID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[agentID]
	return s, ok
}

// Broadcast queues a frame to every authed session except the sender.
func (h *Hub) Broadcast(frameType string, v any, except *Session) {
	data := protocol.Marshal(v)
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s != except {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range targets {
		s.Send(frameType, data)
	}
}

// appendHistory records a chat entry in the bounded ring.
func (h *Hub) appendHistory(entry ChatEntry) {
	h.mu.Lock()
	h.history = append(h.history, entry)
	if len(h.history) > chatHistoryLimit {
		h.history = h.history[len(h.history)-chatHistoryLimit:]
	}
	h.mu.Unlock()
}

// History returns a copy of the recent chat entries.
func (h *Hub) History() []ChatEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]ChatEntry(nil), h.history...)
}

// recentTexts returns the last n chat texts for analyzer context.
func (h *Hub) recentTexts(n int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	start := len(h.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, n)
	for _, e := range h.history[start:] {
		out = append(out, e.Text)
	}
	return out
}

// Run fans bus events out as frames and broadcasts stats periodically
// until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe(
		events.TaskCreated, events.TaskAssigned, events.TaskCompleted,
		events.TaskTimeout, events.Intervention, events.DiscussionUpdated,
	)
	defer h.bus.Unsubscribe(sub)

	ticker := time.NewTicker(h.statsPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub:
			h.Broadcast(ev.Type, map[string]any{
				"type": ev.Type, "subject": ev.Subject, "data": ev.Data,
			}, nil)
		case <-ticker.C:
			h.BroadcastStats()
		}
	}
}

// BroadcastStats pushes the current aggregate stats to every session.
func (h *Hub) BroadcastStats() {
	h.Broadcast(protocol.TypeStats, map[string]any{
		"type":     protocol.TypeStats,
		"stats":    h.engine.Stats(),
		"sessions": h.SessionCount(),
		"agents":   h.identities.Count(),
	}, nil)
}

// CloseAll tears down every session (server shutdown).
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		s.close()
	}
}
