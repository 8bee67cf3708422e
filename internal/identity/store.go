// Package identity maintains durable agent identities: the persistent
// mapping from display name to agent id, bearer token, and contribution
// history. Identities survive restarts; sessions do not.
package identity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harmonycode/harmonycode/internal/id"
	"github.com/harmonycode/harmonycode/internal/metrics"
	"github.com/harmonycode/harmonycode/internal/protocol"
	"github.com/harmonycode/harmonycode/internal/workspace"
)

// File is the snapshot name under the workspace root.
const File = "identities.json"

// RoleChange is one entry of an identity's role history.
type RoleChange struct {
	Role      string    `json:"role"`
	ChangedAt time.Time `json:"changed_at"`
}

// Identity is the persistent record of an agent. AgentID is stable for the
// lifetime of the display name; the auth token is the only credential.
type Identity struct {
	AgentID            string       `json:"agent_id"`
	DisplayName        string       `json:"display_name"`
	AuthToken          string       `json:"auth_token"`
	Role               string       `json:"role,omitempty"`
	Perspective        string       `json:"perspective,omitempty"`
	TotalSessions      int          `json:"total_sessions"`
	TotalContributions int          `json:"total_contributions"`
	CreatedAt          time.Time    `json:"created_at"`
	LastSeen           time.Time    `json:"last_seen"`
	RoleHistory        []RoleChange `json:"role_history"`
}

func (i *Identity) clone() *Identity {
	cp := *i
	cp.RoleHistory = append([]RoleChange(nil), i.RoleHistory...)
	return &cp
}

// AuthResult is returned to the hub on successful authentication.
type AuthResult struct {
	Identity    *Identity
	IsReturning bool
	IssuedToken string // non-empty when the server minted a new token
}

// Store is the identity table, persisted to identities.json on every
// mutation. Memory is authoritative; disk errors are logged only.
type Store struct {
	mu         sync.Mutex
	identities map[string]*Identity // display name -> identity
	ws         *workspace.Workspace
	now        func() time.Time
}

// Options configures a Store.
type Options struct {
	Workspace *workspace.Workspace
	Now       func() time.Time
}

// NewStore loads identities.json if present.
func NewStore(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		identities: make(map[string]*Identity),
		ws:         opts.Workspace,
		now:        opts.Now,
	}
	if s.ws != nil {
		if err := s.ws.ReadJSON(File, &s.identities); err != nil && !workspace.IsNotExist(err) {
			slog.Error("load identities", "error", err)
		}
	}
	return s
}

// Register creates a new identity for displayName. Fails when the name is
// already bound to a different agent.
func (s *Store) Register(displayName, role string) (*Identity, error) {
	s.mu.Lock()
	if _, exists := s.identities[displayName]; exists {
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.CodeAuthFailed, "display name %q already registered", displayName)
	}

	now := s.now()
	ident := &Identity{
		AgentID:     id.New("agent"),
		DisplayName: displayName,
		AuthToken:   id.NewToken(),
		Role:        role,
		CreatedAt:   now,
		LastSeen:    now,
		RoleHistory: []RoleChange{{Role: role, ChangedAt: now}},
	}
	s.identities[displayName] = ident
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snap)
	return ident.clone(), nil
}

// Authenticate resolves an auth frame to an identity. A known name requires
// a matching token; an unknown name is treated as a first-time join and gets
// a freshly issued token the client is expected to persist. Setting new_agent
// explicitly requests a fresh identity: it fails when the name is taken and
// skips the unknown-name token check otherwise.
func (s *Store) Authenticate(req protocol.AuthRequest) (*AuthResult, error) {
	s.mu.Lock()

	ident, exists := s.identities[req.DisplayName]
	if exists {
		if req.NewAgent {
			s.mu.Unlock()
			return nil, protocol.NewError(protocol.CodeAuthFailed, "display name %q already registered", req.DisplayName)
		}
		if req.AuthToken == "" || req.AuthToken != ident.AuthToken {
			s.mu.Unlock()
			return nil, protocol.NewError(protocol.CodeAuthFailed, "invalid token for %q", req.DisplayName)
		}
		ident.TotalSessions++
		ident.LastSeen = s.now()
		if req.Role != "" && req.Role != ident.Role {
			ident.Role = req.Role
			ident.RoleHistory = append(ident.RoleHistory, RoleChange{Role: req.Role, ChangedAt: s.now()})
		}
		result := &AuthResult{Identity: ident.clone(), IsReturning: true}
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.persist(snap)
		return result, nil
	}

	if req.AuthToken != "" && !req.NewAgent {
		// A token for a name the server has never seen cannot be verified.
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.CodeAuthFailed, "unknown display name %q", req.DisplayName)
	}

	now := s.now()
	ident = &Identity{
		AgentID:       id.New("agent"),
		DisplayName:   req.DisplayName,
		AuthToken:     id.NewToken(),
		Role:          req.Role,
		Perspective:   req.Perspective,
		TotalSessions: 1,
		CreatedAt:     now,
		LastSeen:      now,
		RoleHistory:   []RoleChange{{Role: req.Role, ChangedAt: now}},
	}
	s.identities[req.DisplayName] = ident
	result := &AuthResult{Identity: ident.clone(), IssuedToken: ident.AuthToken}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snap)
	return result, nil
}

// SwitchRole appends to the role history. AgentID never changes.
func (s *Store) SwitchRole(displayName, newRole string) (*Identity, error) {
	s.mu.Lock()
	ident, exists := s.identities[displayName]
	if !exists {
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.CodeNotFound, "unknown display name %q", displayName)
	}
	ident.Role = newRole
	ident.RoleHistory = append(ident.RoleHistory, RoleChange{Role: newRole, ChangedAt: s.now()})
	result := ident.clone()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snap)
	return result, nil
}

// RecordContribution bumps the append-only contribution counter.
func (s *Store) RecordContribution(displayName string) {
	s.mu.Lock()
	ident, exists := s.identities[displayName]
	if !exists {
		s.mu.Unlock()
		return
	}
	ident.TotalContributions++
	ident.LastSeen = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snap)
}

// SetPerspective stores the assigned perspective label on the identity.
func (s *Store) SetPerspective(displayName, perspective string) {
	s.mu.Lock()
	ident, exists := s.identities[displayName]
	if !exists {
		s.mu.Unlock()
		return
	}
	ident.Perspective = perspective
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snap)
}

// Get returns a copy of the identity for displayName.
func (s *Store) Get(displayName string) (*Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, exists := s.identities[displayName]
	if !exists {
		return nil, false
	}
	return ident.clone(), true
}

// GetByAgentID returns a copy of the identity with the given agent id.
func (s *Store) GetByAgentID(agentID string) (*Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.identities {
		if ident.AgentID == agentID {
			return ident.clone(), true
		}
	}
	return nil, false
}

// Count returns the number of registered identities.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identities)
}

func (s *Store) snapshotLocked() map[string]*Identity {
	snap := make(map[string]*Identity, len(s.identities))
	for name, ident := range s.identities {
		snap[name] = ident.clone()
	}
	return snap
}

func (s *Store) persist(snap map[string]*Identity) {
	if s.ws == nil {
		return
	}
	start := time.Now()
	if err := s.ws.WriteJSONAtomic(File, snap); err != nil {
		metrics.SnapshotErrors.WithLabelValues(File).Inc()
		slog.Error("persist identities", "error", err)
		return
	}
	metrics.SnapshotDuration.WithLabelValues(File).Observe(time.Since(start).Seconds())
}
