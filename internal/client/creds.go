package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harmonycode/harmonycode/internal/workspace"
)

// CredsFile is the client-side token cache under the workspace directory.
// The server never reads it.
const CredsFile = "agent-auth.json"

// CredEntry is one cached credential.
type CredEntry struct {
	AgentID   string    `json:"agent_id"`
	AuthToken string    `json:"auth_token"`
	SavedAt   time.Time `json:"saved_at"`
}

// CredsStore reads and writes the token cache keyed by display name.
type CredsStore struct {
	path string
}

// OpenCreds locates the cache under projectDir's workspace.
func OpenCreds(projectDir string) *CredsStore {
	return &CredsStore{path: filepath.Join(projectDir, workspace.DirName, CredsFile)}
}

// Token returns the cached token for a display name.
func (s *CredsStore) Token(displayName string) (string, bool) {
	entries, err := s.load()
	if err != nil {
		return "", false
	}
	e, ok := entries[displayName]
	if !ok || e.AuthToken == "" {
		return "", false
	}
	return e.AuthToken, true
}

// Save writes the freshly issued token for a display name.
func (s *CredsStore) Save(displayName, agentID, token string) error {
	entries, err := s.load()
	if err != nil {
		entries = map[string]CredEntry{}
	}
	entries[displayName] = CredEntry{AgentID: agentID, AuthToken: token, SavedAt: time.Now()}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return workspace.WriteFileAtomic(s.path, data)
}

func (s *CredsStore) load() (map[string]CredEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	entries := map[string]CredEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
