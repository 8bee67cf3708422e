// Package workspace manages the .harmonycode directory: the on-disk layout
// shared with external front-ends, and the atomic write discipline every
// snapshot file follows (write .tmp, fsync, rename).
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the workspace subdirectory all server state lives under.
const DirName = ".harmonycode"

// Workspace is the single shared global of the server: the root path,
// injected at construction. All snapshot writers go through it.
type Workspace struct {
	root string
}

// Open ensures the workspace directory layout exists under projectDir and
// returns a handle to it.
func Open(projectDir string) (*Workspace, error) {
	root := filepath.Join(projectDir, DirName)
	if err := os.MkdirAll(filepath.Join(root, "memory"), 0o750); err != nil {
		return nil, fmt.Errorf("create workspace dirs: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the absolute workspace directory path.
func (w *Workspace) Root() string {
	return w.root
}

// Path resolves a file name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.root, name)
}

// MemoryPath resolves the per-entry file for a memory key.
func (w *Workspace) MemoryPath(key string) string {
	return filepath.Join(w.root, "memory", key+".json")
}

// ConfigPath is the default config.json location under a project directory.
func ConfigPath(projectDir string) string {
	return filepath.Join(projectDir, DirName, "config.json")
}

// ProjectPath resolves a path relative to the project directory that holds
// the workspace.
func (w *Workspace) ProjectPath(name string) string {
	return filepath.Join(filepath.Dir(w.root), name)
}

// AppendProjectFile appends data to a project file, creating the file and
// any parent directories when missing. Appends are not atomic the way
// snapshot writes are; callers that need crash consistency use the snapshot
// files instead.
func (w *Workspace) AppendProjectFile(name string, data []byte) error {
	path := w.ProjectPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create project dirs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", name, err)
	}
	return f.Close()
}

// MemoryName is the workspace-relative file name for a memory key.
func MemoryName(key string) string {
	return filepath.Join("memory", key+".json")
}

// MemoryKeys lists the stored memory entry keys.
func (w *Workspace) MemoryKeys() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.root, "memory"))
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		keys = append(keys, name[:len(name)-len(".json")])
	}
	return keys, nil
}

// WriteFileAtomic writes data to name using the write-temp-then-rename
// discipline. External readers either see the previous file or the new one,
// never a partial write. They must tolerate transient absence during rename.
func (w *Workspace) WriteFileAtomic(name string, data []byte) error {
	return WriteFileAtomic(w.Path(name), data)
}

// WriteJSONAtomic marshals v with indentation (stable key order for maps)
// and writes it atomically.
func (w *Workspace) WriteJSONAtomic(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return w.WriteFileAtomic(name, data)
}

// ReadJSON unmarshals name into v. Returns os.ErrNotExist (wrapped) when the
// file is missing so callers can treat first-run as empty state.
func (w *Workspace) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(w.Path(name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// Exists reports whether a workspace file is present.
func (w *Workspace) Exists(name string) bool {
	_, err := os.Stat(w.Path(name))
	return err == nil
}

// WriteFileAtomic is the path-level primitive behind every snapshot write.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// IsNotExist reports whether err means a missing workspace file.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
