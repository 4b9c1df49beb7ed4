// Package workspace tracks the directory a conversation operates in
// and remembers recently opened workspaces across runs.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chenadu5299/binder/internal/log"
)

// ErrNoWorkspace is returned by Root when nothing has been opened yet.
var ErrNoWorkspace = errors.New("no workspace selected")

// maxRecent bounds the persisted recently-opened list.
const maxRecent = 10

// Workspace is one opened directory.
type Workspace struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	OpenedAt time.Time `json:"opened_at"`
}

// Service resolves and remembers the active workspace. The recent list
// is stored as JSON under the user config directory; persistence
// failures are logged and swallowed, the active workspace stays usable.
type Service struct {
	mu         sync.Mutex
	recentPath string
	current    *Workspace
}

// NewService creates a service storing its recent list under the user
// config directory.
func NewService() (*Service, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolving config directory: %w", err)
	}
	dir := filepath.Join(configDir, "binder")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	return NewServiceAt(filepath.Join(dir, "workspaces.json")), nil
}

// NewServiceAt creates a service with an explicit recent-list path.
func NewServiceAt(recentPath string) *Service {
	return &Service{recentPath: recentPath}
}

// Resolve picks the workspace root from, in order: an explicit flag, a
// configured default, the current working directory.
func Resolve(flag, configured string) (string, error) {
	switch {
	case flag != "":
		return filepath.Abs(flag)
	case configured != "":
		return filepath.Abs(configured)
	default:
		return os.Getwd()
	}
}

// Open validates the directory, makes it the active workspace, and
// records it in the recent list.
func (s *Service) Open(path string) (Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("resolving workspace path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Workspace{}, fmt.Errorf("opening workspace: %w", err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path is not a directory: %s", abs)
	}

	ws := Workspace{
		Path:     abs,
		Name:     filepath.Base(abs),
		OpenedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.current = &ws
	s.mu.Unlock()

	if err := s.remember(ws); err != nil {
		log.Warn(log.CatWorkspace, "could not persist recent workspaces", "error", err.Error())
	}
	log.Info(log.CatWorkspace, "workspace opened", "path", abs)
	return ws, nil
}

// Root returns the active workspace path.
func (s *Service) Root() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", ErrNoWorkspace
	}
	return s.current.Path, nil
}

// Current returns the active workspace, if any.
func (s *Service) Current() (Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Workspace{}, false
	}
	return *s.current, true
}

// Recent returns previously opened workspaces, most recent first. A
// missing file means an empty list.
func (s *Service) Recent() ([]Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadRecent()
}

// remember puts ws at the head of the recent list, dropping any older
// entry for the same path and anything beyond maxRecent.
func (s *Service) remember(ws Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent, err := s.loadRecent()
	if err != nil {
		// A corrupt list is not worth losing the new entry over.
		log.Warn(log.CatWorkspace, "resetting unreadable recent list", "error", err.Error())
		recent = nil
	}

	updated := make([]Workspace, 0, len(recent)+1)
	updated = append(updated, ws)
	for _, r := range recent {
		if r.Path != ws.Path {
			updated = append(updated, r)
		}
	}
	if len(updated) > maxRecent {
		updated = updated[:maxRecent]
	}

	data, err := json.MarshalIndent(updated, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding recent workspaces: %w", err)
	}
	if err := os.WriteFile(s.recentPath, data, 0o644); err != nil {
		return fmt.Errorf("writing recent workspaces: %w", err)
	}
	return nil
}

// loadRecent must be called with s.mu held.
func (s *Service) loadRecent() ([]Workspace, error) {
	data, err := os.ReadFile(s.recentPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading recent workspaces: %w", err)
	}
	var recent []Workspace
	if err := json.Unmarshal(data, &recent); err != nil {
		return nil, fmt.Errorf("decoding recent workspaces: %w", err)
	}
	return recent, nil
}
