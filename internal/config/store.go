// Package config implements the configuration port: an opaque key/value
// store backed by a single JSON document in the workspace directory.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Keys the mediator core reads and writes. External collaborators may keep
// their own keys in the same document; the store does not interpret values.
const (
	KeyServers        = "mcpServers"
	KeyGlobalSettings = "mcpGlobalSettings"
)

// Store is the narrow interface consumed by the server manager.
// Writes are whole-structure: every Set rewrites the backing document.
type Store interface {
	// Get returns the value stored under key, or def when absent.
	Get(key string, def any) any
	// Set stores value under key and persists the whole document.
	Set(key string, value any) error
	// WaitForReady blocks until the first load has finished.
	WaitForReady(ctx context.Context) error
}

// FileStore is the default Store backed by <workspace>/mediator.json.
// A missing or corrupt file yields an empty document with a warning,
// mirroring how the rest of the workspace config is loaded.
type FileStore struct {
	path  string
	ready chan struct{}

	mu  sync.RWMutex
	doc map[string]json.RawMessage
}

// DefaultWorkspace returns ~/.helixbridge.
func DefaultWorkspace() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".helixbridge"
	}
	return filepath.Join(home, ".helixbridge")
}

// NewFileStore creates a FileStore rooted at workspace and starts the
// initial load in the background.
func NewFileStore(workspace string) *FileStore {
	s := &FileStore{
		path:  filepath.Join(workspace, "mediator.json"),
		ready: make(chan struct{}),
		doc:   make(map[string]json.RawMessage),
	}
	go s.load()
	return s
}

func (s *FileStore) load() {
	defer close(s.ready)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("config: read failed, starting empty", "path", s.path, "err", err)
		}
		return
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("config: parse failed, starting empty", "path", s.path, "err", err)
		return
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

// WaitForReady blocks until the initial load has completed.
func (s *FileStore) WaitForReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the decoded value under key, or def when the key is absent or
// cannot be decoded. Values decode into JSON-shaped Go values
// (map[string]any, []any, string, float64, bool).
func (s *FileStore) Get(key string, def any) any {
	s.mu.RLock()
	raw, ok := s.doc[key]
	s.mu.RUnlock()
	if !ok {
		return def
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Warn("config: undecodable value", "key", key, "err", err)
		return def
	}
	return v
}

// GetInto decodes the value under key into out (a pointer), reporting
// whether the key was present and decodable. Used for typed reads like the
// persisted server map.
func (s *FileStore) GetInto(key string, out any) bool {
	s.mu.RLock()
	raw, ok := s.doc[key]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		slog.Warn("config: undecodable value", "key", key, "err", err)
		return false
	}
	return true
}

// Set stores value under key and rewrites the whole document on disk.
func (s *FileStore) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc[key] = raw
	return s.flushLocked()
}

// flushLocked writes the document; caller holds s.mu.
func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", s.path, err)
	}
	return nil
}
