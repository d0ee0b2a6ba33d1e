// Package prefs is the small durable key-value cache that survives restarts.
// Exactly one key matters: the requested media permissions. Everything else
// in the application is session-scoped and rebuilt on each connect.
package prefs

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/antoniostano/aura/internal/state"
)

const fileName = "prefs.json"

type Store struct {
	path string
}

type prefsFile struct {
	RequestedMediaPerms state.MediaPerms `json:"requestedMediaPerms"`
}

// NewStore places the cache under dir, or the user config directory when dir
// is empty.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "aura")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{path: filepath.Join(dir, fileName)}, nil
}

// RequestedMediaPerms reads the cached intent. Missing or corrupt files fall
// back to requesting both devices, matching a fresh install.
func (s *Store) RequestedMediaPerms() state.MediaPerms {
	defaults := state.MediaPerms{Mic: true, Camera: true}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("prefs: read failed, using defaults: %v", err)
		}
		return defaults
	}
	var f prefsFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("prefs: corrupt cache, using defaults: %v", err)
		return defaults
	}
	return f.RequestedMediaPerms
}

// SaveRequestedMediaPerms persists the intent. Failures are logged, not
// fatal: losing the cache only means re-asking for devices next run.
func (s *Store) SaveRequestedMediaPerms(perms state.MediaPerms) {
	data, err := json.MarshalIndent(prefsFile{RequestedMediaPerms: perms}, "", "  ")
	if err != nil {
		log.Printf("prefs: encode failed: %v", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		log.Printf("prefs: write failed: %v", err)
	}
}
