// Package prefs persists small per-user flags between runs, such as
// whether the first-run walkthrough was already shown.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// TutorialShown records that the first-run walkthrough was displayed.
const TutorialShown = "tutorial_shown"

// Store is a write-through flag file. Reads are served from memory;
// every set rewrites the file.
type Store struct {
	path string

	mu    sync.Mutex
	flags map[string]bool
}

// Open loads the flag file at path. A missing file is a fresh profile;
// an unreadable one is dropped with a warning, prefs are disposable.
func Open(path string) (*Store, error) {
	s := &Store{path: path, flags: make(map[string]bool)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	if err := json.Unmarshal(data, &s.flags); err != nil {
		log.Warn().Err(err).Str("module", "prefs").Str("path", path).Msg("prefs file unreadable, starting fresh")
		s.flags = make(map[string]bool)
	}
	return s, nil
}

// OpenDefault places the flag file under the user config dir.
func OpenDefault() (*Store, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	return Open(filepath.Join(base, "holostream", "prefs.json"))
}

func (s *Store) Bool(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[key]
}

func (s *Store) SetBool(key string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = v
	data, err := json.MarshalIndent(s.flags, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("prefs dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}
