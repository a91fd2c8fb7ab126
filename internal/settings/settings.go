// Package settings holds the user's persistent preferences: the memory map
// the assistant maintains through the manage_memory tool and per-tool
// feature flags. Settings are stored as a small YAML file and written back
// on every change.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type file struct {
	Memories map[string]string `yaml:"memories,omitempty"`
	Tools    map[string]bool   `yaml:"tools,omitempty"`
}

// Settings is a YAML-backed settings file. A missing file is treated as
// empty and created on the first write. Safe for concurrent use.
type Settings struct {
	path string

	mu   sync.RWMutex
	data file
}

// Open loads the settings at path. path may be empty for in-memory settings
// that are never persisted.
func Open(path string) (*Settings, error) {
	s := &Settings{path: path}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	return s, nil
}

// Memories returns a copy of the memory map.
func (s *Settings) Memories() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data.Memories)
}

// Memory returns the value stored under key.
func (s *Settings) Memory(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data.Memories[normaliseKey(key)]
	return v, ok
}

// SetMemory stores value under key and persists the file.
func (s *Settings) SetMemory(key, value string) error {
	key = normaliseKey(key)
	if key == "" {
		return errors.New("settings: empty memory key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.data.Memories[key]
	if s.data.Memories == nil {
		s.data.Memories = make(map[string]string)
	}
	s.data.Memories[key] = value
	if err := s.save(); err != nil {
		if had {
			s.data.Memories[key] = prev
		} else {
			delete(s.data.Memories, key)
		}
		return err
	}
	return nil
}

// DeleteMemory removes key and reports whether it existed.
func (s *Settings) DeleteMemory(key string) (bool, error) {
	key = normaliseKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.data.Memories[key]
	if !ok {
		return false, nil
	}
	delete(s.data.Memories, key)
	if err := s.save(); err != nil {
		s.data.Memories[key] = prev
		return false, err
	}
	return true, nil
}

// ToolEnabled reports whether the tool may be advertised. Tools are enabled
// unless explicitly switched off.
func (s *Settings) ToolEnabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok := s.data.Tools[name]
	return !ok || enabled
}

// SetToolEnabled switches a tool on or off and persists the file.
func (s *Settings) SetToolEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Tools == nil {
		s.data.Tools = make(map[string]bool)
	}
	prev, had := s.data.Tools[name]
	s.data.Tools[name] = enabled
	if err := s.save(); err != nil {
		if had {
			s.data.Tools[name] = prev
		} else {
			delete(s.data.Tools, name)
		}
		return err
	}
	return nil
}

// save writes the file atomically. Callers hold mu.
func (s *Settings) save() error {
	if s.path == "" {
		return nil
	}
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	return nil
}

func normaliseKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// StaticLocation is a fixed, user-configured location description.
type StaticLocation string

// Describe returns the location, or false when none is configured.
func (l StaticLocation) Describe(context.Context) (string, bool) {
	s := strings.TrimSpace(string(l))
	return s, s != ""
}
