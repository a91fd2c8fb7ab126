// Package jsonfile stores conversation threads as JSON documents, one file
// per thread, in a directory.
package jsonfile

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/pkg/conversation"
)

var _ store.Store = (*Store)(nil)

const ext = ".json"

type document struct {
	ID          string                 `json:"id"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	FinalizedAt *time.Time             `json:"finalized_at,omitempty"`
	Messages    []conversation.Message `json:"messages"`
}

// Store is a directory of thread documents. A single Store must own the
// directory; concurrent processes writing the same thread are not supported.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// New returns a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("jsonfile: create %s: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) path(threadID string) string {
	return filepath.Join(s.dir, threadID+ext)
}

// SaveMessages implements [store.Store].
func (s *Store) SaveMessages(ctx context.Context, threadID string, msgs []conversation.Message) error {
	if err := store.ValidateThreadID(threadID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	doc, err := s.read(threadID)
	switch {
	case errors.Is(err, store.ErrThreadNotFound):
		doc = &document{ID: threadID, CreatedAt: now}
	case err != nil:
		return err
	}

	index := make(map[string]int, len(doc.Messages))
	for i, m := range doc.Messages {
		index[m.ID] = i
	}
	for _, m := range msgs {
		if i, ok := index[m.ID]; ok {
			doc.Messages[i] = m
			continue
		}
		index[m.ID] = len(doc.Messages)
		doc.Messages = append(doc.Messages, m)
	}
	doc.UpdatedAt = now
	doc.FinalizedAt = nil
	return s.write(doc)
}

// LoadHistory implements [store.Store].
func (s *Store) LoadHistory(ctx context.Context, threadID string) ([]conversation.Message, error) {
	if err := store.ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(threadID)
	if err != nil {
		return nil, err
	}
	return doc.Messages, nil
}

// FinalizeThread implements [store.Store].
func (s *Store) FinalizeThread(ctx context.Context, threadID string) error {
	if err := store.ValidateThreadID(threadID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(threadID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	doc.FinalizedAt = &now
	doc.UpdatedAt = now
	return s.write(doc)
}

// Threads implements [store.Store]. Unreadable files are skipped.
func (s *Store) Threads(ctx context.Context) ([]store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("jsonfile: list %s: %w", s.dir, err)
	}
	out := []store.Thread{}
	for _, ent := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok := strings.CutSuffix(ent.Name(), ext)
		if ent.IsDir() || !ok || store.ValidateThreadID(id) != nil {
			continue
		}
		doc, err := s.read(id)
		if err != nil {
			slog.Warn("skipping unreadable thread", "thread_id", id, "err", err)
			continue
		}
		t := store.Thread{
			ID:        doc.ID,
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.UpdatedAt,
			Messages:  len(doc.Messages),
		}
		if doc.FinalizedAt != nil {
			t.FinalizedAt = *doc.FinalizedAt
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b store.Thread) int { return cmp.Compare(b.UpdatedAt.UnixNano(), a.UpdatedAt.UnixNano()) })
	return out, nil
}

// Close implements [store.Store]. It is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) read(threadID string) (*document, error) {
	data, err := os.ReadFile(s.path(threadID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("jsonfile: %s: %w", threadID, store.ErrThreadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read %s: %w", threadID, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jsonfile: decode %s: %w", threadID, err)
	}
	return &doc, nil
}

// write replaces the thread file atomically.
func (s *Store) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode %s: %w", doc.ID, err)
	}
	tmp, err := os.CreateTemp(s.dir, doc.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("jsonfile: write %s: %w", doc.ID, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: write %s: %w", doc.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: write %s: %w", doc.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(doc.ID)); err != nil {
		return fmt.Errorf("jsonfile: write %s: %w", doc.ID, err)
	}
	return nil
}
