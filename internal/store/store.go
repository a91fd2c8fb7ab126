// Package store defines the persistence boundary for conversation threads.
//
// A thread is the message history of one conversation, possibly spanning
// several connections. Backends live in sub-packages: [jsonfile] keeps one
// JSON document per thread on disk, [postgres] stores threads in PostgreSQL.
// Both upsert messages by ID, so saving the same growing history repeatedly
// is idempotent and a resumed thread keeps its original order.
//
// [jsonfile]: github.com/MrWong99/parley/internal/store/jsonfile
// [postgres]: github.com/MrWong99/parley/internal/store/postgres
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/pkg/conversation"
)

// ErrThreadNotFound is returned when loading a thread that was never saved.
var ErrThreadNotFound = errors.New("store: thread not found")

// Store persists conversation threads. Implementations are safe for
// concurrent use.
type Store interface {
	// SaveMessages upserts msgs into the thread by message ID. New messages
	// are appended after the ones already stored; known ones have their
	// text replaced.
	SaveMessages(ctx context.Context, threadID string, msgs []conversation.Message) error

	// LoadHistory returns the thread's messages in order.
	LoadHistory(ctx context.Context, threadID string) ([]conversation.Message, error)

	// FinalizeThread marks the thread as ended. Saving to a finalized thread
	// reopens it.
	FinalizeThread(ctx context.Context, threadID string) error

	// Threads lists the stored threads, most recently updated first.
	Threads(ctx context.Context) ([]Thread, error)

	Close() error
}

// Thread is the summary of one stored conversation.
type Thread struct {
	ID          string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt time.Time // zero while open
	Messages    int
}

// ValidateThreadID rejects identifiers that are not UUIDs. Thread IDs end up
// in file names and SQL parameters, so only the canonical form is accepted.
func ValidateThreadID(id string) error {
	if err := uuid.Validate(id); err != nil {
		return fmt.Errorf("store: invalid thread id %q: %w", id, err)
	}
	return nil
}
