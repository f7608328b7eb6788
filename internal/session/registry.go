// Package session tracks which on-disk transcript each user's live
// conversation is writing to.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/elderlink/companion/internal/domain"
)

// Handle is the live binding between an identity and its transcript.
type Handle struct {
	Path      string
	StartedAt time.Time
}

// Resolver locates and creates transcript files within a user directory. The
// transcript store satisfies it.
type Resolver interface {
	Resolve(userDir, fileID string) (string, bool)
	CreateNew(userDir string, start time.Time, seed []domain.Turn) (string, error)
}

// Registry is the process-wide map from identity to live session handle.
// State is in-memory and non-persistent: a restart loses live bindings while
// transcripts on disk survive and must be re-attached by explicit identifier.
//
// All mutation for one identity happens under that identity's lock, so
// attach-or-create and append sequences are atomic with respect to other
// requests for the same identity. Cross-identity operations do not contend.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Handle
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Handle),
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Acquire takes the per-identity critical section and returns its release
// function.
func (r *Registry) Acquire(identity string) func() {
	r.mu.Lock()
	lock, ok := r.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[identity] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Current returns the live handle for an identity, if any.
func (r *Registry) Current(identity string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[identity]
	return h, ok
}

// Evict removes the identity's live binding. Idempotent.
func (r *Registry) Evict(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, identity)
}

func (r *Registry) put(identity string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[identity] = h
}

// AttachOrCreate resolves the transcript the identity's live conversation
// writes to. Callers must hold the identity's critical section (Acquire).
//
//  1. An explicit file identifier that resolves to an existing file binds the
//     registry to that file (continue an existing conversation).
//  2. Otherwise an already-live entry wins unchanged; a failed explicit
//     identifier degrades to this or to a fresh file, never to another
//     user's file.
//  3. Otherwise a new transcript stamped with the current time is created,
//     seeded from caller-held history when supplied.
func (r *Registry) AttachOrCreate(res Resolver, identity, userDir, explicitID string, seed []domain.Turn) (string, error) {
	if explicitID != "" {
		if path, ok := res.Resolve(userDir, explicitID); ok {
			// The continued session started when the file was last
			// written, not at re-attach time.
			start := r.now()
			if info, err := os.Stat(path); err == nil {
				start = info.ModTime()
			}
			r.put(identity, Handle{Path: path, StartedAt: start})
			slog.Info("Continuing existing transcript", "identity", identity, "file", explicitID)
			return path, nil
		}
		slog.Warn("Explicit transcript id did not resolve, starting fresh", "identity", identity, "file_id", explicitID)
	}

	if h, ok := r.Current(identity); ok {
		return h.Path, nil
	}

	start := r.now()
	path, err := res.CreateNew(userDir, start, seed)
	if err != nil {
		return "", fmt.Errorf("create transcript: %w", err)
	}
	r.put(identity, Handle{Path: path, StartedAt: start})
	slog.Info("New transcript created", "identity", identity, "path", path, "seeded", len(seed))
	return path, nil
}
