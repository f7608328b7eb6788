package session

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/elderlink/companion/internal/domain"
	"github.com/elderlink/companion/internal/transcript"
)

func newTestRegistry(t *testing.T) (*Registry, *transcript.Store, string) {
	t.Helper()
	store := transcript.NewStore(t.TempDir(), nil)
	reg := NewRegistry()
	return reg, store, store.UserDir("test", 1)
}

func TestAttachOrCreateNewSession(t *testing.T) {
	t.Parallel()
	reg, store, dir := newTestRegistry(t)

	// Advance the clock per call so stamped paths are unique.
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.Local)
	reg.now = func() time.Time {
		base = base.Add(time.Second)
		return base
	}

	path, err := reg.AttachOrCreate(store, "test", dir, "", nil)
	if err != nil {
		t.Fatalf("AttachOrCreate failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected transcript file to exist: %v", err)
	}

	h, ok := reg.Current("test")
	if !ok || h.Path != path {
		t.Fatalf("Current() = %+v, %v; want path %q", h, ok, path)
	}

	again, err := reg.AttachOrCreate(store, "test", dir, "", nil)
	if err != nil {
		t.Fatalf("second AttachOrCreate failed: %v", err)
	}
	if again != path {
		t.Errorf("live session must return the same path: %q vs %q", again, path)
	}
}

func TestAttachOrCreateExplicitID(t *testing.T) {
	t.Parallel()
	reg, store, dir := newTestRegistry(t)

	existing := store.NewPath(dir, time.Date(2025, 6, 1, 9, 0, 0, 0, time.Local))
	if err := store.Create(existing, nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	path, err := reg.AttachOrCreate(store, "test", dir, "conversation_2025-06-01_09-00-00.txt", nil)
	if err != nil {
		t.Fatalf("AttachOrCreate failed: %v", err)
	}
	if path != existing {
		t.Errorf("expected rebind to existing file %q, got %q", existing, path)
	}
}

func TestAttachOrCreateSameSecondRestartKeepsPriorFile(t *testing.T) {
	t.Parallel()
	reg, store, dir := newTestRegistry(t)

	// Freeze the clock: a session finalized and restarted within one
	// wall-clock second must not resolve to the same stamped path.
	fixed := time.Date(2025, 6, 2, 10, 0, 0, 0, time.Local)
	reg.now = func() time.Time { return fixed }

	first, err := reg.AttachOrCreate(store, "test", dir, "", nil)
	if err != nil {
		t.Fatalf("AttachOrCreate failed: %v", err)
	}
	if _, err := store.Append(first, domain.RoleUser, "我睡不好"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := store.Append(first, domain.RoleAssistant, "我懂"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	reg.Evict("test")

	second, err := reg.AttachOrCreate(store, "test", dir, "", nil)
	if err != nil {
		t.Fatalf("second AttachOrCreate failed: %v", err)
	}
	if second == first {
		t.Fatalf("same-second restart reused path %q", first)
	}

	turns, err := store.ReadAll(first)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("prior transcript lost: %d turns, want 2", len(turns))
	}
}

func TestAttachOrCreateExplicitIDKeepsFileStart(t *testing.T) {
	t.Parallel()
	reg, store, dir := newTestRegistry(t)

	existing := store.NewPath(dir, time.Date(2025, 6, 1, 9, 0, 0, 0, time.Local))
	if err := store.Create(existing, nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	written := time.Date(2025, 6, 1, 9, 5, 0, 0, time.Local)
	if err := os.Chtimes(existing, written, written); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	if _, err := reg.AttachOrCreate(store, "test", dir, "conversation_2025-06-01_09-00-00.txt", nil); err != nil {
		t.Fatalf("AttachOrCreate failed: %v", err)
	}
	h, ok := reg.Current("test")
	if !ok {
		t.Fatal("no live entry after explicit re-attach")
	}
	if !h.StartedAt.Equal(written) {
		t.Errorf("StartedAt = %v, want file time %v", h.StartedAt, written)
	}
}

func TestAttachOrCreateStaleIDFallsBackToLiveEntry(t *testing.T) {
	t.Parallel()
	reg, store, dir := newTestRegistry(t)

	live, err := reg.AttachOrCreate(store, "test", dir, "", nil)
	if err != nil {
		t.Fatalf("AttachOrCreate failed: %v", err)
	}

	// A stale identifier must degrade to the live entry, not rebind.
	path, err := reg.AttachOrCreate(store, "test", dir, "conversation_1999-01-01_00-00-00.txt", nil)
	if err != nil {
		t.Fatalf("AttachOrCreate failed: %v", err)
	}
	if path != live {
		t.Errorf("stale id should keep live path %q, got %q", live, path)
	}
}

func TestAttachOrCreateSeedsNewFile(t *testing.T) {
	t.Parallel()
	reg, store, dir := newTestRegistry(t)

	seed := []domain.Turn{
		{Role: domain.RoleUser, Content: "你好"},
		{Role: domain.RoleAssistant, Content: "在呢"},
	}
	path, err := reg.AttachOrCreate(store, "test", dir, "", seed)
	if err != nil {
		t.Fatalf("AttachOrCreate failed: %v", err)
	}

	turns, err := store.ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 seeded turns, got %d", len(turns))
	}
}

func TestEvict(t *testing.T) {
	t.Parallel()
	reg, store, dir := newTestRegistry(t)

	if _, err := reg.AttachOrCreate(store, "test", dir, "", nil); err != nil {
		t.Fatalf("AttachOrCreate failed: %v", err)
	}
	reg.Evict("test")
	if _, ok := reg.Current("test"); ok {
		t.Error("Current() should report no session after eviction")
	}
	// Evicting again is a no-op.
	reg.Evict("test")
}

func TestConcurrentChatAndFinalizeSingleLiveEntry(t *testing.T) {
	t.Parallel()
	reg, store, dir := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := reg.Acquire("test")
			defer unlock()
			if _, err := reg.AttachOrCreate(store, "test", dir, "", nil); err != nil {
				t.Errorf("AttachOrCreate failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			unlock := reg.Acquire("test")
			defer unlock()
			reg.Evict("test")
		}()
	}
	wg.Wait()

	// Whatever the interleaving, there is never more than one live entry.
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.entries) > 1 {
		t.Fatalf("expected at most one live entry, got %d", len(reg.entries))
	}
}
