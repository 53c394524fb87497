package filestore

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ggoodman/remitadmin-go/sessions"
	"github.com/ggoodman/remitadmin-go/sessions/sessionstoretest"
)

func TestFileStore(t *testing.T) {
	sessionstoretest.RunStoreTests(t, func(t *testing.T) sessions.Store {
		s, err := New(filepath.Join(t.TempDir(), "session.json"))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestFileStoreWithoutWatch(t *testing.T) {
	sessionstoretest.RunStoreTests(t, func(t *testing.T) sessions.Store {
		s, err := New(filepath.Join(t.TempDir(), "session.json"), WithoutWatch())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Set(context.Background(), &sessions.Session{AccessToken: "A1", RefreshToken: "R1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
}

// A second process (modelled by a second Store on the same path) logging out
// must be observed by the first.
func TestObservesExternalChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	a, err := New(path)
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	defer a.Close()
	b, err := New(path, WithoutWatch())
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	defer b.Close()

	if err := a.Set(ctx, &sessions.Session{AccessToken: "A1", RefreshToken: "R1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := a.Get(ctx); got == nil {
		t.Fatal("expected cached session")
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	waitFor(t, func() bool {
		got, err := a.Get(ctx)
		return err == nil && got == nil
	})

	if err := b.Set(ctx, &sessions.Session{AccessToken: "A7", RefreshToken: "R7"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	waitFor(t, func() bool {
		got, err := a.Get(ctx)
		return err == nil && got != nil && got.AccessToken == "A7"
	})
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := New(path, WithoutWatch())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := s.Get(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
	// Clearing recovers from a corrupt file.
	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, err := s.Get(context.Background()); err != nil || got != nil {
		t.Fatalf("Get after Clear = %+v, %v", got, err)
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStaleReadIsNotCachedAfterClear(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if s.watcher == nil {
		t.Skip("fsnotify unavailable; nothing is cached")
	}
	ctx := context.Background()
	if err := s.Set(ctx, &sessions.Session{AccessToken: "A1", RefreshToken: "R1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Replay a Get interleaved with Clear: the generation is observed and the
	// file read before Clear, the result is cached after it.
	s.invalidate()
	s.cacheMu.RLock()
	gen := s.gen
	s.cacheMu.RUnlock()
	stale, err := s.read()
	if err != nil || stale == nil {
		t.Fatalf("read = %v, %v", stale, err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	s.remember(stale, gen)

	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("Get after Clear = %+v, want nil", got)
	}
}
