// Package sessionstoretest provides a conformance suite for sessions.Store
// implementations.
package sessionstoretest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/remitadmin-go/sessions"
)

// StoreFactory creates a new, empty Store instance for testing.
type StoreFactory func(t *testing.T) sessions.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("Get_EmptyReturnsNil", func(t *testing.T) { testGetEmpty(t, factory) })
	t.Run("Set_ThenGet", func(t *testing.T) { testSetThenGet(t, factory) })
	t.Run("Set_Overwrites", func(t *testing.T) { testSetOverwrites(t, factory) })
	t.Run("Set_RejectsInvalid", func(t *testing.T) { testSetRejectsInvalid(t, factory) })
	t.Run("SetAccessToken_KeepsRefreshAndProfile", func(t *testing.T) { testSetAccessToken(t, factory) })
	t.Run("SetAccessToken_NoSession", func(t *testing.T) { testSetAccessTokenNoSession(t, factory) })
	t.Run("Clear_RemovesEverything", func(t *testing.T) { testClear(t, factory) })
	t.Run("Clear_EmptyIsNoop", func(t *testing.T) { testClearEmpty(t, factory) })
	t.Run("Get_ReturnsCopy", func(t *testing.T) { testGetReturnsCopy(t, factory) })
	t.Run("Concurrent_ReadWrite", func(t *testing.T) { testConcurrent(t, factory) })
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func fixture() *sessions.Session {
	return &sessions.Session{
		AccessToken:  "A1",
		RefreshToken: "R1",
		Profile:      []byte(`{"id":"7b1f","role":"admin","full_name":"Awa Diop"}`),
	}
}

func mustGet(t *testing.T, ctx context.Context, s sessions.Store) *sessions.Session {
	t.Helper()
	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func testGetEmpty(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	if got := mustGet(t, ctx, s); got != nil {
		t.Fatalf("Get on empty store = %+v, want nil", got)
	}
}

func testSetThenGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	want := fixture()
	if err := s.Set(ctx, want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got := mustGet(t, ctx, s)
	if got == nil {
		t.Fatal("Get returned nil after Set")
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Fatalf("tokens = (%q, %q), want (%q, %q)", got.AccessToken, got.RefreshToken, want.AccessToken, want.RefreshToken)
	}
	if string(got.Profile) != string(want.Profile) {
		t.Fatalf("profile = %s, want %s", got.Profile, want.Profile)
	}
}

func testSetOverwrites(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	if err := s.Set(ctx, fixture()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	next := &sessions.Session{AccessToken: "A9", RefreshToken: "R9"}
	if err := s.Set(ctx, next); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got := mustGet(t, ctx, s)
	if got == nil || got.AccessToken != "A9" || got.RefreshToken != "R9" {
		t.Fatalf("Get = %+v, want A9/R9", got)
	}
	if len(got.Profile) != 0 {
		t.Fatalf("profile = %s, want empty after overwrite", got.Profile)
	}
}

func testSetRejectsInvalid(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	err := s.Set(ctx, &sessions.Session{AccessToken: "A1"})
	if !errors.Is(err, sessions.ErrInvalidSession) {
		t.Fatalf("Set(invalid) err = %v, want ErrInvalidSession", err)
	}
	if got := mustGet(t, ctx, s); got != nil {
		t.Fatalf("invalid session was stored: %+v", got)
	}
}

func testSetAccessToken(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	orig := fixture()
	if err := s.Set(ctx, orig); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.SetAccessToken(ctx, "A2"); err != nil {
		t.Fatalf("SetAccessToken: %v", err)
	}

	got := mustGet(t, ctx, s)
	if got == nil {
		t.Fatal("session disappeared after SetAccessToken")
	}
	if got.AccessToken != "A2" {
		t.Fatalf("access token = %q, want A2", got.AccessToken)
	}
	if got.RefreshToken != orig.RefreshToken {
		t.Fatalf("refresh token = %q, want %q", got.RefreshToken, orig.RefreshToken)
	}
	if string(got.Profile) != string(orig.Profile) {
		t.Fatalf("profile = %s, want %s", got.Profile, orig.Profile)
	}
}

func testSetAccessTokenNoSession(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	err := s.SetAccessToken(ctx, "A2")
	if !errors.Is(err, sessions.ErrNoSession) {
		t.Fatalf("SetAccessToken on empty store err = %v, want ErrNoSession", err)
	}
	if got := mustGet(t, ctx, s); got != nil {
		t.Fatalf("SetAccessToken created a session: %+v", got)
	}
}

func testClear(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	if err := s.Set(ctx, fixture()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := mustGet(t, ctx, s); got != nil {
		t.Fatalf("Get after Clear = %+v, want nil", got)
	}
}

func testClearEmpty(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear on empty store: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func testGetReturnsCopy(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	if err := s.Set(ctx, fixture()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got := mustGet(t, ctx, s)
	got.AccessToken = "mutated"
	if len(got.Profile) > 0 {
		got.Profile[0] = '['
	}

	again := mustGet(t, ctx, s)
	if again.AccessToken != "A1" {
		t.Fatalf("store aliased returned session: access token = %q", again.AccessToken)
	}
	if string(again.Profile) != string(fixture().Profile) {
		t.Fatalf("store aliased returned profile: %s", again.Profile)
	}
}

func testConcurrent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	if err := s.Set(ctx, fixture()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := s.SetAccessToken(ctx, "A-"+strconv.Itoa(i)); err != nil {
				errs <- err
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := s.Get(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent op: %v", err)
	}

	got := mustGet(t, ctx, s)
	if got == nil || got.RefreshToken != "R1" {
		t.Fatalf("session after concurrent writes = %+v", got)
	}
}
