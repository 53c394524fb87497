package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ggoodman/remitadmin-go/sessions"
	"github.com/ggoodman/remitadmin-go/sessions/memorystore"
)

func TestCustomRefreshPath(t *testing.T) {
	f := newFakeAPI(t)
	f.accept("A1")
	f.issueOnRefresh("R1", "A2")
	store := memorystore.New(&sessions.Session{AccessToken: "stale", RefreshToken: "R1"})
	c, inv := newTestClient(t, f, store, WithRefreshPath("auth/refresh/"))

	if err := c.GetJSON(context.Background(), "/transactions/", nil, nil); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if n := f.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
	if got := storedSession(t, store).AccessToken; got != "A2" {
		t.Fatalf("stored access token = %q, want A2", got)
	}
	if n := inv.count(); n != 0 {
		t.Fatalf("invalidations = %d, want 0", n)
	}
}

func TestCustomRefreshPathUnauthorizedIsTerminal(t *testing.T) {
	f := newFakeAPI(t)
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "unknown"})
	c, inv := newTestClient(t, f, store, WithRefreshPath("/auth/refresh"))

	err := c.PostJSON(context.Background(), "/auth/refresh", map[string]string{"refresh_token": "unknown"}, nil)
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 HTTPError", err)
	}
	if n := f.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want only the direct call", n)
	}
	if n := inv.count(); n != 0 {
		t.Fatalf("invalidations = %d, want 0", n)
	}
	if storedSession(t, store) == nil {
		t.Fatal("session cleared by a direct refresh call")
	}
}

type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(r)
}

func TestHTTPClientAndUserAgent(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	t.Cleanup(srv.Close)

	rt := &countingTransport{next: http.DefaultTransport}
	c, err := New(srv.URL, memorystore.New(nil),
		WithHTTPClient(&http.Client{Transport: rt}),
		WithUserAgent("remitadmin/test"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.GetJSON(context.Background(), "/ping", nil, nil); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if n := rt.calls.Load(); n != 1 {
		t.Fatalf("transport calls = %d, want 1", n)
	}
	if ua, _ := gotUA.Load().(string); ua != "remitadmin/test" {
		t.Fatalf("User-Agent = %q", ua)
	}
}

func TestResponseTooLarge(t *testing.T) {
	f := newFakeAPI(t)
	c, _ := newTestClient(t, f, memorystore.New(nil))

	var out string
	err := c.GetJSON(context.Background(), "/huge", nil, &out)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}
}
