package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/remitadmin-go/sessions"
	"github.com/ggoodman/remitadmin-go/sessions/memorystore"
)

// fakeAPI is a scripted backend: access tokens in valid are accepted, and
// refresh tokens in issue map to the access token handed out on refresh.
type fakeAPI struct {
	srv *httptest.Server

	mu       sync.Mutex
	valid    map[string]bool
	issue    map[string]string
	seenAuth []string
	bodies   []string

	refreshCalls atomic.Int32
	// refreshDelay slows the refresh endpoint down to widen race windows.
	refreshDelay time.Duration
	// refreshStatus, when non-zero, makes the refresh endpoint fail.
	refreshStatus int
	// acceptIssued controls whether tokens handed out by refresh are valid.
	acceptIssued bool
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		valid:        map[string]bool{},
		issue:        map[string]string{},
		acceptIssued: true,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/users/refresh-token", f.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/refresh", f.handleRefresh)
	mux.HandleFunc("/api/v1/huge", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`"`))
		_, _ = w.Write(bytes.Repeat([]byte("a"), maxResponseBytes))
		_, _ = w.Write([]byte(`"`))
	})
	mux.HandleFunc("/api/v1/forbidden", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"detail": "Accès réservé aux administrateurs"})
	})
	mux.HandleFunc("/api/v1/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Transaction introuvable"})
	})
	mux.HandleFunc("/api/v1/html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html></html>")
	})
	mux.HandleFunc("/", f.handleProtected)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) baseURL() string { return f.srv.URL + "/api/v1" }

func (f *fakeAPI) accept(tok string) {
	f.mu.Lock()
	f.valid[tok] = true
	f.mu.Unlock()
}

func (f *fakeAPI) issueOnRefresh(refresh, access string) {
	f.mu.Lock()
	f.issue[refresh] = access
	f.mu.Unlock()
}

func (f *fakeAPI) authHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seenAuth...)
}

func (f *fakeAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	if f.refreshStatus != 0 {
		writeJSON(w, f.refreshStatus, map[string]any{"detail": "Refresh token invalide"})
		return
	}
	var body refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "Refresh token required"})
		return
	}
	f.mu.Lock()
	next, ok := f.issue[body.RefreshToken]
	if ok && f.acceptIssued {
		f.valid[next] = true
	}
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Refresh token invalide"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": next, "token_type": "bearer"})
}

func (f *fakeAPI) handleProtected(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.seenAuth = append(f.seenAuth, auth)
	f.bodies = append(f.bodies, string(body))
	ok := strings.HasPrefix(auth, "Bearer ") && f.valid[strings.TrimPrefix(auth, "Bearer ")]
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Could not validate credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": r.URL.Path, "query": r.URL.RawQuery, "body": string(body)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type invalidations struct {
	mu   sync.Mutex
	errs []error
}

func (i *invalidations) record(ctx context.Context, err error) {
	i.mu.Lock()
	i.errs = append(i.errs, err)
	i.mu.Unlock()
}

func (i *invalidations) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.errs)
}

func newTestClient(t *testing.T, f *fakeAPI, store sessions.Store, opts ...Option) (*Client, *invalidations) {
	t.Helper()
	inv := &invalidations{}
	opts = append([]Option{WithOnSessionInvalidated(inv.record)}, opts...)
	c, err := New(f.baseURL(), store, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, inv
}

func storedSession(t *testing.T, s sessions.Store) *sessions.Session {
	t.Helper()
	got, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	return got
}

type echo struct {
	Path  string `json:"path"`
	Query string `json:"query"`
	Body  string `json:"body"`
}

func TestAttachesBearerToken(t *testing.T) {
	f := newFakeAPI(t)
	f.accept("A1")
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, _ := newTestClient(t, f, store)

	var out echo
	if err := c.GetJSON(context.Background(), "/transactions/", url.Values{"q": {"TX-1"}}, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Path != "/api/v1/transactions/" {
		t.Fatalf("path = %q, want /api/v1/transactions/", out.Path)
	}
	if out.Query != "q=TX-1" {
		t.Fatalf("query = %q", out.Query)
	}
	if got := f.authHeaders(); len(got) != 1 || got[0] != "Bearer A1" {
		t.Fatalf("Authorization headers = %q, want [Bearer A1]", got)
	}
}

func TestNoSessionSendsNoAuthorizationHeader(t *testing.T) {
	f := newFakeAPI(t)
	c, inv := newTestClient(t, f, memorystore.New(nil))

	err := c.GetJSON(context.Background(), "/transactions/", nil, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if got := f.authHeaders(); len(got) != 1 || got[0] != "" {
		t.Fatalf("Authorization headers = %q, want one empty", got)
	}
	if n := f.refreshCalls.Load(); n != 0 {
		t.Fatalf("refresh calls = %d, want 0", n)
	}
	if n := inv.count(); n != 0 {
		t.Fatalf("invalidations = %d, want 0", n)
	}
}

func TestRefreshAndReplay(t *testing.T) {
	f := newFakeAPI(t)
	f.issueOnRefresh("R1", "A2")
	profile := []byte(`{"id":"u-1","role":"admin"}`)
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1", Profile: profile})
	c, inv := newTestClient(t, f, store)

	var out echo
	if err := c.GetJSON(context.Background(), "/transactions/", nil, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Path != "/api/v1/transactions/" {
		t.Fatalf("caller did not receive the replayed response: %+v", out)
	}

	got := f.authHeaders()
	want := []string{"Bearer A1", "Bearer A2"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Authorization headers = %q, want %q", got, want)
	}
	if n := f.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}

	sess := storedSession(t, store)
	if sess == nil || sess.AccessToken != "A2" || sess.RefreshToken != "R1" {
		t.Fatalf("stored session = %+v, want A2/R1", sess)
	}
	if string(sess.Profile) != string(profile) {
		t.Fatalf("profile = %s, want %s", sess.Profile, profile)
	}
	if n := inv.count(); n != 0 {
		t.Fatalf("invalidations = %d, want 0", n)
	}
}

func TestRefreshFailureClearsSession(t *testing.T) {
	f := newFakeAPI(t)
	f.refreshStatus = http.StatusUnauthorized
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, inv := newTestClient(t, f, store)

	err := c.GetJSON(context.Background(), "/transactions/", nil, nil)

	var rerr *RefreshError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %T %v, want *RefreshError", err, err)
	}
	if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrRefreshFailed and ErrUnauthorized", err)
	}
	// The caller sees the refresh error, not the original 401.
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Path != DefaultRefreshPath {
		t.Fatalf("wrapped HTTP error = %+v, want refresh endpoint failure", herr)
	}
	if herr.Detail != "Refresh token invalide" {
		t.Fatalf("detail = %q", herr.Detail)
	}

	if sess := storedSession(t, store); sess != nil {
		t.Fatalf("session not cleared: %+v", sess)
	}
	if n := inv.count(); n != 1 {
		t.Fatalf("invalidations = %d, want 1", n)
	}
	if !errors.Is(inv.errs[0], ErrRefreshFailed) {
		t.Fatalf("invalidation cause = %v", inv.errs[0])
	}
}

func TestRefreshEndpointUnauthorizedIsTerminal(t *testing.T) {
	f := newFakeAPI(t)
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, inv := newTestClient(t, f, store)

	err := c.PostJSON(context.Background(), "/users/refresh-token", refreshRequest{RefreshToken: "unknown"}, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("err = %v, a direct refresh call must propagate unchanged", err)
	}
	if n := f.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want exactly the direct call", n)
	}
	if sess := storedSession(t, store); sess == nil {
		t.Fatal("session cleared by a direct refresh call")
	}
	if n := inv.count(); n != 0 {
		t.Fatalf("invalidations = %d, want 0", n)
	}
}

func TestReplayUnauthorizedIsTerminal(t *testing.T) {
	f := newFakeAPI(t)
	f.issueOnRefresh("R1", "A2")
	f.acceptIssued = false
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, inv := newTestClient(t, f, store)

	err := c.GetJSON(context.Background(), "/transactions/", nil, nil)
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 HTTPError", err)
	}
	if n := f.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
	if got := f.authHeaders(); len(got) != 2 {
		t.Fatalf("requests = %d, want original + one replay", len(got))
	}
	if sess := storedSession(t, store); sess != nil {
		t.Fatalf("session not cleared: %+v", sess)
	}
	if n := inv.count(); n != 1 {
		t.Fatalf("invalidations = %d, want 1", n)
	}
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	f := newFakeAPI(t)
	f.issueOnRefresh("R1", "A2")
	f.refreshDelay = 100 * time.Millisecond
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, inv := newTestClient(t, f, store)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.GetJSON(context.Background(), "/transactions/", nil, nil)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("request failed: %v", err)
		}
	}
	if got := f.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if inv.count() != 0 {
		t.Fatalf("unexpected invalidation")
	}
}

func TestConcurrentRefreshFailureInvalidatesOnce(t *testing.T) {
	f := newFakeAPI(t)
	f.refreshStatus = http.StatusUnauthorized
	f.refreshDelay = 100 * time.Millisecond
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, inv := newTestClient(t, f, store)

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.GetJSON(context.Background(), "/transactions/", nil, nil); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		}()
	}
	wg.Wait()

	if got := f.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if got := inv.count(); got != 1 {
		t.Fatalf("invalidations = %d, want 1", got)
	}
}

func TestTransportErrorPropagatesUntouched(t *testing.T) {
	f := newFakeAPI(t)
	base := f.baseURL()
	f.srv.Close()

	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	inv := &invalidations{}
	c, err := New(base, store, WithOnSessionInvalidated(inv.record))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.GetJSON(context.Background(), "/transactions/", nil, nil)
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		t.Fatalf("err = %T %v, want *url.Error", err, err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatal("transport error must not look like an auth failure")
	}
	if sess := storedSession(t, store); sess == nil || sess.AccessToken != "A1" {
		t.Fatalf("session touched on transport error: %+v", sess)
	}
	if inv.count() != 0 {
		t.Fatal("unexpected invalidation")
	}
}

func TestOtherHTTPErrorsPropagate(t *testing.T) {
	f := newFakeAPI(t)
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, _ := newTestClient(t, f, store)

	tests := []struct {
		path   string
		target error
		detail string
	}{
		{"/forbidden", ErrForbidden, "Accès réservé aux administrateurs"},
		{"/missing", ErrNotFound, "Transaction introuvable"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := c.GetJSON(context.Background(), tt.path, nil, nil)
			if !errors.Is(err, tt.target) {
				t.Fatalf("err = %v, want %v", err, tt.target)
			}
			if errors.Is(err, ErrUnauthorized) {
				t.Fatalf("err = %v must not match ErrUnauthorized", err)
			}
			var herr *HTTPError
			if !errors.As(err, &herr) || herr.Detail != tt.detail {
				t.Fatalf("detail = %+v, want %q", herr, tt.detail)
			}
		})
	}
	if n := f.refreshCalls.Load(); n != 0 {
		t.Fatalf("refresh calls = %d, want 0", n)
	}
}

func TestRequestDescriptorIsNotMutated(t *testing.T) {
	f := newFakeAPI(t)
	f.issueOnRefresh("R1", "A2")
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, _ := newTestClient(t, f, store)

	req, err := NewRequest(http.MethodPatch, "/transactions/42", nil, map[string]string{"status": "Annulée"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	origBody := string(req.Body)

	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	var out echo
	if err := resp.DecodeJSON(&out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}

	if req.Header.Get("Authorization") != "" {
		t.Fatal("client wrote Authorization onto the request descriptor")
	}
	if string(req.Body) != origBody || req.Method != http.MethodPatch {
		t.Fatal("request descriptor mutated")
	}
	f.mu.Lock()
	bodies := append([]string(nil), f.bodies...)
	f.mu.Unlock()
	if len(bodies) != 2 || bodies[0] != origBody || bodies[1] != origBody {
		t.Fatalf("bodies sent = %q, want the same body twice", bodies)
	}

	// The same descriptor can be sent again; it starts with a fresh attempt count.
	if _, err := c.Do(context.Background(), req); err != nil {
		t.Fatalf("second Do: %v", err)
	}
}

func TestSkipAuth(t *testing.T) {
	f := newFakeAPI(t)
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, inv := newTestClient(t, f, store)

	_, err := c.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/users/login", SkipAuth: true})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if got := f.authHeaders(); len(got) != 1 || got[0] != "" {
		t.Fatalf("Authorization headers = %q, want one empty", got)
	}
	if f.refreshCalls.Load() != 0 || inv.count() != 0 {
		t.Fatal("SkipAuth request triggered refresh handling")
	}
	if sess := storedSession(t, store); sess == nil {
		t.Fatal("session cleared")
	}
}

func TestContextCancelledWhileWaitingForRefresh(t *testing.T) {
	f := newFakeAPI(t)
	f.issueOnRefresh("R1", "A2")
	f.refreshDelay = 300 * time.Millisecond
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, _ := newTestClient(t, f, store)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.GetJSON(ctx, "/transactions/", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}

	// The shared refresh is not aborted by one impatient caller.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess := storedSession(t, store); sess != nil && sess.AccessToken == "A2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("refresh did not complete after the waiter was cancelled")
}

func TestNewValidation(t *testing.T) {
	store := memorystore.New(nil)
	tests := []struct {
		name  string
		base  string
		store sessions.Store
	}{
		{"nil store", "http://localhost:8001/api/v1", nil},
		{"bad scheme", "ftp://localhost/api/v1", store},
		{"no host", "http:///api/v1", store},
		{"unparseable", "http://[::1", store},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.base, tt.store); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDecodeJSONRejectsNonJSON(t *testing.T) {
	f := newFakeAPI(t)
	c, _ := newTestClient(t, f, memorystore.New(nil))

	var out map[string]any
	err := c.GetJSON(context.Background(), "/html", nil, &out)
	if !errors.Is(err, ErrUnexpectedContentType) {
		t.Fatalf("err = %v, want ErrUnexpectedContentType", err)
	}

	problem := &Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/problem+json; charset=utf-8"}},
		Body:       []byte(`{"ok":true}`),
	}
	if err := problem.DecodeJSON(&out); err != nil {
		t.Fatalf("DecodeJSON(+json): %v", err)
	}
}

func TestResolveKeepsBasePath(t *testing.T) {
	base, _ := url.Parse("http://localhost:8001/api/v1/")
	tests := map[string]string{
		"/transactions/":       "http://localhost:8001/api/v1/transactions/",
		"transactions/abc":     "http://localhost:8001/api/v1/transactions/abc",
		"/users/search":        "http://localhost:8001/api/v1/users/search",
		"/users/refresh-token": "http://localhost:8001/api/v1/users/refresh-token",
	}
	for in, want := range tests {
		if got := resolve(base, in).String(); got != want {
			t.Errorf("resolve(%q) = %q, want %q", in, got, want)
		}
	}
}
