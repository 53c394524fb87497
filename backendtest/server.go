package backendtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// BasePath is the API prefix served by the fake.
const BasePath = "/api/v1"

// DefaultAccessTTL is the lifetime of issued access tokens.
const DefaultAccessTTL = 15 * time.Minute

type config struct {
	accessTTL time.Duration
	logger    *slog.Logger
	secret    []byte
}

// Option configures a Server.
type Option func(*config)

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.accessTTL = d
		}
	}
}

// WithLogger logs each request at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Server is a running fake backend.
type Server struct {
	srv *httptest.Server
	cfg config

	mu            sync.Mutex
	users         []*User
	txs           []*Transaction
	refreshTokens map[string]uuid.UUID
	revoked       map[string]struct{}
	promotions    []Promotion
	notified      []uuid.UUID
	// generation is embedded in access tokens; bumping it expires them all.
	generation    int
	refreshStatus int

	refreshCalls atomic.Int64
}

type claims struct {
	jwt.RegisteredClaims
	Generation int `json:"gen"`
}

// New starts a fake backend on a loopback port.
func New(opts ...Option) *Server {
	cfg := config{
		accessTTL: DefaultAccessTTL,
		logger:    slog.New(slog.DiscardHandler),
		secret:    []byte(uuid.NewString()),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		cfg:           cfg,
		refreshTokens: map[string]uuid.UUID{},
		revoked:       map[string]struct{}{},
	}
	s.users = seedUsers()
	s.txs = seedTransactions(s.users)

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+BasePath+"/users/login", s.handleLogin)
	mux.HandleFunc("POST "+BasePath+"/users/refresh-token", s.handleRefresh)
	mux.HandleFunc("POST "+BasePath+"/users/logout", s.authed(false, s.handleLogout))
	mux.HandleFunc("GET "+BasePath+"/users/search", s.authed(true, s.handleUserSearch))
	mux.HandleFunc("GET "+BasePath+"/transactions/{$}", s.authed(true, s.handleList))
	mux.HandleFunc("GET "+BasePath+"/transactions/search", s.authed(true, s.handleSearch))
	mux.HandleFunc("GET "+BasePath+"/transactions/{id}", s.authed(true, s.handleGet))
	mux.HandleFunc("PATCH "+BasePath+"/transactions/{id}", s.authed(true, s.handlePatch))
	mux.HandleFunc("POST "+BasePath+"/transactions/{id}/notify", s.authed(true, s.handleNotify))
	mux.HandleFunc("POST "+BasePath+"/transactions/notify/promotion", s.authed(true, s.handlePromotion))

	s.srv = httptest.NewServer(s.logRequests(mux))
	return s
}

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// URL is the server root, e.g. http://127.0.0.1:port.
func (s *Server) URL() string { return s.srv.URL }

// BaseURL is the API root clients should be configured with.
func (s *Server) BaseURL() string { return s.srv.URL + BasePath }

// RefreshCalls counts requests to the refresh endpoint.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// ExpireAccessTokens makes every access token issued so far invalid. Refresh
// tokens keep working.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// FailRefresh makes the refresh endpoint answer with status. Zero restores
// normal behaviour.
func (s *Server) FailRefresh(status int) {
	s.mu.Lock()
	s.refreshStatus = status
	s.mu.Unlock()
}

// Users returns a snapshot of the seeded accounts.
func (s *Server) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, len(s.users))
	for i, u := range s.users {
		out[i] = *u
	}
	return out
}

// Transactions returns a snapshot, oldest first.
func (s *Server) Transactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, len(s.txs))
	for i, tx := range s.txs {
		out[i] = *tx
	}
	return out
}

// TransactionsWithStatus returns the transactions currently in status.
func (s *Server) TransactionsWithStatus(status string) []Transaction {
	var out []Transaction
	for _, tx := range s.Transactions() {
		if tx.Status == status {
			out = append(out, tx)
		}
	}
	return out
}

// Promotions returns every promotion accepted so far.
func (s *Server) Promotions() []Promotion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.promotions)
}

// Notified returns the ids of transactions whose sender was notified.
func (s *Server) Notified() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notified)
}

// IssueAccessToken mints a valid access token for the user with the given
// email, without going through login.
func (s *Server) IssueAccessToken(email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findUserLocked(email)
	if u == nil {
		return "", fmt.Errorf("backendtest: no user %q", email)
	}
	return s.signLocked(u.ID)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.cfg.logger.Debug("backendtest.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", r.Header.Get("X-Request-Id")),
		)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) signLocked(sub uuid.UUID) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.accessTTL)),
			ID:        uuid.NewString(),
		},
		Generation: s.generation,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.cfg.secret)
}

var errTokenRejected = errors.New("token rejected")

// verify returns the user owning a valid bearer token.
func (s *Server) verify(r *http.Request) (*User, string, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return nil, "", errTokenRejected
	}
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.cfg.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errTokenRejected, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Generation != s.generation {
		return nil, "", errTokenRejected
	}
	if _, gone := s.revoked[c.ID]; gone {
		return nil, "", errTokenRejected
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, "", errTokenRejected
	}
	u := s.userByIDLocked(id)
	if u == nil {
		return nil, "", errTokenRejected
	}
	return u, c.ID, nil
}

type authedHandler func(w http.ResponseWriter, r *http.Request, u *User, tokenID string)

func (s *Server) authed(adminOnly bool, h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, jti, err := s.verify(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, "Token invalide ou expiré")
			return
		}
		if adminOnly && u.Role != "admin" {
			writeDetail(w, http.StatusForbidden, "Accès réservé aux administrateurs")
			return
		}
		h(w, r, u, jti)
	}
}

func (s *Server) findUserLocked(credential string) *User {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, credential) || u.Phone == credential {
			return u
		}
	}
	return nil
}

func (s *Server) userByIDLocked(id uuid.UUID) *User {
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (s *Server) txByIDLocked(id uuid.UUID) *Transaction {
	for _, tx := range s.txs {
		if tx.ID == id {
			return tx
		}
	}
	return nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, detail{Detail: msg})
}
