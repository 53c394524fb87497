package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/ggoodman/remitadmin-go/apiclient"
	"github.com/ggoodman/remitadmin-go/sessions"
	"github.com/google/uuid"
)

const (
	loginPath        = "/users/login"
	logoutPath       = "/users/logout"
	userSearchPath   = "/users/search"
	transactionsPath = "/transactions/"
	searchPath       = "/transactions/search"
	promotionPath    = "/transactions/notify/promotion"

	// minUserQueryLen mirrors the dashboard, which doesn't search customers
	// on fewer than two characters.
	minUserQueryLen = 2
)

var (
	// ErrNotAdmin is returned by Login for accounts without the admin role.
	ErrNotAdmin = errors.New("admin: access restricted to administrators")

	// ErrNotLoggedIn is returned when the session store is empty.
	ErrNotLoggedIn = errors.New("admin: not logged in")

	// ErrNotActionable is returned when validating or cancelling a
	// transaction that is no longer pending.
	ErrNotActionable = errors.New("admin: transaction is not pending")

	// ErrInvalidCredentials is returned by Login when a field is empty.
	ErrInvalidCredentials = errors.New("admin: credential and password are required")
)

// Option customizes a Service.
type Option func(*Service)

// WithLogger overrides the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// Service performs back-office operations through an authenticated client.
type Service struct {
	client *apiclient.Client
	store  sessions.Store
	log    *slog.Logger
}

// New creates a Service that persists logins in the client's session store.
func New(client *apiclient.Client, opts ...Option) (*Service, error) {
	if client == nil {
		return nil, errors.New("admin: client is required")
	}
	s := &Service{client: client, store: client.Store(), log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type credentials struct {
	Credential string `json:"credential"`
	Password   string `json:"password"`
}

type loginResponse struct {
	User
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Login authenticates with an email or phone number and a password. The
// session is persisted only for administrators.
func (s *Service) Login(ctx context.Context, credential, password string) (*User, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	req, err := apiclient.NewRequest(http.MethodPost, loginPath, nil, credentials{Credential: credential, Password: password})
	if err != nil {
		return nil, err
	}
	req.SkipAuth = true

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("admin: login: %w", err)
	}
	var lr loginResponse
	if err := resp.DecodeJSON(&lr); err != nil {
		return nil, fmt.Errorf("admin: login: %w", err)
	}
	if !lr.User.IsAdmin() {
		s.log.WarnContext(ctx, "admin.login.denied", slog.String("user_id", lr.ID.String()), slog.String("role", string(lr.Role)))
		return nil, ErrNotAdmin
	}

	profile, err := json.Marshal(lr.User)
	if err != nil {
		return nil, fmt.Errorf("admin: encode profile: %w", err)
	}
	sess := &sessions.Session{AccessToken: lr.AccessToken, RefreshToken: lr.RefreshToken, Profile: profile}
	if err := s.store.Set(ctx, sess); err != nil {
		return nil, fmt.Errorf("admin: persist session: %w", err)
	}
	s.log.InfoContext(ctx, "admin.login.ok", slog.String("user_id", lr.ID.String()))
	user := lr.User
	return &user, nil
}

// Logout revokes the access token on the backend (best effort) and clears
// the local session.
func (s *Service) Logout(ctx context.Context) error {
	sess, err := s.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("admin: load session: %w", err)
	}
	if sess != nil {
		if err := s.client.PostJSON(ctx, logoutPath, nil, nil); err != nil {
			s.log.WarnContext(ctx, "admin.logout.revoke.fail", slog.String("err", err.Error()))
		}
	}
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("admin: clear session: %w", err)
	}
	return nil
}

// CurrentUser returns the profile cached at login, without a network call.
func (s *Service) CurrentUser(ctx context.Context) (*User, error) {
	sess, err := s.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: load session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotLoggedIn
	}
	var u User
	if err := sess.DecodeProfile(&u); err != nil {
		return nil, fmt.Errorf("admin: decode profile: %w", err)
	}
	return &u, nil
}

// ListTransactions returns every transaction, most recent first.
func (s *Service) ListTransactions(ctx context.Context) ([]Transaction, error) {
	var txs []Transaction
	if err := s.client.GetJSON(ctx, transactionsPath, nil, &txs); err != nil {
		return nil, fmt.Errorf("admin: list transactions: %w", err)
	}
	sortByTimestampDesc(txs)
	return txs, nil
}

// GetTransaction fetches one transaction by id.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var tx Transaction
	if err := s.client.GetJSON(ctx, transactionPath(id), nil, &tx); err != nil {
		return nil, fmt.Errorf("admin: get transaction %s: %w", id, err)
	}
	return &tx, nil
}

// ValidateTransaction marks a pending transaction as completed.
func (s *Service) ValidateTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.transition(ctx, id, StatusCompleted)
}

// CancelTransaction marks a pending transaction as cancelled.
func (s *Service) CancelTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.transition(ctx, id, StatusCancelled)
}

type statusUpdate struct {
	Status TransactionStatus `json:"status"`
}

// transition refuses to touch transactions that are no longer pending, as
// the dashboard only offered these actions on pending rows.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to TransactionStatus) (*Transaction, error) {
	cur, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.Actionable() {
		return nil, fmt.Errorf("%w: %s is %q", ErrNotActionable, cur.Reference, cur.Status)
	}

	var updated Transaction
	if err := s.client.PatchJSON(ctx, transactionPath(id), statusUpdate{Status: to}, &updated); err != nil {
		return nil, fmt.Errorf("admin: set transaction %s to %q: %w", id, to, err)
	}
	s.log.InfoContext(ctx, "admin.transaction.status",
		slog.String("id", id.String()),
		slog.String("from", string(cur.Status)),
		slog.String("to", string(updated.Status)),
	)
	return &updated, nil
}

// NotifyTransaction asks the backend to push the transaction's status to
// its sender.
func (s *Service) NotifyTransaction(ctx context.Context, id uuid.UUID) error {
	if err := s.client.PostJSON(ctx, transactionPath(id)+"/notify", nil, nil); err != nil {
		return fmt.Errorf("admin: notify transaction %s: %w", id, err)
	}
	return nil
}

// SearchUsers looks customers up by name, phone or email. Queries shorter
// than two characters return no results without contacting the backend.
func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minUserQueryLen {
		return nil, nil
	}
	var users []User
	if err := s.client.GetJSON(ctx, userSearchPath, url.Values{"q": {query}}, &users); err != nil {
		return nil, fmt.Errorf("admin: search users: %w", err)
	}
	return users, nil
}

func transactionPath(id uuid.UUID) string {
	return transactionsPath + id.String()
}

func sortByTimestampDesc(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.After(txs[j].Timestamp.Time)
	})
}
