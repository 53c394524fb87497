package apiclient

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRefreshPath is the backend's token refresh endpoint.
const DefaultRefreshPath = "/users/refresh-token"

// SessionInvalidatedFunc is called after the session has been cleared
// because it could not be recovered. err is the error returned to the caller
// whose request triggered the invalidation.
type SessionInvalidatedFunc func(ctx context.Context, err error)

// Option configures a Client.
type Option func(*config)

type config struct {
	httpClient    *http.Client
	logger        *slog.Logger
	refreshPath   string
	onInvalidated []SessionInvalidatedFunc
	registerer    prometheus.Registerer
	userAgent     string
	earlyRefresh  time.Duration
	now           func() time.Time
}

// WithHTTPClient overrides the underlying HTTP client. Defaults to a client
// with a 30s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRefreshPath overrides the refresh endpoint path.
func WithRefreshPath(p string) Option {
	return func(c *config) {
		if p != "" {
			c.refreshPath = p
		}
	}
}

// WithOnSessionInvalidated subscribes fn to session invalidation. May be
// given several times; subscribers are called in registration order.
func WithOnSessionInvalidated(fn SessionInvalidatedFunc) Option {
	return func(c *config) {
		if fn != nil {
			c.onInvalidated = append(c.onInvalidated, fn)
		}
	}
}

// WithMetrics registers the client's collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *config) { c.userAgent = ua }
}

// WithEarlyRefresh refreshes before dispatch when the stored access token is
// a JWT expiring within leeway. Disabled by default: the client otherwise
// only refreshes in response to a 401.
func WithEarlyRefresh(leeway time.Duration) Option {
	return func(c *config) { c.earlyRefresh = leeway }
}

// withClock is used by tests.
func withClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}
