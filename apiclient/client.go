package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/remitadmin-go/internal/logctx"
	"github.com/ggoodman/remitadmin-go/sessions"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	authorizationHeader = "Authorization"
	requestIDHeader     = "X-Request-Id"
	userAgentHeader     = "User-Agent"

	// maxReplays is the number of times a request is replayed after a
	// successful refresh.
	maxReplays = 1

	// maxResponseBytes bounds how much of a response body is buffered.
	maxResponseBytes = 8 << 20
)

// Client is an authenticated client for the backend REST API. It is safe
// for concurrent use.
type Client struct {
	base          *url.URL
	http          *http.Client
	store         sessions.Store
	log           *slog.Logger
	refreshPath   string
	onInvalidated []SessionInvalidatedFunc
	metrics       *metrics
	userAgent     string
	earlyRefresh  time.Duration
	now           func() time.Time

	refreshes singleflight.Group
}

// New creates a Client for the API rooted at baseURL (e.g.
// "https://api.example/api/v1"). The store is consulted before every request.
func New(baseURL string, store sessions.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("apiclient: session store is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("apiclient: invalid base URL %q: %w", baseURL, err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("apiclient: base URL must use HTTP or HTTPS scheme, got %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("apiclient: base URL %q has no host", baseURL)
	}

	cfg := &config{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
		refreshPath: DefaultRefreshPath,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	m, err := newMetrics(cfg.registerer)
	if err != nil {
		return nil, err
	}

	return &Client{
		base:          base,
		http:          cfg.httpClient,
		store:         store,
		log:           slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		refreshPath:   "/" + strings.Trim(cfg.refreshPath, "/"),
		onInvalidated: cfg.onInvalidated,
		metrics:       m,
		userAgent:     cfg.userAgent,
		earlyRefresh:  cfg.earlyRefresh,
		now:           cfg.now,
	}, nil
}

// BaseURL returns the API root the client resolves paths against.
func (c *Client) BaseURL() string { return c.base.String() }

// Store returns the session store the client reads credentials from.
func (c *Client) Store() sessions.Store { return c.store }

// Do sends req and returns the response for 2xx statuses. Any other status
// yields a nil Response and an error (*HTTPError, *RefreshError or the
// transport error).
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("apiclient: nil request")
	}

	var sess *sessions.Session
	if !req.SkipAuth {
		var err error
		if sess, err = c.store.Get(ctx); err != nil {
			return nil, fmt.Errorf("apiclient: load session: %w", err)
		}
	}
	token := ""
	if sess != nil {
		token = sess.AccessToken
	}

	if sess != nil {
		ctx = logctx.WithSessionData(ctx, sessionData(sess))
	}

	// A request dispatched with a token obtained by an early refresh counts
	// as the replay: a 401 on it is terminal.
	first := 0
	isRefresh := req.SkipAuth || c.isRefreshPath(req.Path)
	if !isRefresh && sess != nil && c.shouldRefreshEarly(token) {
		fresh, err := c.refresh(ctx, token)
		if err != nil {
			return nil, err
		}
		token = fresh
		first = maxReplays
	}

	requestID := uuid.NewString()
	for attempt := first; ; attempt++ {
		actx := logctx.WithRequestData(ctx, &logctx.RequestData{
			RequestID: requestID,
			Method:    req.Method,
			Path:      req.Path,
			Attempt:   attempt,
		})

		resp, err := c.send(actx, req, token, requestID)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		herr := newHTTPError(req, resp)
		if resp.StatusCode != http.StatusUnauthorized || isRefresh {
			return nil, herr
		}

		if attempt >= maxReplays {
			// The freshly issued token was rejected too.
			c.log.WarnContext(actx, "client.replay.unauthorized")
			c.invalidate(actx, herr)
			return nil, herr
		}
		if sess == nil {
			// Nothing to refresh with.
			return nil, herr
		}

		token, err = c.refresh(actx, token)
		if err != nil {
			return nil, err
		}
		c.log.DebugContext(actx, "client.replay")
	}
}

// send performs a single HTTP exchange and buffers the response body.
func (c *Client) send(ctx context.Context, req *Request, token, requestID string) (*Response, error) {
	hreq, err := req.build(ctx, c.base, token)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set(requestIDHeader, requestID)
	if c.userAgent != "" {
		hreq.Header.Set(userAgentHeader, c.userAgent)
	}
	if hreq.Header.Get("Accept") == "" {
		hreq.Header.Set("Accept", jsonMediaType.String())
	}

	start := c.now()
	hresp, err := c.http.Do(hreq)
	if err != nil {
		c.metrics.observeRequest(req.Method, 0)
		c.log.DebugContext(ctx, "client.request.fail", slog.String("err", err.Error()))
		return nil, err
	}
	defer hresp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(hresp.Body, maxResponseBytes+1))
	if err != nil {
		c.metrics.observeRequest(req.Method, 0)
		return nil, fmt.Errorf("apiclient: read response body: %w", err)
	}
	if len(body) > maxResponseBytes {
		c.metrics.observeRequest(req.Method, 0)
		return nil, fmt.Errorf("%w: %s %s exceeds %d bytes", ErrResponseTooLarge, req.Method, req.Path, maxResponseBytes)
	}

	c.metrics.observeRequest(req.Method, hresp.StatusCode)
	c.log.DebugContext(ctx, "client.request",
		slog.Int("status", hresp.StatusCode),
		slog.Duration("elapsed", c.now().Sub(start)),
	)
	return &Response{StatusCode: hresp.StatusCode, Header: hresp.Header, Body: body}, nil
}

// sessionData identifies the session owner for log records: the token's
// subject, and the role from the cached profile when there is one.
func sessionData(sess *sessions.Session) *logctx.SessionData {
	sd := &logctx.SessionData{}
	if sub, err := sessions.Subject(sess.AccessToken); err == nil {
		sd.UserID = sub
	}
	var profile struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	if err := sess.DecodeProfile(&profile); err == nil {
		sd.Role = profile.Role
		if sd.UserID == "" {
			sd.UserID = profile.ID
		}
	}
	return sd
}

func (c *Client) isRefreshPath(p string) bool {
	return "/"+strings.Trim(p, "/") == c.refreshPath
}

func (c *Client) shouldRefreshEarly(token string) bool {
	if c.earlyRefresh <= 0 || token == "" {
		return false
	}
	exp, err := sessions.AccessTokenExpiry(token)
	if err != nil {
		return false
	}
	return !c.now().Add(c.earlyRefresh).Before(exp)
}

// invalidate clears the session and notifies subscribers.
func (c *Client) invalidate(ctx context.Context, cause error) {
	if err := c.store.Clear(ctx); err != nil {
		c.log.ErrorContext(ctx, "client.session.clear.fail", slog.String("err", err.Error()))
	}
	c.metrics.observeInvalidated()
	c.log.InfoContext(ctx, "client.session.invalidated", slog.String("cause", cause.Error()))
	for _, fn := range c.onInvalidated {
		fn(ctx, cause)
	}
}

// GetJSON issues a GET and decodes the JSON response into out (if non-nil).
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.DoJSON(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON issues a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.DoJSON(ctx, http.MethodPost, path, nil, in, out)
}

// PatchJSON issues a PATCH with a JSON body.
func (c *Client) PatchJSON(ctx context.Context, path string, in, out any) error {
	return c.DoJSON(ctx, http.MethodPatch, path, nil, in, out)
}

// DoJSON encodes in (if non-nil) as the request body, sends it and decodes
// the response into out (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	req, err := NewRequest(method, path, query, in)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.DecodeJSON(out)
}
