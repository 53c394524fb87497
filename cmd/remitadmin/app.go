package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ggoodman/remitadmin-go/admin"
	"github.com/ggoodman/remitadmin-go/apiclient"
	"github.com/ggoodman/remitadmin-go/internal/logctx"
	"github.com/ggoodman/remitadmin-go/sessions"
	"github.com/ggoodman/remitadmin-go/sessions/filestore"
	"github.com/ggoodman/remitadmin-go/sessions/redisstore"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	sessionExpiredMessage = "session expired, run remitadmin login"
	userAgent             = "remitadmin"
)

type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// app holds what a command needs. It is built on first use, after argument
// validation, so that --help and usage errors never touch the session store.
type app struct {
	ctx context.Context
	io  *streams
	cfg *config

	log     *slog.Logger
	store   sessions.Store
	closer  io.Closer
	client  *apiclient.Client
	svc     *admin.Service
	metrics *prometheus.Registry

	// sessionPath is set for the file backend.
	sessionPath string
	// expired is set once the client dropped the session.
	expired bool
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(logctx.Handler{Handler: h})
}

func (a *app) service() (*admin.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	lvl, err := a.cfg.logLevel()
	if err != nil {
		return nil, usagef("%v", err)
	}
	if a.cfg.HTTPTimeout <= 0 {
		return nil, usagef("timeout must be positive, got %s", a.cfg.HTTPTimeout)
	}
	a.log = newLogger(a.io.err, lvl)

	store, closer, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.store, a.closer = store, closer

	a.metrics = prometheus.NewRegistry()
	client, err := apiclient.New(a.cfg.APIURL, store,
		apiclient.WithHTTPClient(&http.Client{Timeout: a.cfg.HTTPTimeout}),
		apiclient.WithUserAgent(userAgent),
		apiclient.WithLogger(a.log),
		apiclient.WithMetrics(a.metrics),
		apiclient.WithOnSessionInvalidated(a.sessionInvalidated),
	)
	if err != nil {
		return nil, err
	}
	a.client = client

	svc, err := admin.New(client, admin.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	a.svc = svc
	return svc, nil
}

func (a *app) openStore() (sessions.Store, io.Closer, error) {
	switch a.cfg.SessionBackend {
	case "", "file":
		path, err := a.cfg.sessionFile()
		if err != nil {
			return nil, nil, err
		}
		// One-shot commands don't need to observe concurrent writers.
		st, err := filestore.New(path, filestore.WithLogger(a.log), filestore.WithoutWatch())
		if err != nil {
			return nil, nil, err
		}
		a.sessionPath = st.Path()
		return st, st, nil
	case "redis":
		st, err := redisstore.NewFromEnv()
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	default:
		return nil, nil, usagef("unknown session backend %q (want file or redis)", a.cfg.SessionBackend)
	}
}

func (a *app) sessionInvalidated(ctx context.Context, cause error) {
	a.log.DebugContext(ctx, "cli.session.invalidated", slog.String("cause", cause.Error()))
	a.expired = true
	fmt.Fprintln(a.io.err, sessionExpiredMessage)
}

func (a *app) close() {
	a.logCounters()
	if a.closer != nil {
		if err := a.closer.Close(); err != nil && a.log != nil {
			a.log.Warn("cli.store.close.fail", slog.String("err", err.Error()))
		}
	}
}

// errSessionExpired is returned once the invalidation message was printed,
// so run doesn't print the underlying error a second time.
var errSessionExpired = &exitError{code: 1}

type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e *exitError) ExitCode() int { return e.code }

// explain maps a command error to what the user sees. Once the session was
// invalidated the message has already been printed.
func (a *app) explain(err error) error {
	switch {
	case err == nil:
		return nil
	case a.expired:
		return errSessionExpired
	case errors.Is(err, sessions.ErrNoSession):
		return errors.New("not logged in, run remitadmin login")
	case errors.Is(err, admin.ErrNotLoggedIn):
		return errors.New("not logged in, run remitadmin login")
	}
	return err
}

// logCounters reports the client's counters for this invocation at debug
// level.
func (a *app) logCounters() {
	if a.metrics == nil || a.log == nil || !a.log.Enabled(a.ctx, slog.LevelDebug) {
		return
	}
	counters, err := gatherCounters(a.metrics)
	if err != nil {
		a.log.Debug("cli.metrics.fail", slog.String("err", err.Error()))
		return
	}
	for _, c := range counters {
		a.log.Debug("cli.metrics", slog.String("metric", c.name), slog.Float64("value", c.value))
	}
}
