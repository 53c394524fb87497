package main

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/ggoodman/remitadmin-go/admin"
	"github.com/ggoodman/remitadmin-go/apiclient"
	"github.com/ggoodman/remitadmin-go/backendtest"
	"github.com/ggoodman/remitadmin-go/sessions"
	"github.com/ggoodman/remitadmin-go/sessions/memorystore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func demoCommand(a *app) *command {
	var (
		concurrency int
		accessTTL   time.Duration
	)
	return &command{
		name:    "demo",
		summary: "Walk through login, token refresh and session expiry against a local fake backend",
		usage:   "remitadmin demo [--concurrency N]",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("demo", pflag.ContinueOnError)
			fs.IntVar(&concurrency, "concurrency", 5, "parallel requests sent with the expired token")
			fs.DurationVar(&accessTTL, "access-ttl", 2*time.Second, "lifetime of access tokens issued by the fake backend")
			return fs
		},
		run: func(args []string) error {
			lvl, err := a.cfg.logLevel()
			if err != nil {
				return usagef("%v", err)
			}
			a.log = newLogger(a.io.err, lvl)
			if accessTTL <= 0 {
				return usagef("demo: --access-ttl must be positive")
			}
			return runDemo(a, max(concurrency, 1), accessTTL)
		},
	}
}

func runDemo(a *app, concurrency int, accessTTL time.Duration) error {
	ctx := a.ctx
	out := a.io.out

	backend := backendtest.New(backendtest.WithLogger(a.log), backendtest.WithAccessTTL(accessTTL))
	defer backend.Close()
	fmt.Fprintf(out, "Fake backend listening on %s\n", backend.BaseURL())

	reg := prometheus.NewRegistry()
	store := memorystore.New(nil)
	client, err := apiclient.New(backend.BaseURL(), store,
		apiclient.WithLogger(a.log),
		apiclient.WithMetrics(reg),
		apiclient.WithOnSessionInvalidated(a.sessionInvalidated),
	)
	if err != nil {
		return err
	}
	svc, err := admin.New(client, admin.WithLogger(a.log))
	if err != nil {
		return err
	}

	u, err := svc.Login(ctx, backendtest.AdminEmail, backendtest.AdminPassword)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n1. Logged in as %s\n", u.FullName)

	txs, err := svc.ListTransactions(ctx)
	if err != nil {
		return err
	}
	if err := renderTransactions(out, txs); err != nil {
		return err
	}

	sess, err := store.Get(ctx)
	if err != nil || sess == nil {
		return fmt.Errorf("demo: session missing after login: %v", err)
	}
	exp, err := sessions.AccessTokenExpiry(sess.AccessToken)
	if err != nil {
		return err
	}
	// exp has second precision; the extra second makes sure the backend
	// sees it as past.
	wait := time.Until(exp) + time.Second
	fmt.Fprintf(out, "\n2. Waiting %s for the access token to expire, then %d requests go out at once\n", wait.Round(100*time.Millisecond), concurrency)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}
	g, gctx := errgroup.WithContext(ctx)
	for range concurrency {
		g.Go(func() error {
			_, err := svc.ListTransactions(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(out, "All succeeded after %d refresh call(s)\n", backend.RefreshCalls())

	fmt.Fprintln(out, "\n3. Access tokens expire and the refresh token is revoked")
	backend.ExpireAccessTokens()
	backend.FailRefresh(http.StatusUnauthorized)
	_, err = svc.ListTransactions(ctx)
	fmt.Fprintf(out, "Request failed: %v\n", err)
	if _, err := svc.CurrentUser(ctx); err != nil {
		fmt.Fprintf(out, "Local session: %v\n", err)
	}

	fmt.Fprintln(out, "\nClient metrics:")
	return printCounters(out, reg)
}

type counter struct {
	name  string
	value float64
}

// gatherCounters flattens every counter in reg into "name label=value" form,
// sorted by name.
func gatherCounters(reg *prometheus.Registry) ([]counter, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	var out []counter
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			out = append(out, counter{name: name, value: m.GetCounter().GetValue()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

func printCounters(w io.Writer, reg *prometheus.Registry) error {
	counters, err := gatherCounters(reg)
	if err != nil {
		return err
	}
	for _, c := range counters {
		if _, err := fmt.Fprintf(w, "  %s %g\n", c.name, c.value); err != nil {
			return err
		}
	}
	return nil
}
