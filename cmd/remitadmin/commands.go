package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ggoodman/remitadmin-go/admin"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

type rootCommand struct {
	app  *app
	tree *command
}

func newRootCommand(ctx context.Context, io *streams) *rootCommand {
	a := &app{ctx: ctx, io: io}
	tree := &command{
		name:    "remitadmin",
		usage:   "remitadmin [global flags] <command> [flags] [args]",
		summary: "Back-office client for the remittance service.",
		subcommands: []*command{
			loginCommand(a),
			logoutCommand(a),
			whoamiCommand(a),
			listCommand(a),
			showCommand(a),
			searchCommand(a),
			transitionCommand(a, "validate", "Mark a pending transaction as completed", (*admin.Service).ValidateTransaction),
			transitionCommand(a, "cancel", "Cancel a pending transaction", (*admin.Service).CancelTransaction),
			notifyCommand(a),
			usersCommand(a),
			promoteCommand(a),
			demoCommand(a),
		},
	}
	return &rootCommand{app: a, tree: tree}
}

// Execute parses the global flags, which must precede the command name.
func (r *rootCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fs := pflag.NewFlagSet("remitadmin", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(r.app.io.err)
	fs.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "backend API root")
	fs.StringVar(&cfg.SessionBackend, "session-backend", cfg.SessionBackend, "where the session is kept: file or redis")
	fs.StringVar(&cfg.SessionFile, "session-file", cfg.SessionFile, "session file path (file backend)")
	fs.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "timeout of each request to the backend")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			r.tree.printHelp(r.app.io.err)
			fmt.Fprintf(r.app.io.err, "\nGlobal flags:\n%s", fs.FlagUsages())
			return nil
		}
		return usagef("%v", err)
	}
	r.app.cfg = cfg
	defer r.app.close()
	return r.tree.execute(fs.Args(), r.app.io.err)
}

// call builds the service and runs fn with it. Commands validate their
// arguments before calling it.
func (a *app) call(fn func(svc *admin.Service) error) error {
	svc, err := a.service()
	if err != nil {
		return err
	}
	return a.explain(fn(svc))
}

// loggedIn fails fast, without a network round trip, when no session exists.
func (a *app) loggedIn(svc *admin.Service) error {
	_, err := svc.CurrentUser(a.ctx)
	if errors.Is(err, admin.ErrNotLoggedIn) {
		return errors.New("not logged in, run remitadmin login")
	}
	return err
}

func parseID(args []string, what string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.Nil, usagef("expected exactly one %s id", what)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, usagef("invalid %s id %q", what, args[0])
	}
	return id, nil
}

func loginCommand(a *app) *command {
	var credential, passwordFile string
	return &command{
		name:    "login",
		summary: "Sign in with an administrator account",
		usage:   "remitadmin login --user <email|phone> [--password-file <path|->]",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
			fs.StringVarP(&credential, "user", "u", "", "email address or phone number")
			fs.StringVar(&passwordFile, "password-file", "", `read the password from a file ("-" for stdin)`)
			return fs
		},
		run: func(args []string) error {
			if credential == "" {
				return usagef("login: --user is required")
			}
			password, err := a.readPassword(passwordFile)
			if err != nil {
				return err
			}
			return a.call(func(svc *admin.Service) error {
				u, err := svc.Login(a.ctx, credential, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.io.out, "Logged in as %s (%s)\n", u.FullName, u.Email)
				if a.sessionPath != "" {
					fmt.Fprintf(a.io.err, "Session saved to %s\n", a.sessionPath)
				}
				return nil
			})
		},
	}
}

// readPassword prompts on the terminal when stdin is one, and otherwise
// reads the first line of stdin or of the given file.
func (a *app) readPassword(path string) (string, error) {
	if path != "" && path != "-" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}
	if f, ok := a.io.in.(*os.File); ok && path == "" && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.io.err, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.io.err)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(a.io.in).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no password on stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func logoutCommand(a *app) *command {
	return &command{
		name:    "logout",
		summary: "Revoke the session and forget it locally",
		usage:   "remitadmin logout",
		run: func(args []string) error {
			return a.call(func(svc *admin.Service) error {
				if err := svc.Logout(a.ctx); err != nil {
					return err
				}
				fmt.Fprintln(a.io.out, "Logged out")
				return nil
			})
		},
	}
}

func whoamiCommand(a *app) *command {
	var asJSON bool
	return &command{
		name:    "whoami",
		summary: "Show the signed-in administrator",
		usage:   "remitadmin whoami [--json]",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("whoami", pflag.ContinueOnError)
			fs.BoolVar(&asJSON, "json", false, "print JSON")
			return fs
		},
		run: func(args []string) error {
			return a.call(func(svc *admin.Service) error {
				u, err := svc.CurrentUser(a.ctx)
				if errors.Is(err, admin.ErrNotLoggedIn) {
					return errors.New("not logged in, run remitadmin login")
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a.io.out, u)
				}
				return renderUser(a.io.out, u)
			})
		},
	}
}

func listCommand(a *app) *command {
	var asJSON bool
	var limit int
	return &command{
		name:    "list",
		summary: "List transactions, most recent first",
		usage:   "remitadmin list [--limit N] [--json]",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
			fs.BoolVar(&asJSON, "json", false, "print JSON")
			fs.IntVarP(&limit, "limit", "n", 0, "show at most N transactions (0 for all)")
			return fs
		},
		run: func(args []string) error {
			if limit < 0 {
				return usagef("list: --limit must not be negative")
			}
			return a.call(func(svc *admin.Service) error {
				if err := a.loggedIn(svc); err != nil {
					return err
				}
				txs, err := svc.ListTransactions(a.ctx)
				if err != nil {
					return err
				}
				if limit > 0 && len(txs) > limit {
					txs = txs[:limit]
				}
				if asJSON {
					return writeJSON(a.io.out, txs)
				}
				return renderTransactions(a.io.out, txs)
			})
		},
	}
}

func showCommand(a *app) *command {
	var asJSON bool
	return &command{
		name:    "show",
		summary: "Show one transaction",
		usage:   "remitadmin show <id> [--json]",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("show", pflag.ContinueOnError)
			fs.BoolVar(&asJSON, "json", false, "print JSON")
			return fs
		},
		run: func(args []string) error {
			id, err := parseID(args, "transaction")
			if err != nil {
				return err
			}
			return a.call(func(svc *admin.Service) error {
				if err := a.loggedIn(svc); err != nil {
					return err
				}
				tx, err := svc.GetTransaction(a.ctx, id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a.io.out, tx)
				}
				return renderTransaction(a.io.out, tx)
			})
		},
	}
}

func searchCommand(a *app) *command {
	var (
		query, from, to string
		statuses        []string
		asJSON          bool
	)
	return &command{
		name:    "search",
		summary: "Search transactions by text, status and date range",
		usage:   "remitadmin search [-q text] [--status s,...] [--from YYYY-MM-DD] [--to YYYY-MM-DD] [--json]",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("search", pflag.ContinueOnError)
			fs.StringVarP(&query, "query", "q", "", "reference, name or phone number")
			fs.StringSliceVar(&statuses, "status", nil, "status labels or aliases (pending, completed, cancelled, waiting, failed)")
			fs.StringVar(&from, "from", "", "first day, inclusive")
			fs.StringVar(&to, "to", "", "last day, inclusive")
			fs.BoolVar(&asJSON, "json", false, "print JSON")
			return fs
		},
		run: func(args []string) error {
			var f admin.SearchFilter
			f.Query = strings.Join(append([]string{query}, args...), " ")
			for _, raw := range statuses {
				st, err := admin.ParseStatus(raw)
				if err != nil {
					return usagef("%v", err)
				}
				f.Statuses = append(f.Statuses, st)
			}
			var err error
			if from != "" {
				if f.From, err = admin.ParseDate(from); err != nil {
					return usagef("%v", err)
				}
			}
			if to != "" {
				if f.To, err = admin.ParseDate(to); err != nil {
					return usagef("%v", err)
				}
			}
			if f.IsZero() {
				return usagef("search: give at least one of -q, --status, --from, --to")
			}
			if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
				return usagef("%v", admin.ErrInvalidRange)
			}
			return a.call(func(svc *admin.Service) error {
				if err := a.loggedIn(svc); err != nil {
					return err
				}
				txs, err := svc.SearchTransactions(a.ctx, f)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a.io.out, txs)
				}
				return renderTransactions(a.io.out, txs)
			})
		},
	}
}

type transitionFunc func(*admin.Service, context.Context, uuid.UUID) (*admin.Transaction, error)

func transitionCommand(a *app, name, summary string, fn transitionFunc) *command {
	return &command{
		name:    name,
		summary: summary,
		usage:   "remitadmin " + name + " <id>",
		run: func(args []string) error {
			id, err := parseID(args, "transaction")
			if err != nil {
				return err
			}
			return a.call(func(svc *admin.Service) error {
				if err := a.loggedIn(svc); err != nil {
					return err
				}
				tx, err := fn(svc, a.ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.io.out, "%s %s is now %s\n", tx.Status.Icon(), tx.Reference, tx.Status)
				return nil
			})
		},
	}
}

func notifyCommand(a *app) *command {
	return &command{
		name:    "notify",
		summary: "Push a transaction's status to its sender",
		usage:   "remitadmin notify <id>",
		run: func(args []string) error {
			id, err := parseID(args, "transaction")
			if err != nil {
				return err
			}
			return a.call(func(svc *admin.Service) error {
				if err := a.loggedIn(svc); err != nil {
					return err
				}
				if err := svc.NotifyTransaction(a.ctx, id); err != nil {
					return err
				}
				fmt.Fprintln(a.io.out, "Notification sent")
				return nil
			})
		},
	}
}

func usersCommand(a *app) *command {
	var asJSON bool
	return &command{
		name:    "users",
		summary: "Find customers by name, phone or email",
		usage:   "remitadmin users <query> [--json]",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("users", pflag.ContinueOnError)
			fs.BoolVar(&asJSON, "json", false, "print JSON")
			return fs
		},
		run: func(args []string) error {
			q := strings.Join(args, " ")
			if len([]rune(strings.TrimSpace(q))) < 2 {
				return usagef("users: query must have at least 2 characters")
			}
			return a.call(func(svc *admin.Service) error {
				if err := a.loggedIn(svc); err != nil {
					return err
				}
				users, err := svc.SearchUsers(a.ctx, q)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a.io.out, users)
				}
				return renderUsers(a.io.out, users)
			})
		},
	}
}

func promoteCommand(a *app) *command {
	var (
		title, message, matching string
		ids                      []string
	)
	return &command{
		name:    "promote",
		summary: "Send a promotional notification to customers",
		usage:   "remitadmin promote --title T --message M (--user ID ... | --matching QUERY)",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("promote", pflag.ContinueOnError)
			fs.StringVar(&title, "title", "", "notification title")
			fs.StringVar(&message, "message", "", "notification body")
			fs.StringArrayVar(&ids, "user", nil, "recipient user id (repeatable)")
			fs.StringVar(&matching, "matching", "", "send to every user matching this search")
			return fs
		},
		run: func(args []string) error {
			p := admin.Promotion{Title: title, Message: message}
			for _, raw := range ids {
				id, err := uuid.Parse(raw)
				if err != nil {
					return usagef("invalid user id %q", raw)
				}
				p.UserIDs = append(p.UserIDs, id)
			}
			switch {
			case strings.TrimSpace(title) == "":
				return usagef("promote: --title is required")
			case strings.TrimSpace(message) == "":
				return usagef("promote: --message is required")
			case len(p.UserIDs) == 0 && matching == "":
				return usagef("promote: give --user or --matching")
			}
			return a.call(func(svc *admin.Service) error {
				if err := a.loggedIn(svc); err != nil {
					return err
				}
				if matching != "" {
					users, err := svc.SearchUsers(a.ctx, matching)
					if err != nil {
						return err
					}
					for _, u := range users {
						p.UserIDs = append(p.UserIDs, u.ID)
					}
				}
				if err := p.Validate(); err != nil {
					return usagef("%v", err)
				}
				if err := svc.SendPromotion(a.ctx, p); err != nil {
					return err
				}
				fmt.Fprintln(a.io.out, "Promotion sent")
				return nil
			})
		},
	}
}
