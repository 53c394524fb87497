// Command remitadmin is the back-office CLI for the remittance service. It
// keeps the admin session in a local file (or Redis) and refreshes expired
// access tokens transparently.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// exitCoder is implemented by errors that carry their own exit status.
type exitCoder interface {
	ExitCode() int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCommand(ctx, &streams{in: stdin, out: stdout, err: stderr})
	err := root.Execute(args)
	if err == nil {
		return 0
	}
	var silent *exitError
	if !errors.As(err, &silent) {
		fmt.Fprintf(stderr, "remitadmin: %v\n", err)
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 1
}
