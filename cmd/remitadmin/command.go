package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// usageError reports bad invocations with exit status 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }
func (e *usageError) ExitCode() int { return 2 }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// command is a node of the CLI tree.
type command struct {
	name    string
	summary string
	usage   string
	// flags is called lazily; nil means the command takes no flags.
	flags       func() *pflag.FlagSet
	run         func(args []string) error
	subcommands []*command
}

func (c *command) execute(args []string, help io.Writer) error {
	if len(c.subcommands) > 0 {
		if len(args) == 0 || isHelpFlag(args[0]) {
			c.printHelp(help)
			if len(args) == 0 {
				return usagef("command required")
			}
			return nil
		}
		for _, sub := range c.subcommands {
			if sub.name == args[0] {
				return sub.execute(args[1:], help)
			}
		}
		return usagef("unknown command %q (run 'remitadmin --help')", args[0])
	}

	if len(args) > 0 && isHelpFlag(args[0]) {
		c.printHelp(help)
		return nil
	}
	if c.flags != nil {
		fs := c.flags()
		fs.SetOutput(io.Discard)
		if err := fs.Parse(args); err != nil {
			if err == pflag.ErrHelp {
				c.printHelp(help)
				return nil
			}
			return usagef("%s: %v", c.name, err)
		}
		args = fs.Args()
	}
	return c.run(args)
}

func (c *command) printHelp(w io.Writer) {
	if c.usage != "" {
		fmt.Fprintf(w, "Usage: %s\n", c.usage)
	}
	if c.summary != "" {
		fmt.Fprintf(w, "\n%s\n", c.summary)
	}
	if len(c.subcommands) > 0 {
		fmt.Fprintln(w, "\nCommands:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, sub := range c.subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.name, sub.summary)
		}
		_ = tw.Flush()
	}
	if c.flags != nil {
		if usage := c.flags().FlagUsages(); strings.TrimSpace(usage) != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usage)
		}
	}
}

func isHelpFlag(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}
