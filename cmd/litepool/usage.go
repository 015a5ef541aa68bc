package main

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/caasmo/litepool/db/zombiezen"
)

// command is one litepool subcommand. Commands that need no manager leave
// run nil and are handled by main.
type command struct {
	name    string
	args    string // argument synopsis
	group   string
	summary string
	details string
	run     func(m *zombiezen.Manager, w io.Writer, configPath string, args []string) error
}

// groups orders the sections of the help output.
var groups = []string{"Schema", "Inspect", "Run"}

var commands = []command{
	{
		name:    "migrate",
		args:    "[name]",
		group:   "Schema",
		summary: "Create the database if needed and bring it to db_version",
		details: "Runs database-<name>.sql on an empty file, then the upgrade scripts up to db_version.",
		run: func(m *zombiezen.Manager, w io.Writer, _ string, args []string) error {
			return migrateCommand(m, w, args)
		},
	},
	{
		name:    "stats",
		args:    "[name]",
		group:   "Inspect",
		summary: "Open the database and print pool statistics",
		run: func(m *zombiezen.Manager, w io.Writer, _ string, args []string) error {
			return statsCommand(m, w, args)
		},
	},
	{
		name:    "exec",
		args:    "<name> <sql>",
		group:   "Inspect",
		summary: "Run a statement and print the returned rows",
		details: "Rows are printed one per line as sorted column=value pairs.",
		run: func(m *zombiezen.Manager, w io.Writer, _ string, args []string) error {
			return execCommand(m, w, args)
		},
	},
	{
		name:    "hold",
		args:    "[name]",
		group:   "Run",
		summary: "Keep the database open until interrupted",
		details: "SIGINT or SIGTERM shuts the pool down. SIGHUP reloads the -config file.",
		run:     holdCommand,
	},
	{
		name:    "help",
		args:    "[command]",
		group:   "Run",
		summary: "Show help for litepool or one command",
	},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// printUsage writes the global help: synopsis, commands by group, global
// flags and examples.
func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  litepool [-config file] <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Opens, migrates and inspects the SQLite databases of a litepool configuration.")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, group := range groups {
		fmt.Fprintf(tw, "\n%s:\n", group)
		for _, c := range commands {
			if c.group == group {
				fmt.Fprintf(tw, "  %s %s\t%s\n", c.name, c.args, c.summary)
			}
		}
	}
	fmt.Fprintln(tw, "\nGlobal options:")
	fs.VisitAll(func(f *flag.Flag) {
		name, usage := flag.UnquoteUsage(f)
		fmt.Fprintf(tw, "  -%s %s\t%s\n", f.Name, name, usage)
	})
	tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  litepool -config litepool.toml migrate")
	fmt.Fprintln(w, "  litepool exec meeting \"SELECT * FROM settings\"")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'litepool help <command>' for details on a command.")
}

// printCommandUsage writes the help of a single command.
func printCommandUsage(w io.Writer, c command) {
	fmt.Fprintf(w, "Usage:\n  litepool [-config file] %s %s\n\n%s.\n", c.name, c.args, c.summary)
	if c.details != "" {
		fmt.Fprintf(w, "%s\n", c.details)
	}
	if c.args == "[name]" {
		fmt.Fprintln(w, "Without a name the configured default_db is used.")
	}
}

func helpCommand(w io.Writer, fs *flag.FlagSet, args []string) error {
	switch len(args) {
	case 0:
		printUsage(w, fs)
		return nil
	case 1:
		c, ok := lookupCommand(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
		}
		printCommandUsage(w, c)
		return nil
	default:
		return fmt.Errorf("%w: expected at most one command", ErrTooManyArguments)
	}
}
