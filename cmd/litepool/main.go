package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caasmo/litepool"
	"github.com/caasmo/litepool/db/zombiezen"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, output io.Writer) error {
	// We need a new flag set for each run
	fs := flag.NewFlagSet("litepool", flag.ContinueOnError)
	fs.SetOutput(output)

	configFlag := fs.String("config", "", "Path to the TOML configuration `file`")

	fs.Usage = func() { printUsage(output, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInvalidFlag, err)
	}

	cmdArgs := fs.Args()
	if len(cmdArgs) < 1 {
		fs.Usage()
		return ErrMissingCommand
	}
	name, commandArgs := cmdArgs[0], cmdArgs[1:]

	cmd, ok := lookupCommand(name)
	if !ok {
		fs.Usage()
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	if cmd.run == nil {
		return helpCommand(output, fs, commandArgs)
	}

	m, err := litepool.New(litepool.WithConfigFile(*configFlag))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreateManager, err)
	}

	cmdErr := cmd.run(m, output, *configFlag, commandArgs)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(m))
	defer cancel()
	return errors.Join(cmdErr, m.Shutdown(ctx))
}

func shutdownTimeout(m *zombiezen.Manager) time.Duration {
	return m.Config().ShutdownTimeout.Duration
}

// databaseName returns the single optional name argument, or the configured
// default database.
func databaseName(m *zombiezen.Manager, args []string) (string, error) {
	switch len(args) {
	case 0:
		return m.Config().DefaultDb, nil
	case 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("%w: expected at most one database name", ErrTooManyArguments)
	}
}
