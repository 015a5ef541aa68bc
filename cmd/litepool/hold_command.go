package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/caasmo/litepool/db/zombiezen"
)

// holdCommand keeps an original handle open until SIGINT or SIGTERM. SIGHUP
// reloads the configuration file.
func holdCommand(m *zombiezen.Manager, w io.Writer, configPath string, args []string) error {
	name, err := databaseName(m, args)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := m.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrOpenDatabase, name, err)
	}
	fmt.Fprintf(w, "holding %s, interrupt to stop\n", h.File())

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			// Shutdown in run closes the handle
			return printStats(w, m.Stats())
		case <-hup:
			if configPath == "" {
				fmt.Fprintln(w, "no config file to reload")
				continue
			}
			if err := m.Reload(configPath); err != nil {
				fmt.Fprintf(w, "reload failed: %v\n", err)
			}
		}
	}
}
