package main

import (
	"context"
	"fmt"
	"io"

	"github.com/caasmo/litepool/db/zombiezen"
)

// migrateCommand opens the database, which creates and upgrades it, and
// prints the resulting version.
func migrateCommand(m *zombiezen.Manager, w io.Writer, args []string) error {
	name, err := databaseName(m, args)
	if err != nil {
		return err
	}
	h, err := m.Open(context.Background(), name)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrOpenDatabase, name, err)
	}
	defer h.Close(false)

	version := "unversioned"
	if row, err := h.Get("SELECT value FROM settings WHERE name = 'version'"); err == nil {
		version = row.Text("value")
	}
	if _, err := fmt.Fprintf(w, "%s: %s at version %s\n", name, h.File(), version); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteOutput, err)
	}
	return nil
}
