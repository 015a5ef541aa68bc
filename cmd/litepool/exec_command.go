package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/caasmo/litepool/db/zombiezen"
)

// execCommand runs one statement and prints each returned row as
// column=value pairs in column order.
func execCommand(m *zombiezen.Manager, w io.Writer, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: exec needs a database name and a statement", ErrMissingArgument)
	}
	if len(args) > 2 {
		return fmt.Errorf("%w: quote the statement as a single argument", ErrTooManyArguments)
	}
	name, query := args[0], args[1]

	h, err := m.Open(context.Background(), name)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrOpenDatabase, name, err)
	}
	defer h.Close(false)

	for row, err := range h.Iterate(query) {
		if err != nil {
			return err
		}
		cols := make([]string, 0, len(row))
		for col := range row {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		pairs := make([]string, len(cols))
		for i, col := range cols {
			pairs[i] = col + "=" + row.Text(col)
		}
		if _, err := fmt.Fprintln(w, strings.Join(pairs, " ")); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteOutput, err)
		}
	}
	return nil
}
