package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/caasmo/litepool/db/zombiezen"
)

func statsCommand(m *zombiezen.Manager, w io.Writer, args []string) error {
	name, err := databaseName(m, args)
	if err != nil {
		return err
	}
	h, err := m.Open(context.Background(), name)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrOpenDatabase, name, err)
	}
	if err := h.Close(true); err != nil {
		return err
	}
	return printStats(w, m.Stats())
}

func printStats(w io.Writer, s zombiezen.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ceiling\t%d\n", s.Gate.Ceiling)
	fmt.Fprintf(tw, "current\t%d\n", s.Gate.Current)
	fmt.Fprintf(tw, "waiting\t%d\n", s.Gate.Waiting)
	fmt.Fprintf(tw, "max seen\t%d\n", s.Gate.MaxSeen)
	fmt.Fprintf(tw, "open handles\t%d\n", s.OpenHandles)
	fmt.Fprintf(tw, "reused\t%d\n", s.Reused)
	fmt.Fprintf(tw, "max tagstore size\t%d\n", s.MaxTagStoreSize)

	files := make([]string, 0, len(s.Idle))
	for file := range s.Idle {
		files = append(files, file)
	}
	sort.Strings(files)
	for _, file := range files {
		fmt.Fprintf(tw, "idle %s\t%d\n", file, s.Idle[file])
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteOutput, err)
	}
	return nil
}
