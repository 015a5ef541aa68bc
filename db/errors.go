package db

import (
	"errors"
	"fmt"
)

var (
	// ErrConstructionMisuse is returned when a handle was not built by a manager.
	ErrConstructionMisuse = errors.New("db: handle must be obtained from a manager")

	// ErrNotOpen is returned by every handle operation once its connection is gone.
	ErrNotOpen = errors.New("db: handle is not open")

	// ErrFunctionRegistration is returned when a scalar function is registered
	// on a secondary handle.
	ErrFunctionRegistration = errors.New("db: functions can only be registered on an original handle")

	// ErrShuttingDown is returned by acquisitions after Shutdown started.
	ErrShuttingDown = errors.New("db: pool is shutting down")

	// ErrNoRows is returned by Get when the query produced no row.
	ErrNoRows = errors.New("db: no rows in result set")

	// ErrTransactionActive is returned when a transaction is started on a
	// handle that already has one open.
	ErrTransactionActive = errors.New("db: transaction already active on handle")
)

// VersionError reports a database whose stored schema version cannot be
// brought to the required one: either it is newer than the process expects or
// an upgrade script for a step is missing.
type VersionError struct {
	Name     string
	Stored   int
	Required int
	Missing  string // script name when a mandatory upgrade file is absent
}

func (e *VersionError) Error() string {
	if e.Missing != "" {
		return fmt.Sprintf("db: %s: missing upgrade script %s (stored version %d, required %d)",
			e.Name, e.Missing, e.Stored, e.Required)
	}
	return fmt.Sprintf("db: %s: stored version %d is newer than required version %d",
		e.Name, e.Stored, e.Required)
}
