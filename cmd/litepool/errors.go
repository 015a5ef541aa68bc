package main

import "errors"

// Shared error variables for the litepool command.
var (
	ErrMissingCommand = errors.New("missing command")
	ErrUnknownCommand = errors.New("unknown command")
	ErrCreateManager  = errors.New("failed to create connection manager")
	ErrOpenDatabase   = errors.New("failed to open database")
	ErrWriteOutput    = errors.New("failed to write output")

	// command parsing errors
	ErrMissingArgument  = errors.New("missing required argument")
	ErrTooManyArguments = errors.New("too many arguments")
	ErrInvalidFlag      = errors.New("invalid flag provided")
)
