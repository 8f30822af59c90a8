package store

import "errors"

var (
	// ErrSchemaTooNew is returned when the database's applied schema version
	// is ahead of the newest migration this binary knows about. Opening
	// such a database would risk silently misinterpreting its shape, so
	// Open refuses outright.
	ErrSchemaTooNew = errors.New("store: database schema is newer than this binary supports")

	// ErrNoActiveRun is returned when no run is in progress for a given
	// plan path and command.
	ErrNoActiveRun = errors.New("store: no active run")

	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("store: run not found")
)
