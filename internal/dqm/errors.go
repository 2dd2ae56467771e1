package dqm

import "errors"

// Sentinel errors for the Execution and Queueing error kinds spec.md §7
// names that originate inside this package rather than from params or
// engine.
var (
	ErrShuttingDown        = errors.New("dqm: ShuttingDown")
	ErrNoQueueAvailable    = errors.New("dqm: NoQueueAvailable")
	ErrBootstrapNotComplete = errors.New("dqm: BootstrapNotComplete")
	ErrDatabaseNotFound    = errors.New("dqm: DatabaseNotFound")
)
