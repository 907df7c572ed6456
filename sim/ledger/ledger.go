// Package ledger indexes simulation executions by job. Each finished run
// contributes one RunRecord; the index answers which simulations of a job
// completed, were interrupted, or failed, and with which seed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome classifies how an execution ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeFailed      Outcome = "failed"
)

// RunRecord describes one execution.
type RunRecord struct {
	JobID        string
	SimulationID string
	Seed         int64
	Steps        int64
	Outcome      Outcome
	Error        string
	Started      time.Time
	Duration     time.Duration
}

// Recorder accepts run records.
type Recorder interface {
	Record(ctx context.Context, r RunRecord) error
}

// Store is a queryable run index.
type Store interface {
	Recorder
	// Runs returns the records of jobID ordered by start time, then
	// simulation id.
	Runs(ctx context.Context, jobID string) ([]RunRecord, error)
	Close() error
}

// ErrDuplicateRun is returned when a job records the same simulation twice.
var ErrDuplicateRun = errors.New("run already recorded")

// Driver names a Store implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

var validDrivers = map[Driver]bool{DriverMemory: true, DriverSQLite: true, DriverPostgres: true, "": true}

// IsValidDriver returns true if name is a recognized ledger driver. Empty means memory.
func IsValidDriver(name string) bool { return validDrivers[Driver(name)] }

// Open creates the Store selected by driver. dsn is a file path for
// sqlite and a connection string for postgres.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	if !IsValidDriver(driver) {
		return nil, fmt.Errorf("unknown ledger driver %q; valid options: memory, sqlite, postgres", driver)
	}
	switch Driver(driver) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		panic(fmt.Sprintf("unhandled ledger driver %q", driver))
	}
}
