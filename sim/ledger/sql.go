package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"
)

const defaultPostgresDSN = "postgres://localhost/jpansim?sslmode=disable"

// SQL is a Store over database/sql. The same schema serves SQLite and
// Postgres; only the placeholder style differs.
type SQL struct {
	db      *sql.DB
	driver  Driver
	dollars bool
}

const createRuns = `
CREATE TABLE IF NOT EXISTS runs (
	job_id        TEXT    NOT NULL,
	simulation_id TEXT    NOT NULL,
	seed          BIGINT  NOT NULL,
	steps         BIGINT  NOT NULL,
	outcome       TEXT    NOT NULL,
	error         TEXT    NOT NULL DEFAULT '',
	started_ns    BIGINT  NOT NULL,
	duration_ns   BIGINT  NOT NULL,
	PRIMARY KEY (job_id, simulation_id)
)`

// OpenSQLite opens (creating if needed) a ledger database file.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if path == "" {
		return nil, errors.New("sqlite ledger path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// One writer at a time; the pure-Go driver serialises anyway.
	db.SetMaxOpenConns(1)
	return initSQL(ctx, db, DriverSQLite, false)
}

// OpenPostgres connects to a Postgres ledger through pgx.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres ledger: %w", err)
	}
	return initSQL(ctx, db, DriverPostgres, true)
}

func initSQL(ctx context.Context, db *sql.DB, driver Driver, dollars bool) (*SQL, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s ledger: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, createRuns); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s ledger schema: %w", driver, err)
	}
	return &SQL{db: db, driver: driver, dollars: dollars}, nil
}

// Driver reports which database backs the store.
func (s *SQL) Driver() Driver { return s.driver }

// bind rewrites ? placeholders as $n for Postgres.
func (s *SQL) bind(query string) string {
	if !s.dollars {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Record inserts r. The insert and the duplicate check are one statement,
// so concurrent records of the same run leave exactly one row.
func (s *SQL) Record(ctx context.Context, r RunRecord) error {
	res, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO runs (job_id, simulation_id, seed, steps, outcome, error, started_ns, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, simulation_id) DO NOTHING`),
		r.JobID, r.SimulationID, r.Seed, r.Steps, string(r.Outcome), r.Error,
		r.Started.UnixNano(), int64(r.Duration))
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.SimulationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.SimulationID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s in job %s", ErrDuplicateRun, r.SimulationID, r.JobID)
	}
	return nil
}

func (s *SQL) Runs(ctx context.Context, jobID string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT job_id, simulation_id, seed, steps, outcome, error, started_ns, duration_ns
		FROM runs WHERE job_id = ?
		ORDER BY started_ns, simulation_id`), jobID)
	if err != nil {
		return nil, fmt.Errorf("list runs of %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                   RunRecord
			outcome             string
			startedNs, duration int64
		)
		if err := rows.Scan(&r.JobID, &r.SimulationID, &r.Seed, &r.Steps, &outcome, &r.Error, &startedNs, &duration); err != nil {
			return nil, fmt.Errorf("scan run of %s: %w", jobID, err)
		}
		r.Outcome = Outcome(outcome)
		r.Started = time.Unix(0, startedNs).UTC()
		r.Duration = time.Duration(duration)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQL) Close() error { return s.db.Close() }
