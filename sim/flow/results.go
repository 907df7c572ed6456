package flow

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ai4ci/jpansim4r/sim"
)

// ResultWriter appends the observations of finished simulations to one CSV
// table. The header (columns, then id, exportTimestep, timestep) is written
// before the first rows. The rows of one export are written and flushed
// together, so exports from concurrent runs never interleave.
//
// Thread-safety: safe for concurrent use.
type ResultWriter struct {
	columns []string

	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	header bool
	rows   int64
}

// NewResultWriter writes rows of columns to w.
func NewResultWriter(w io.Writer, columns []string) *ResultWriter {
	rw := &ResultWriter{columns: append([]string(nil), columns...), w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		rw.closer = c
	}
	return rw
}

// CreateResultFile truncates or creates path, creating parent directories.
func CreateResultFile(path string, columns []string) (*ResultWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create result directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}
	return NewResultWriter(f, columns), nil
}

func (rw *ResultWriter) Columns() []string { return append([]string(nil), rw.columns...) }

// Rows is the number of data rows written so far.
func (rw *ResultWriter) Rows() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.rows
}

// Export appends the observations of o. It fails if o has no observatory
// or if its columns hold different numbers of observations.
func (rw *ResultWriter) Export(o *sim.ObservedSimulation) error {
	obs := o.Observatory()
	if obs == nil {
		return fmt.Errorf("%s: no observatory to export", o.ID())
	}
	table, err := obs.Observations(o.Model(), rw.columns)
	if err != nil {
		return fmt.Errorf("%s: %w", o.ID(), err)
	}
	rows := table.Rows(o.Sim().Steps())

	rw.mu.Lock()
	defer rw.mu.Unlock()
	if !rw.header {
		if err := rw.w.Write(sim.Header(rw.columns)); err != nil {
			return err
		}
		rw.header = true
	}
	if err := rw.w.WriteAll(rows); err != nil {
		return fmt.Errorf("%s: write results: %w", o.ID(), err)
	}
	rw.rows += int64(len(rows))
	return nil
}

// Close flushes buffered rows and closes the underlying file, if any.
func (rw *ResultWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.w.Flush()
	err := rw.w.Error()
	if rw.closer != nil {
		if cerr := rw.closer.Close(); err == nil {
			err = cerr
		}
		rw.closer = nil
	}
	return err
}
