package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store. Records are lost on exit.
type Memory struct {
	mu   sync.RWMutex
	runs map[string][]RunRecord
}

func NewMemory() *Memory { return &Memory{runs: map[string][]RunRecord{}} }

func (m *Memory) Record(_ context.Context, r RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.runs[r.JobID] {
		if existing.SimulationID == r.SimulationID {
			return fmt.Errorf("%w: %s in job %s", ErrDuplicateRun, r.SimulationID, r.JobID)
		}
	}
	m.runs[r.JobID] = append(m.runs[r.JobID], r)
	return nil
}

func (m *Memory) Runs(_ context.Context, jobID string) ([]RunRecord, error) {
	m.mu.RLock()
	out := append([]RunRecord(nil), m.runs[jobID]...)
	m.mu.RUnlock()
	sortRuns(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

func sortRuns(runs []RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].Started.Equal(runs[j].Started) {
			return runs[i].Started.Before(runs[j].Started)
		}
		return runs[i].SimulationID < runs[j].SimulationID
	})
}
