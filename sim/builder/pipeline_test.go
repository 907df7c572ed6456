package builder

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ci/jpansim4r/sim/blob"
	"github.com/ai4ci/jpansim4r/sim/flow"
	"github.com/ai4ci/jpansim4r/sim/ledger"
	"github.com/ai4ci/jpansim4r/sim/trace"
)

func runJob(t *testing.T, job *Job, opts RunOptions) *Result {
	t.Helper()
	if opts.Probe == nil {
		opts.Probe = flow.FixedMemory(8 << 30)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := Run(ctx, job, opts)
	require.NoError(t, err)
	return res
}

func TestRun_ReplicatesComplete(t *testing.T) {
	// GIVEN one configuration, one parameterisation and three replicates
	dir := t.TempDir()
	job, err := ParseJob(counterJob(dir, ""))
	require.NoError(t, err)
	runs := ledger.NewMemory()

	// WHEN the job runs
	res := runJob(t, job, RunOptions{Ledger: runs, Metrics: flow.NewMetrics(prometheus.NewRegistry())})

	// THEN every replicate completes with its own id and seed
	assert.Equal(t, flow.Summary{Admitted: 3, Completed: 3}, res.Summary)
	records, err := runs.Runs(context.Background(), res.JobID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	ids := map[string]bool{}
	seeds := map[int64]bool{}
	for _, r := range records {
		assert.Equal(t, ledger.OutcomeCompleted, r.Outcome)
		assert.Equal(t, int64(3), r.Steps)
		ids[r.SimulationID] = true
		seeds[r.Seed] = true
	}
	assert.Len(t, ids, 3)
	assert.Len(t, seeds, 3)

	// AND the result file holds a header and three rows per replicate
	f, err := os.Open(filepath.Join(dir, "total.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1+3*3)
	assert.Equal(t, "TOTAL", rows[0][0])

	assert.Equal(t, 1, res.Trace.StageOutcomes["configure"][trace.OutcomeEmitted])
	assert.Equal(t, 3, res.Trace.StageOutcomes["bootstrap"][trace.OutcomeEmitted])
}

func TestRun_SecondRunRestoresFromCache(t *testing.T) {
	// GIVEN a job with the stage cache enabled over a shared store
	dir := t.TempDir()
	job, err := ParseJob(counterJob(dir, "cache:\n  enabled: true\n"))
	require.NoError(t, err)
	store := blob.NewMemory()

	first := runJob(t, job, RunOptions{Store: store, Ledger: ledger.NewMemory()})
	require.Equal(t, 3, first.Summary.Completed)

	// WHEN it runs again
	second := runJob(t, job, RunOptions{Store: store, Ledger: ledger.NewMemory()})

	// THEN the configure and parameterise stages are served from the cache
	assert.Equal(t, 3, second.Summary.Completed)
	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, 1, second.Trace.StageOutcomes["configure"][trace.OutcomeCached])
	assert.Equal(t, 1, second.Trace.StageOutcomes["parameterise"][trace.OutcomeCached])
}

func TestRun_SkipsFailedBranch(t *testing.T) {
	// GIVEN two configurations, one of which fails to configure
	dir := t.TempDir()
	job, err := ParseJob([]byte(`
directory: ` + dir + `
threads: 2
trace: decisions
model: counter
configurations:
  - name: good
    walkers: 1
  - name: bad
    walkers: 1
    fail_on: create-agents
parameterisations:
  - name: p
    increment: 1
    horizon: 1
`))
	require.NoError(t, err)

	// WHEN the job runs under the default skip policy
	res := runJob(t, job, RunOptions{Ledger: ledger.NewMemory()})

	// THEN the good branch still completes
	assert.Equal(t, 1, res.Summary.Completed)
	assert.Equal(t, 1, res.Trace.StageOutcomes["configure"][trace.OutcomeFailed])
	assert.Equal(t, 1, res.Trace.FailedBranches)
}

func TestRun_HaltPolicyReturnsError(t *testing.T) {
	dir := t.TempDir()
	job, err := ParseJob([]byte(`
directory: ` + dir + `
error_policy: halt
model: counter
configurations:
  - name: bad
    walkers: 1
    fail_on: create-agents
parameterisations:
  - name: p
    horizon: 1
`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = Run(ctx, job, RunOptions{Ledger: ledger.NewMemory(), Probe: flow.FixedMemory(8 << 30)})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage configure")
}

func TestRun_CancelledJobEndsWithInterruptedRuns(t *testing.T) {
	// GIVEN replicates that never reach completion
	dir := t.TempDir()
	job, err := ParseJob([]byte(fmt.Sprintf(`
name: endless
date: "2024-03-01"
seed: 42
directory: %s
threads: 2
monitor:
  interval: 5ms
bootstraps:
  execution: 2
model: counter
configurations:
  - name: base
    walkers: 2
parameterisations:
  - name: p
    increment: 1
`, dir)))
	require.NoError(t, err)
	runs := ledger.NewMemory()

	// WHEN the job context times out mid-run
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	res, err := Run(ctx, job, RunOptions{Ledger: runs, Probe: flow.FixedMemory(8 << 30)})

	// THEN the job ends normally and the summary agrees with the ledger
	require.NoError(t, err)
	assert.Equal(t, flow.Summary{Admitted: 2, Interrupted: 2}, res.Summary)
	records, err := runs.Runs(context.Background(), res.JobID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, ledger.OutcomeInterrupted, r.Outcome)
	}
}
