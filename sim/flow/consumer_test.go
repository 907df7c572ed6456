package flow

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ci/jpansim4r/sim"
	"github.com/ai4ci/jpansim4r/sim/internal/testutil"
	"github.com/ai4ci/jpansim4r/sim/ledger"
)

var (
	walkers = testutil.CounterConfig{Label: "base", Walkers: 2}
	horizon = testutil.CounterParams{Label: "p", Increment: 1, Horizon: 2}
)

func readySimulations(t *testing.T, n int) []*sim.ObservedSimulation {
	t.Helper()
	out := make([]*sim.ObservedSimulation, n)
	for i := range out {
		out[i] = testutil.Ready(t, walkers, horizon, i)
	}
	return out
}

func runConsumer(t *testing.T, sims []*sim.ObservedSimulation, cfg ConsumerConfig, metrics *Metrics) (Summary, error) {
	t.Helper()
	pool := NewPool("run", 2)
	monitor := NewMonitor(pool, MonitorConfig{Probe: FixedMemory(8 << 30), Interval: time.Millisecond}, metrics, nil)
	c := NewConsumer(context.Background(), pool, monitor, cfg, metrics)
	NewSupplier(sims...).Subscribe(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Wait(ctx)
}

func TestResultWriter_Golden(t *testing.T) {
	// GIVEN two replicates run to completion
	var buf bytes.Buffer
	w := NewResultWriter(&buf, []string{"POSITION"})
	for eb := 0; eb < 2; eb++ {
		o := testutil.Ready(t, walkers, horizon, eb)
		_, err := sim.NewRunner(o, 0, nil).Run(context.Background())
		require.NoError(t, err)

		// WHEN each is exported
		require.NoError(t, w.Export(o))
	}
	require.NoError(t, w.Close())

	// THEN one header precedes the rows of both
	assert.Equal(t, int64(12), w.Rows())
	testutil.Golden(t).Assert(t, "results_position", buf.Bytes())
}

func TestResultWriter_NonRectangularIsError(t *testing.T) {
	var buf bytes.Buffer
	w := NewResultWriter(&buf, []string{"TOTAL", "POSITION"})
	o := readySimulations(t, 1)[0]
	_, err := sim.NewRunner(o, 0, nil).Run(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, w.Export(o), sim.ErrNonRectangular)
	assert.Zero(t, w.Rows())
}

func TestCreateResultFile_TruncatesAndCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "total.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0o644))

	w, err := CreateResultFile(path, []string{"TOTAL"})
	require.NoError(t, err)
	o := readySimulations(t, 1)[0]
	_, err = sim.NewRunner(o, 0, nil).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Export(o))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"TOTAL", "id", "exportTimestep", "timestep"}, records[0])
	assert.Equal(t, []string{"7", o.ID(), "3", "2"}, records[1])
}

func TestConsumer_RunsExportsAndRecordsEveryAdmission(t *testing.T) {
	// GIVEN three ready replicates
	var buf bytes.Buffer
	w := NewResultWriter(&buf, []string{"POSITION"})
	runs := ledger.NewMemory()
	metrics := NewMetrics(prometheus.NewRegistry())

	// WHEN they flow into a consumer
	sum, err := runConsumer(t, readySimulations(t, 3), ConsumerConfig{
		Writers: []*ResultWriter{w},
		Ledger:  runs,
		JobID:   "job-1",
	}, metrics)

	// THEN all run to completion and are exported and recorded
	require.NoError(t, err)
	assert.Equal(t, Summary{Admitted: 3, Completed: 3}, sum)
	assert.Equal(t, int64(18), w.Rows())
	assert.Equal(t, float64(3), promtest.ToFloat64(metrics.Runs.WithLabelValues("completed")))

	recs, err := runs.Runs(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	seen := map[string]bool{}
	for _, r := range recs {
		assert.Equal(t, ledger.OutcomeCompleted, r.Outcome)
		assert.Equal(t, int64(3), r.Steps)
		seen[r.SimulationID] = true
	}
	assert.Len(t, seen, 3)
}

func TestConsumer_FailedRunsAreCountedNotFatal(t *testing.T) {
	runs := ledger.NewMemory()
	sum, err := runConsumer(t, readySimulations(t, 2), ConsumerConfig{
		Save:   func(ctx context.Context, o *sim.ObservedSimulation) error { return errors.New("disk full") },
		Ledger: runs,
		JobID:  "job-2",
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, Summary{Admitted: 2, Failed: 2}, sum)
	recs, err := runs.Runs(context.Background(), "job-2")
	require.NoError(t, err)
	for _, r := range recs {
		assert.Equal(t, ledger.OutcomeFailed, r.Outcome)
		assert.Contains(t, r.Error, "disk full")
	}
}

func TestConsumer_TargetStopsRunsEarly(t *testing.T) {
	params := testutil.CounterParams{Label: "p", Increment: 1}
	o := testutil.Ready(t, walkers, params, 0)
	var got int64
	sum, err := runConsumer(t, []*sim.ObservedSimulation{o}, ConsumerConfig{
		Target: 5,
		Save: func(ctx context.Context, o *sim.ObservedSimulation) error {
			got = o.Sim().Steps()
			return nil
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, int64(5), got)
	assert.Equal(t, sim.Complete, o.State())
}

func TestConsumer_UpstreamErrorIsReturned(t *testing.T) {
	pool := NewPool("run", 1)
	monitor := NewMonitor(pool, MonitorConfig{Probe: FixedMemory(8 << 30), Interval: time.Millisecond}, nil, nil)
	c := NewConsumer(context.Background(), pool, monitor, ConsumerConfig{}, nil)
	boom := errors.New("boom")
	c.OnSubscribe(&countingSub{})
	c.OnError(boom)

	_, err := c.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestConsumer_CancelledRunsAreInterruptedNotFatal(t *testing.T) {
	// GIVEN two runs that never complete on their own
	endless := testutil.CounterParams{Label: "p", Increment: 1}
	sims := []*sim.ObservedSimulation{
		testutil.Ready(t, walkers, endless, 0),
		testutil.Ready(t, walkers, endless, 1),
	}
	runs := ledger.NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool := NewPool("run", 2)
	monitor := NewMonitor(pool, MonitorConfig{Probe: FixedMemory(8 << 30), Interval: time.Millisecond}, nil, nil)
	c := NewConsumer(ctx, pool, monitor, ConsumerConfig{Ledger: runs, JobID: "job-4"}, nil)
	NewSupplier(sims...).Subscribe(c)

	// WHEN the context ends while they run
	sum, err := c.Wait(ctx)

	// THEN both settle as interrupted and the job is not failed
	require.NoError(t, err)
	assert.Equal(t, Summary{Admitted: 2, Interrupted: 2}, sum)
	recs, err := runs.Runs(context.Background(), "job-4")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, ledger.OutcomeInterrupted, r.Outcome)
		assert.Positive(t, r.Steps)
	}
}
