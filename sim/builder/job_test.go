package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4ci/jpansim4r/sim/internal/testutil"
)

func counterJob(dir string, extra string) []byte {
	return []byte(fmt.Sprintf(`
name: smoke
date: "2024-03-01"
seed: 42
directory: %s
threads: 2
trace: decisions
bootstraps:
  execution: 3
outputs:
  - file: total.csv
    columns: [TOTAL]
model: counter
configurations:
  - name: base
    walkers: 2
parameterisations:
  - name: p
    increment: 1
    horizon: 2
%s`, dir, extra))
}

func TestParseJob_Defaults(t *testing.T) {
	job, err := ParseJob(counterJob(t.TempDir(), ""))
	require.NoError(t, err)

	assert.Equal(t, "smoke", job.Name)
	assert.Equal(t, int64(42), job.Seed)
	assert.Equal(t, 3, job.Bootstraps.Execution)
	assert.Equal(t, uint64(2048), job.Monitor.MemoryThresholdMB)
	assert.Equal(t, 100*time.Millisecond, job.Monitor.Interval)
	assert.Equal(t, 10*time.Second, job.Monitor.SummaryInterval)

	configs, params, err := job.Decode()
	require.NoError(t, err)
	assert.Equal(t, testutil.CounterConfig{Label: "base", Walkers: 2}, configs[0])
	assert.Equal(t, testutil.CounterParams{Label: "p", Increment: 1, Horizon: 2}, params[0])

	date, err := job.ParsedDate()
	require.NoError(t, err)
	assert.Equal(t, testutil.JobDate, date)
}

func TestParseJob_EnvironmentOverrides(t *testing.T) {
	t.Setenv("JPANSIM_SEED", "7")
	t.Setenv("JPANSIM_THREADS", "5")
	t.Setenv("JPANSIM_ERROR_POLICY", "halt")
	t.Setenv("JPANSIM_LEDGER_DRIVER", "sqlite")
	t.Setenv("JPANSIM_CACHE", "true")
	t.Setenv("JPANSIM_CACHE_DRIVER", "memory")

	job, err := ParseJob(counterJob(t.TempDir(), ""))

	require.NoError(t, err)
	assert.Equal(t, int64(7), job.Seed)
	assert.Equal(t, 5, job.Threads)
	assert.Equal(t, "halt", job.ErrorPolicy)
	assert.Equal(t, "sqlite", job.Ledger.Driver)
	assert.True(t, job.Cache.Enabled)
	assert.Equal(t, "memory", job.Cache.Driver)
}

func TestParseJob_BadEnvironmentNumber(t *testing.T) {
	t.Setenv("JPANSIM_TARGET_STEPS", "ten")

	_, err := ParseJob(counterJob(t.TempDir(), ""))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "JPANSIM_TARGET_STEPS")
}

func TestParseJob_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		want  string
	}{
		{"unknown top-level key", "colour: blue\n", "field colour not found"},
		{"unknown error policy", "error_policy: retry\n", "unknown error_policy"},
		{"unknown trace level", "trace: verbose\n", ""},
		{"unknown ledger driver", "ledger:\n  driver: mongo\n", "unknown ledger driver"},
		{"negative target", "target_steps: -1\n", "target_steps"},
		{"bad cache driver", "cache:\n  enabled: true\n  driver: tape\n", "unknown blob driver"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseJob(counterJob(t.TempDir(), tc.extra))
			require.Error(t, err)
			if tc.want != "" {
				assert.Contains(t, err.Error(), tc.want)
			}
		})
	}
}

func TestParseJob_UnknownModelListsOptions(t *testing.T) {
	_, err := ParseJob([]byte(`
model: nosuch
configurations: [{name: a}]
parameterisations: [{name: b}]
`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "counter")
}

func TestParseJob_UnknownRecordKey(t *testing.T) {
	_, err := ParseJob([]byte(`
model: counter
configurations:
  - name: base
    walkers: 2
    colour: blue
parameterisations:
  - name: p
`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "configurations[0]")
}

func TestParseJob_DuplicateNames(t *testing.T) {
	_, err := ParseJob([]byte(`
model: counter
configurations:
  - name: base
    walkers: 1
  - name: base
    walkers: 2
parameterisations:
  - name: p
`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestLoadJob_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, counterJob(dir, ""), 0o644))

	job, err := LoadJob(path)
	require.NoError(t, err)
	assert.Equal(t, dir, job.Directory)

	_, err = LoadJob(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
