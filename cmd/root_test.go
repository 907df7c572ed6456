package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const outbreakJob = `
name: village
date: "2024-03-01"
seed: 7
directory: %s
threads: 2
trace: decisions
monitor:
  memory_threshold_mb: 1
cache:
  enabled: true
  save_final: true
bootstraps:
  execution: 2
outputs:
  - file: curves.csv
    columns: [SUSCEPTIBLE, INFECTED, RECOVERED]
ledger:
  driver: sqlite
  dsn: %s
model: outbreak
configurations:
  - name: village
    population: 100
    connectedness: 4
    imports: 3
parameterisations:
  - name: flu
    transmission: 0.2
`

// withFlags sets the package-level flags for one test.
func withFlags(t *testing.T, set func()) {
	t.Helper()
	saved := []any{jobPath, logLevel, metricsAddr, targetSteps, ledgerDriver, ledgerDSN, ledgerJobID}
	t.Cleanup(func() {
		jobPath, logLevel, metricsAddr = saved[0].(string), saved[1].(string), saved[2].(string)
		targetSteps = saved[3].(int64)
		ledgerDriver, ledgerDSN, ledgerJobID = saved[4].(string), saved[5].(string), saved[6].(string)
	})
	set()
}

func TestRunJob_OutbreakEndToEnd(t *testing.T) {
	// GIVEN an outbreak job with an sqlite ledger and a snapshot cache
	dir := t.TempDir()
	dsn := filepath.Join(dir, "ledger.db")
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(outbreakJob, dir, dsn)), 0o644))
	withFlags(t, func() { jobPath, metricsAddr, targetSteps = path, "", 0 })

	// WHEN the job is run
	var out bytes.Buffer
	require.NoError(t, runJob(context.Background(), &out))

	// THEN a JSON summary follows the header
	header, body, ok := strings.Cut(out.String(), "\n")
	require.True(t, ok)
	assert.Equal(t, "=== Job Summary ===", header)
	var summary struct {
		JobID   string `json:"job_id"`
		Summary struct {
			Completed int
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &summary))
	assert.Equal(t, 2, summary.Summary.Completed)

	// AND both runs are in the ledger
	withFlags(t, func() { ledgerDriver, ledgerDSN, ledgerJobID = "sqlite", dsn, summary.JobID })
	var runs bytes.Buffer
	require.NoError(t, listRuns(context.Background(), &runs))
	lines := strings.Split(strings.TrimSpace(runs.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "20240301:village:0:flu:0:")
	assert.Contains(t, lines[1], "completed")

	// AND the final snapshots can be inspected
	var finals []string
	require.NoError(t, filepath.WalkDir(filepath.Join(dir, "cache"), func(p string, d fs.DirEntry, err error) error {
		if err == nil && strings.HasSuffix(p, ".final.snap") {
			finals = append(finals, p)
		}
		return err
	}))
	require.Len(t, finals, 2)
	var inspected bytes.Buffer
	require.NoError(t, inspectSnapshot(finals[0], &inspected))
	assert.Contains(t, inspected.String(), "COMPLETE")
	assert.Contains(t, inspected.String(), "outbreak")
	assert.Contains(t, inspected.String(), "INFECTED")
	assert.FileExists(t, filepath.Join(dir, "curves.csv"))
}

func TestRunJob_MissingJobFile(t *testing.T) {
	withFlags(t, func() { jobPath = filepath.Join(t.TempDir(), "missing.yaml") })

	err := runJob(context.Background(), &bytes.Buffer{})

	assert.ErrorContains(t, err, "reading job")
}

func TestInspect_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.snap")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot\n"), 0o644))

	assert.Error(t, inspectSnapshot(path, &bytes.Buffer{}))
}

func TestListRuns_UnknownDriver(t *testing.T) {
	withFlags(t, func() { ledgerDriver, ledgerJobID = "mongo", "x" })

	assert.ErrorContains(t, listRuns(context.Background(), &bytes.Buffer{}), "unknown ledger driver")
}

func TestRoot_InvalidLogLevel(t *testing.T) {
	withFlags(t, func() {})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--log", "loud", "runs", "--ledger-driver", "memory", "--job-id", "x"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()

	assert.ErrorContains(t, err, "invalid log level")
}
