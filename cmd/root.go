package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ai4ci/jpansim4r/sim/builder"
	"github.com/ai4ci/jpansim4r/sim/flow"

	// Registered models.
	_ "github.com/ai4ci/jpansim4r/sim/models/outbreak"
)

var (
	jobPath     string // Path to the job YAML
	logLevel    string // Log verbosity level
	metricsAddr string // Listen address of the Prometheus endpoint; empty disables it
	targetSteps int64  // Overrides target_steps of the job when > 0
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "jpansim",
	Short: "Batch runner for agent-based simulations",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
	SilenceUsage: true,
}

// runCmd builds and runs every simulation of a job
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every simulation described by a job file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runJob(ctx, cmd.OutOrStdout())
	},
}

func runJob(ctx context.Context, out io.Writer) error {
	job, err := builder.LoadJob(jobPath)
	if err != nil {
		return err
	}
	if targetSteps > 0 {
		job.TargetSteps = targetSteps
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := builder.RunOptions{Metrics: flow.NewMetrics(reg)}
	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	res, err := builder.Run(ctx, job, opts)
	if res != nil {
		printResult(out, res)
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		logrus.Warnf("[job %s] stopped by signal; %d runs interrupted", res.JobID, res.Summary.Interrupted)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logrus.Infof("[metrics] serving on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("[metrics] %v", err)
		}
	}()
	return srv
}

// printResult writes the job summary as JSON, in the format consumed by
// downstream tooling.
func printResult(w io.Writer, res *builder.Result) {
	data, err := json.MarshalIndent(struct {
		JobID    string       `json:"job_id"`
		Summary  flow.Summary `json:"summary"`
		Trace    any          `json:"trace,omitempty"`
		Duration string       `json:"duration"`
	}{res.JobID, res.Summary, res.Trace, res.Duration.Round(time.Millisecond).String()}, "", "  ")
	if err != nil {
		logrus.Errorf("[job %s] encoding summary: %v", res.JobID, err)
		return
	}
	_, _ = fmt.Fprintln(w, "=== Job Summary ===")
	_, _ = fmt.Fprintln(w, string(data))
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&jobPath, "job", "", "Path to the job YAML")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().Int64Var(&targetSteps, "target", 0, "Stop every run after this many ticks (0 = job setting)")
	_ = runCmd.MarkFlagRequired("job")

	rootCmd.AddCommand(runCmd, inspectCmd, runsCmd)
}
