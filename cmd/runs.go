package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai4ci/jpansim4r/sim/ledger"
)

var (
	ledgerDriver string // memory | sqlite | postgres
	ledgerDSN    string // Path or connection string of the ledger
	ledgerJobID  string // Job whose runs are listed
)

// runsCmd lists the runs a job recorded in its ledger
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the runs of a job from the run ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRuns(cmd.Context(), cmd.OutOrStdout())
	},
}

func listRuns(ctx context.Context, out io.Writer) error {
	store, err := ledger.Open(ctx, ledgerDriver, ledgerDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	runs, err := store.Runs(ctx, ledgerJobID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIMULATION\tSEED\tSTEPS\tOUTCOME\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n", r.SimulationID, r.Seed, r.Steps, r.Outcome,
			r.Started.Format(time.RFC3339), r.Duration.Round(time.Millisecond), r.Error)
	}
	return tw.Flush()
}

func init() {
	runsCmd.Flags().StringVar(&ledgerDriver, "ledger-driver", "sqlite", "Ledger driver (memory, sqlite, postgres)")
	runsCmd.Flags().StringVar(&ledgerDSN, "ledger-dsn", "", "Ledger database path or DSN")
	runsCmd.Flags().StringVar(&ledgerJobID, "job-id", "", "Job id printed by run")
	_ = runsCmd.MarkFlagRequired("job-id")
}
