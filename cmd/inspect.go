package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ai4ci/jpansim4r/sim"
)

// inspectCmd prints the identity and named observers of a cached snapshot
var inspectCmd = &cobra.Command{
	Use:   "inspect <snapshot>",
	Short: "Describe a cached simulation snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspectSnapshot(args[0], cmd.OutOrStdout())
	},
}

func inspectSnapshot(path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	o, err := sim.DecodeSnapshot(f, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	s := o.Sim()
	model := "?"
	if p, ok := o.Model().(sim.Persistent); ok {
		model = p.ModelName()
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", o.ID())
	fmt.Fprintf(tw, "model\t%s\n", model)
	fmt.Fprintf(tw, "state\t%s\n", o.State())
	fmt.Fprintf(tw, "seed\t%d\n", s.Seed())
	fmt.Fprintf(tw, "steps\t%d\n", s.Steps())
	fmt.Fprintf(tw, "agents\t%d\n", s.NumAgents())
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "OBSERVER\tKIND\tLEN\tLAST")
	for _, obs := range s.Observers() {
		last := "-"
		if values := obs.Values(); len(values) > 0 {
			last = fmt.Sprint(values[0])
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", obs.Name(), obs.Kind(), obs.Len(), last)
	}
	return tw.Flush()
}
