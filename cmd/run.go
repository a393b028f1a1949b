package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ctsilva/UrbanMapper/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <job.yaml>",
	Short: "Execute a mapping job",
	Long:  "Loads the job file, runs load/impute/filter/join/aggregate, persists the run, and writes any configured outputs.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		job, err := pipeline.LoadJob(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, closePG, err := newPipeline(ctx, st)
		if err != nil {
			return err
		}
		defer closePG()

		res, err := p.Run(ctx, job)
		if err != nil {
			return err
		}

		fmt.Printf("Run %s complete.\n\n", res.RunID)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "records loaded\t%d\n", res.Summary.RecordsLoaded)
		fmt.Fprintf(w, "coordinates imputed\t%d\n", res.Summary.RecordsImputed)
		fmt.Fprintf(w, "records filtered out\t%d\n", res.Summary.RecordsFiltered)
		fmt.Fprintf(w, "records matched\t%d\n", res.Summary.RecordsMatched)
		fmt.Fprintf(w, "unmatched\t%d\n", res.Summary.Unmatched)
		fmt.Fprintf(w, "buckets (%s)\t%d\n", res.Reduction.String(), res.Summary.Buckets)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
