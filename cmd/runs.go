package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/yesterday/internal/model"
	"github.com/sells-group/yesterday/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion run history",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent ingestion runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")
		format, _ := cmd.Flags().GetString("format")

		runs, err := st.RecentRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		runs = filterRuns(runs, model.RunStatus(status))

		if format != formatTable {
			if runs == nil {
				runs = []model.IngestionRun{}
			}
			return writeStructured(os.Stdout, format, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// filterRuns keeps runs with the given status; an empty status keeps all.
func filterRuns(runs []model.IngestionRun, status model.RunStatus) []model.IngestionRun {
	if status == "" {
		return runs
	}
	var out []model.IngestionRun
	for _, r := range runs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func init() {
	runsListCmd.Flags().Int("limit", store.DefaultRecentRuns, "max number of runs to display")
	runsListCmd.Flags().String("status", "", "filter by run status (RUNNING, SUCCESS, FAILED)")
	runsListCmd.Flags().String("format", formatTable, "output format (table, json, yaml)")

	runsCmd.AddCommand(runsListCmd)
	rootCmd.AddCommand(runsCmd)
}
