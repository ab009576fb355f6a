package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/yesterday/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Alert on failed, missing or stuck ingestion runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("monitor"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		loc, err := time.LoadLocation(cfg.Schedule.Timezone)
		if err != nil {
			return err
		}
		collector := monitoring.NewCollector(st, loc, cfg.Monitoring.StuckAfter())
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		once, _ := cmd.Flags().GetBool("once")
		if once {
			alerts := checker.Check(ctx)
			if len(alerts) == 0 {
				return nil
			}
			return writeStructured(os.Stdout, formatJSON, alerts)
		}

		checker.Run(ctx)
		return nil
	},
}

func init() {
	monitorCmd.Flags().Bool("once", false, "run a single check and print triggered alerts")
	rootCmd.AddCommand(monitorCmd)
}
