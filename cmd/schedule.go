package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/yesterday/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Register the daily ingestion cron workflow with Temporal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}

		c, err := dialTemporal(cfg.Schedule)
		if err != nil {
			return err
		}
		defer c.Close()

		_, err = schedule.StartCron(cmd.Context(), c, schedule.CronOptions{
			TaskQueue: cfg.Schedule.TaskQueue,
			Cron:      cfg.Schedule.Cron,
			Timezone:  cfg.Schedule.Timezone,
		})
		return err
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
