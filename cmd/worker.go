package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/yesterday/internal/config"
	"github.com/sells-group/yesterday/internal/schedule"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker that executes scheduled ingestion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := dialTemporal(cfg.Schedule)
		if err != nil {
			return err
		}
		defer c.Close()

		w := worker.New(c, cfg.Schedule.TaskQueue, worker.Options{
			// One ingestion at a time per worker.
			MaxConcurrentActivityExecutionSize: 1,
		})
		schedule.Register(w, schedule.NewActivities(env.Service))

		zap.L().Info("temporal worker started",
			zap.String("task_queue", cfg.Schedule.TaskQueue),
			zap.String("namespace", cfg.Schedule.Namespace),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

func dialTemporal(sc config.ScheduleConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  sc.TemporalAddress,
		Namespace: sc.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dial temporal %s", sc.TemporalAddress)
	}
	return c, nil
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
