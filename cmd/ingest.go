package main

import (
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/yesterday/internal/model"
	"github.com/sells-group/yesterday/internal/schedule"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [date]",
	Short: "Ingest one calendar day (default: yesterday in Europe/London)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		date, err := resolveDate(args, time.Now())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("ingest starting", zap.String("date", date.String()))
		result := env.Service.Ingest(ctx, date)

		format, _ := cmd.Flags().GetString("format")
		if format == formatTable {
			formatResult(os.Stdout, result)
		} else if err := writeStructured(os.Stdout, format, result); err != nil {
			return err
		}

		if result.Status == model.RunStatusFailed {
			return eris.Errorf("ingest %s failed: %s", date, result.ErrorMessage)
		}
		return nil
	},
}

// resolveDate parses the optional date argument, defaulting to the London
// calendar day before now.
func resolveDate(args []string, now time.Time) (model.Date, error) {
	if len(args) == 0 || args[0] == "" {
		return schedule.Yesterday(now), nil
	}
	d, err := model.ParseDate(args[0])
	if err != nil {
		return model.Date{}, eris.Wrap(err, "date must be YYYY-MM-DD")
	}
	return d, nil
}

func sortedSourceNames(counts map[string]int) []string {
	return slices.Sorted(maps.Keys(counts))
}

func init() {
	ingestCmd.Flags().String("format", formatTable, "output format (table, json, yaml)")
	rootCmd.AddCommand(ingestCmd)
}
