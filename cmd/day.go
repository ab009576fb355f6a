package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/yesterday/internal/model"
)

var dayCmd = &cobra.Command{
	Use:   "day <date>",
	Short: "Show the rebuilt index for a calendar day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		date, err := model.ParseDate(args[0])
		if err != nil {
			return eris.Wrap(err, "date must be YYYY-MM-DD")
		}
		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg, &cacheCounter{})
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		idx, err := st.DailyIndex(ctx, date)
		if err != nil {
			return eris.Wrap(err, "day")
		}
		if idx == nil {
			fmt.Fprintf(os.Stderr, "No index for %s.\n", date)
			return nil
		}

		format, _ := cmd.Flags().GetString("format")
		if format == formatTable {
			formatDay(os.Stdout, idx)
			return nil
		}
		return writeStructured(os.Stdout, format, idx)
	},
}

// cacheCounter logs cache outcomes at debug level for one-shot commands.
type cacheCounter struct{}

func (*cacheCounter) CacheHit()  { zap.L().Debug("day cache hit") }
func (*cacheCounter) CacheMiss() { zap.L().Debug("day cache miss") }

func init() {
	dayCmd.Flags().String("format", formatTable, "output format (table, json, yaml)")
	rootCmd.AddCommand(dayCmd)
}
