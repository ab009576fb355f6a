package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/yesterday/internal/model"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// writeStructured encodes v as JSON or YAML.
func writeStructured(out io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unsupported format %q (want table, json or yaml)", format)
	}
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.IngestionRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDATE\tSTATUS\tTOTAL\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-----\t-------\t--------\t-----")

	for _, r := range runs {
		dur := ""
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}

		errMsg := r.ErrorSummary
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Date,
			r.Status,
			r.TotalCount,
			r.StartedAt.UTC().Format("2006-01-02 15:04"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatDay writes a day's index as a table.
func formatDay(out io.Writer, idx *model.DailyIndex) {
	_, _ = fmt.Fprintf(out, "%s: %d items (%d new, %d updated)\n\n",
		idx.Date, idx.TotalCount, idx.NewCount, idx.UpdatedCount)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tBUCKET\tPUBLISHED\tTITLE\tURL")
	for _, it := range idx.Items {
		src := string(it.Source)
		if it.SourceSubtype != "" {
			src += "/" + it.SourceSubtype
		}
		title := it.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			src,
			it.Bucket,
			it.PublishedAt.UTC().Format("2006-01-02 15:04"),
			title,
			it.URL,
		)
	}
	_ = w.Flush()
}

// formatResult writes a one-line run summary.
func formatResult(out io.Writer, r model.RunResult) {
	_, _ = fmt.Fprintf(out, "%s %s run=%s total=%d duration=%dms",
		r.Date, r.Status, truncateID(r.RunID), r.TotalCount, r.DurationMs)
	for _, name := range sortedSourceNames(r.SourceCounts) {
		_, _ = fmt.Fprintf(out, " %s=%d", name, r.SourceCounts[name])
	}
	if r.ErrorMessage != "" {
		_, _ = fmt.Fprintf(out, " error=%q", r.ErrorMessage)
	}
	_, _ = fmt.Fprintln(out)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
