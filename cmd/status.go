package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quality-cli/internal/model"
)

var statusRunLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show extract and import run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		extracts, err := st.ListExtracts(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(extracts) == 0 {
			zap.L().Info("no extracts found, run 'import' to ingest a period")
			return nil
		}
		formatExtracts(os.Stdout, extracts)

		runs, err := st.ListImportRuns(ctx, statusRunLimit)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(runs) > 0 {
			fmt.Println()
			formatImportRuns(os.Stdout, runs)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusRunLimit, "runs", 20, "number of recent import runs to show")
	rootCmd.AddCommand(statusCmd)
}

func formatExtracts(out io.Writer, extracts []model.Extract) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPERIOD\tSTATUS\tROWS\tSOURCE\tCOMPLETED")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t----\t------\t---------")

	for _, e := range extracts {
		rows := "-"
		if e.RecordCount != nil {
			rows = fmt.Sprintf("%d", *e.RecordCount)
		}
		completed := "-"
		if e.CompletedAt != nil {
			completed = e.CompletedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.PeriodDate.Format("2006-01-02"),
			e.Status,
			rows,
			truncate(e.SourceFile, 40),
			completed,
		)
	}
	_ = w.Flush()
}

func formatImportRuns(out io.Writer, runs []model.ImportRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tEXTRACT\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")
	_, _ = fmt.Fprintln(w, "---\t-------\t------\t-------\t--------\t----\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
			truncate(r.ID, 8),
			r.ExtractID,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.RowsWritten,
			truncate(r.Error, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
