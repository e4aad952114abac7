package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/quality-cli/internal/model"
	"github.com/sells-group/quality-cli/internal/report"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show aggregate pipeline counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := report.NewCollector(st).Collect(ctx)
		if err != nil {
			return err
		}

		formatSummary(os.Stdout, s)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}

var (
	extractStatusOrder = []model.ExtractStatus{
		model.ExtractPending, model.ExtractImporting, model.ExtractCompleted, model.ExtractFailed,
	}
	eventTypeOrder = []model.EventType{
		model.EventRatingChange, model.EventNewEntity, model.EventEntityRemoved, model.EventAttributeChange,
	}
)

func formatSummary(out io.Writer, s *report.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "EXTRACTS")
	for _, status := range extractStatusOrder {
		if n := s.ExtractsByStatus[status]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s\t%d\n", status, n)
		}
	}

	if s.LatestExtract != nil {
		_, _ = fmt.Fprintf(w, "\nLATEST COMPLETED\t%s (extract %d, %d providers)\n",
			s.LatestExtract.PeriodDate.Format("2006-01-02"), s.LatestExtract.ID, s.SnapshotCount)
	}

	_, _ = fmt.Fprintln(w, "\nEVENTS")
	for _, et := range eventTypeOrder {
		if n := s.EventsByType[et]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s\t%d\n", et, n)
		}
	}

	if len(s.TopStates) > 0 {
		_, _ = fmt.Fprintln(w, "\nTOP STATES")
		for _, sc := range s.TopStates {
			_, _ = fmt.Fprintf(w, "  %s\t%d\n", sc.State, sc.Providers)
		}
	}

	_ = w.Flush()
}
