package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/quality-cli/internal/diff"
)

var diffEventDate string

var diffCmd = &cobra.Command{
	Use:   "diff <current-extract-id> <previous-extract-id>",
	Short: "Detect changes between two completed extracts",
	Long:  "Runs the change detectors between two completed extracts and records provider events. Re-running the same pair inserts nothing new.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		currentID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "invalid current extract id %q", args[0])
		}
		previousID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "invalid previous extract id %q", args[1])
		}
		eventDate, err := time.Parse("2006-01-02", diffEventDate)
		if err != nil {
			return eris.Wrapf(err, "invalid --event-date %q (want YYYY-MM-DD)", diffEventDate)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		result, err := diff.NewEngine(st).Run(ctx, currentID, previousID, eventDate)
		if err != nil {
			return err
		}

		formatDiffResult(os.Stdout, result)
		return nil
	},
}

func init() {
	diffCmd.Flags().StringVar(&diffEventDate, "event-date", "", "logical date recorded on events (YYYY-MM-DD, required)")
	_ = diffCmd.MarkFlagRequired("event-date")
	rootCmd.AddCommand(diffCmd)
}

func formatDiffResult(out io.Writer, result *diff.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DETECTOR\tEVENT TYPE\tINSERTED")
	_, _ = fmt.Fprintln(w, "--------\t----------\t--------")
	for _, c := range result.Counts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", c.Name, c.EventType, c.Inserted)
	}
	_, _ = fmt.Fprintf(w, "total\t\t%d\n", result.Total)
	_ = w.Flush()
}
