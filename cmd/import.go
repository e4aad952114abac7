package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/quality-cli/internal/ingest"
)

var (
	importPeriod    string
	importBatchSize int
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import one monthly extract file",
	Long:  "Coerces and loads a provider extract file into the snapshot table, tagged to the extract for --period. Already-completed periods are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		periodDate, err := time.Parse("2006-01-02", importPeriod)
		if err != nil {
			return eris.Wrapf(err, "invalid --period %q (want YYYY-MM-DD)", importPeriod)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mapper, err := ingest.NewMapper()
		if err != nil {
			return err
		}

		batchSize := importBatchSize
		if batchSize <= 0 {
			batchSize = cfg.Import.BatchSize
		}

		result, err := ingest.NewImporter(st, mapper, batchSize).Run(ctx, args[0], periodDate)
		if err != nil {
			return err
		}

		if result.Skipped {
			fmt.Printf("extract %d for %s already completed, skipped\n", result.ExtractID, importPeriod)
			return nil
		}
		fmt.Printf("extract %d: %d rows written, %d dropped\n",
			result.ExtractID, result.RowsWritten, result.RowsDropped)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPeriod, "period", "", "period date of the extract (YYYY-MM-DD, required)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "rows per upsert batch (default from config)")
	_ = importCmd.MarkFlagRequired("period")
	rootCmd.AddCommand(importCmd)
}
