package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ibvi/lead-enrich/internal/export"
)

var (
	exportOut   string
	exportLimit int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export completed enrichments to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := newStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := export.CompletedXLSX(ctx, st, exportOut, exportLimit)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d rows to %s\n", n, exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "enriched.xlsx", "output file path")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 10000, "maximum rows to export")
	rootCmd.AddCommand(exportCmd)
}
