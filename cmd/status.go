package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ibvi/lead-enrich/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enrichment record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := newStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.StatusCounts(ctx)
		if err != nil {
			return err
		}

		total := 0
		for _, status := range []model.Status{
			model.StatusPending,
			model.StatusUnenriched,
			model.StatusPartial,
			model.StatusCompleted,
			model.StatusFailed,
		} {
			fmt.Printf("%-12s %d\n", status, counts[status])
			total += counts[status]
		}
		fmt.Printf("%-12s %d\n", "total", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
