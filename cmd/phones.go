package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibvi/lead-enrich/internal/waterfall"
)

var phonesLimit int

// phonesCmd backfills phone_digits for leads imported before normalization
// existed, or whose raw phone changed upstream.
var phonesCmd = &cobra.Command{
	Use:   "phones",
	Short: "Normalize raw phone numbers on stored leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := newStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		leads, err := st.ListLeadsWithRawPhone(ctx, phonesLimit)
		if err != nil {
			return err
		}

		updated := 0
		for _, lead := range leads {
			digits := waterfall.NormalizePhone(lead.Phone)
			if digits == "" {
				zap.L().Debug("phone yields no digits", zap.String("lead_id", lead.ID))
				continue
			}
			if err := st.UpdateLeadPhone(ctx, lead.ID, digits); err != nil {
				return err
			}
			updated++
		}
		fmt.Printf("normalized %d of %d leads\n", updated, len(leads))
		return nil
	},
}

func init() {
	phonesCmd.Flags().IntVar(&phonesLimit, "limit", 1000, "maximum leads to process")
	rootCmd.AddCommand(phonesCmd)
}
