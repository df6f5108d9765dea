package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var enrichLeadID string

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run one enrichment cycle immediately",
	Long:  "Processes a batch of unenriched leads and eligible retries once, without starting the scheduler loop. With --lead, processes a single lead regardless of retry eligibility gating in the batch path.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if enrichLeadID != "" {
			lead, err := env.Store.GetLead(ctx, enrichLeadID)
			if err != nil {
				return err
			}
			if lead == nil {
				return eris.Errorf("lead not found: %s", enrichLeadID)
			}
			rec, err := env.Orchestrator.ProcessLead(ctx, *lead)
			if err != nil {
				return err
			}
			fmt.Printf("lead %s: %s", lead.ID, rec.Status)
			if rec.ResolvedIdentifier != "" {
				fmt.Printf(" (identifier %s via %s)", rec.ResolvedIdentifier, rec.IdentifierSource)
			}
			fmt.Println()
			return nil
		}

		if !env.Scheduler.TriggerNow(ctx) {
			zap.L().Warn("cycle skipped")
			return nil
		}
		status := env.Scheduler.Status()
		fmt.Printf("cycle finished: %d leads, %d retries\n", status.LastCycleLeads, status.LastCycleRetries)
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichLeadID, "lead", "", "process a single lead by id")
	rootCmd.AddCommand(enrichCmd)
}
