package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ibvi/lead-enrich/internal/crm"
	"github.com/ibvi/lead-enrich/internal/store"
)

var (
	syncSinceHours  int
	syncLimit       int
	syncBulk        bool
	syncStatusField string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import leads from Salesforce and push statuses back",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Salesforce == nil {
			return eris.New("salesforce is not configured")
		}
		syncer := crm.NewSyncer(env.Salesforce, env.Store)
		since := time.Now().Add(-time.Duration(syncSinceHours) * time.Hour)

		if syncBulk {
			pg, ok := env.Store.(*store.PostgresStore)
			if !ok {
				return eris.New("--bulk requires the postgres store")
			}
			n, err := syncer.BulkLoad(ctx, pg.Pool(), since, syncLimit)
			if err != nil {
				return err
			}
			fmt.Printf("bulk loaded %d leads\n", n)
		} else {
			n, err := syncer.Import(ctx, since, syncLimit)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d leads\n", n)
		}

		if syncStatusField != "" {
			n, err := syncer.PushStatuses(ctx, syncStatusField, syncLimit)
			if err != nil {
				return err
			}
			fmt.Printf("pushed %d statuses\n", n)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncSinceHours, "since-hours", 24, "import leads created in the last N hours")
	syncCmd.Flags().IntVar(&syncLimit, "limit", 200, "maximum leads per operation")
	syncCmd.Flags().BoolVar(&syncBulk, "bulk", false, "bulk load via COPY (postgres backfill only)")
	syncCmd.Flags().StringVar(&syncStatusField, "push-status", "", "push completed statuses to this Lead custom field")
	rootCmd.AddCommand(syncCmd)
}
