package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ibvi/lead-enrich/internal/httpapi"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enrichment scheduler with the operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		api := httpapi.NewServer(env.Store, env.Scheduler, env.Tracker)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			err := env.Scheduler.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		g.Go(func() error {
			zap.L().Info("starting operator api", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down operator api")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "operator api port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
