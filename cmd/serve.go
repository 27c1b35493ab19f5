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

	"github.com/sells-group/places-sync/internal/api"
	"github.com/sells-group/places-sync/internal/business"
	"github.com/sells-group/places-sync/internal/monitoring"
)

var (
	servePort    int
	serveNoQueue bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, queue worker and alert checker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		handler := api.NewRouter(api.Deps{
			Businesses: env.Store,
			Search:     env.Places,
			Import:     env.Importer,
			Photos:     env.Ingestor,
			Queue:      env.Queue,
			Limiter:    env.Limiter,
			Usage:      env.Collector,
			ImportDefaults: business.ImportOptions{
				MaxPages:    cfg.Import.MaxPages,
				Concurrency: cfg.Import.Concurrency,
			},
		}, api.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Timeout:        2 * time.Minute,
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if !serveNoQueue {
			g.Go(func() error { return env.Queue.Run(gctx) })
		}

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), env.Store, cfg.Monitoring)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoQueue, "no-queue", false, "do not run the background queue worker")
	rootCmd.AddCommand(serveCmd)
}
