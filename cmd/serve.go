package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spf13/cobra"
	"github.com/wegman-software/vexd/internal/extract"
	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/metrics"
	"github.com/wegman-software/vexd/internal/replication"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve extracts and keep the store up to date",
	Long: `Start the extract HTTP server and the background replication updater.

Extracts are requested as

  GET /min_lat,min_lon,max_lat,max_lon.{pbf|vex|txt}

and a HEAD request on the same path checks that it is valid. The updater
runs immediately, then once per --interval after each cycle completes.
/healthz reports the replication cursor; /metrics is served with --metrics.

Ctrl+C stops accepting requests, lets the current diff finish and, for the
memory backend, saves the snapshot.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "HTTP listen address")
	serveCmd.Flags().BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "Serve Prometheus metrics on /metrics")
	serveCmd.Flags().DurationVar(&cfg.UpdateInterval, "interval", cfg.UpdateInterval, "Delay between replication update cycles")
	serveCmd.Flags().BoolVar(&cfg.NoUpdates, "no-updates", cfg.NoUpdates, "Serve without the background updater")
}

func runServe(cmd *cobra.Command, args []string) {
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, persist, err := openStore(ctx)
	if err != nil {
		exitWithError("failed to open store", err)
	}

	var updater *replication.Updater
	if !cfg.NoUpdates {
		if updater, err = newUpdater(st); err != nil {
			exitWithError("failed to create updater", err)
		}
	}

	server := extract.NewServer(extract.ServerConfig{
		Addr:    cfg.ListenAddr,
		Store:   st,
		Updater: updater,
		Metrics: cfg.Metrics,
		Logger:  logger.Named("http"),
	})

	log.Info("Starting vexd",
		zap.String("listen", cfg.ListenAddr),
		zap.String("backend", cfg.Backend),
		zap.Bool("updates", updater != nil),
		zap.Duration("interval", cfg.UpdateInterval))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.ListenAndServe)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if updater != nil {
		g.Go(func() error {
			updater.Run(gctx, cfg.UpdateInterval)
			return nil
		})
	}

	g.Go(func() error {
		metrics.NewCollector(cfg.MetricsInterval, logger.Named("metrics")).Start(gctx)
		return nil
	})

	waitErr := g.Wait()
	if err := persist(context.Background()); err != nil {
		exitWithError("failed to save snapshot", err)
	}
	if waitErr != nil {
		exitWithError("server failed", waitErr)
	}
	log.Info("vexd stopped")
}
