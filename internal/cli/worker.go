package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/modeltrain/internal/api"
	"github.com/kiranshivaraju/modeltrain/internal/api/handler"
	"github.com/kiranshivaraju/modeltrain/internal/config"
	"github.com/kiranshivaraju/modeltrain/internal/store"
	"github.com/kiranshivaraju/modeltrain/internal/tracking"
	"github.com/kiranshivaraju/modeltrain/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a training worker",
	Long: `Consumes work items from the queue, trains a model for each staged
dataset and reports progress to the job store.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireTrainer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, cfg.Worker.Name)
	if err != nil {
		return err
	}
	defer b.Close()

	var opts []worker.Option
	if tracker := connectTracker(ctx, cfg.Tracking); tracker != nil {
		opts = append(opts, worker.WithTracker(tracker))
	}
	machines, closeMachines := connectMachines(ctx, cfg.Database)
	defer closeMachines()
	if machines != nil {
		opts = append(opts, worker.WithMachines(machines))
	}

	w := worker.New(b.jobs, b.objects, trainingConfig(cfg.Training), opts...)
	runner := worker.NewRunner(b.queue, w, cfg.Worker.Concurrency, cfg.Worker.PollTimeout,
		worker.WithHeartbeatTTL(cfg.Worker.HeartbeatTTL),
		worker.WithRetryBackoff(cfg.Worker.RetryBackoff),
	)

	admin := newHTTPServer(cfg.Server.AdminPort, api.NewAdminRouter(
		handler.NewHealthHandler(),
		handler.NewReadyHandler(map[string]handler.Pinger{
			"redis":   b.jobs,
			"queue":   b.queue,
			"storage": b.objects,
		}),
		promhttp.Handler(),
	))

	zap.S().Infow("starting training worker",
		"worker", cfg.Worker.Name,
		"queue", cfg.Queue.Name,
		"concurrency", cfg.Worker.Concurrency,
		"admin_port", cfg.Server.AdminPort,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		return listenAndServe(gctx, admin)
	})
	return g.Wait()
}

// connectTracker returns nil when tracking is not configured or the server
// does not answer; training then runs without tracking.
func connectTracker(ctx context.Context, c config.TrackingConfig) *tracking.HTTPClient {
	if !c.TrackingEnabled() {
		zap.S().Infow("tracking disabled", "reason", "MLFLOW_TRACKING_URI not set")
		return nil
	}

	client := tracking.NewHTTPClient(c.URI, c.Username, c.Password, c.Timeout)

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := client.Probe(pctx); err != nil {
		zap.S().Warnw("tracking disabled", "uri", c.URI, "error", err)
		return nil
	}

	zap.S().Infow("tracking enabled", "uri", c.URI)
	return client
}

// connectMachines opens the machines table when DATABASE_URL is set. A
// failure disables the mirror rather than stopping the worker.
func connectMachines(ctx context.Context, c config.DatabaseConfig) (*store.PostgresStore, func()) {
	if c.URL == "" {
		return nil, func() {}
	}

	pool, err := store.Connect(ctx, c)
	if err != nil {
		zap.S().Warnw("machines mirror disabled", "error", fmt.Errorf("connect: %w", err))
		return nil, func() {}
	}

	zap.S().Infow("machines mirror enabled")
	return store.NewPostgresStore(pool), pool.Close
}
