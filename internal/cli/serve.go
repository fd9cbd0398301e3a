package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/api"
	"github.com/kiranshivaraju/modeltrain/internal/api/handler"
	mw "github.com/kiranshivaraju/modeltrain/internal/api/middleware"
	"github.com/kiranshivaraju/modeltrain/internal/cache"
	"github.com/kiranshivaraju/modeltrain/internal/intake"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the training API",
	Long:  "Accepts datasets on POST /start and reports job status on /status.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireTrainer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, "api")
	if err != nil {
		return err
	}
	defer b.Close()

	deps := api.Dependencies{
		CORSOrigins:       cfg.Server.CORSOrigins,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		Metrics:           registerHTTPMetrics("api"),
		HealthHandler:     handler.NewHealthHandler(),
		StatusHandler:     handler.NewStatusHandler(b.jobs),
		StatusListHandler: handler.NewStatusListHandler(b.jobs),
		MetricsHandler:    promhttp.Handler(),
		ReadyHandler: handler.NewReadyHandler(map[string]handler.Pinger{
			"redis":   b.jobs,
			"queue":   b.queue,
			"storage": b.objects,
		}),
		StartHandler: handler.NewStartHandler(
			intake.NewService(b.jobs, b.objects, b.queue),
			cfg.Server.MaxUploadBytes,
		),
	}

	if cfg.Server.SubmitRateLimit > 0 {
		counter, err := cache.NewRedisCounter(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("open rate limit counter: %w", err)
		}
		defer func() { _ = counter.Close() }()
		deps.RateLimit = mw.NewRateLimit(counter, "submit", cfg.Server.SubmitRateLimit)
	}

	zap.S().Infow("starting training api",
		"port", cfg.Server.Port,
		"queue", cfg.Queue.Name,
		"bucket", cfg.Storage.Bucket,
		"submit_rate_limit", cfg.Server.SubmitRateLimit,
	)

	return listenAndServe(ctx, newHTTPServer(cfg.Server.Port, api.NewRouter(deps)))
}
