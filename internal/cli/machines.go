package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/api"
	"github.com/kiranshivaraju/modeltrain/internal/api/handler"
	"github.com/kiranshivaraju/modeltrain/internal/store"
)

var machinesCmd = &cobra.Command{
	Use:   "machines",
	Short: "Run the machines read API",
	RunE:  runMachines,
}

func init() {
	rootCmd.AddCommand(machinesCmd)
}

func runMachines(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	machines := store.NewPostgresStore(pool)

	router := api.NewMachinesRouter(api.MachinesDependencies{
		CORSOrigins:       cfg.Server.CORSOrigins,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		Metrics:           registerHTTPMetrics("machines"),
		HealthHandler:     handler.NewHealthHandler(),
		ListHandler:       handler.NewListMachinesHandler(machines),
		GetHandler:        handler.NewGetMachineHandler(machines),
		MetricsHandler:    promhttp.Handler(),
	})

	zap.S().Infow("starting machines api", "port", cfg.Server.MachinesPort)
	return listenAndServe(ctx, newHTTPServer(cfg.Server.MachinesPort, router))
}
