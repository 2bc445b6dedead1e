package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	internalhttp "github.com/jmylchreest/hlsindex/internal/http"
	"github.com/jmylchreest/hlsindex/internal/http/handlers"
	"github.com/jmylchreest/hlsindex/internal/service"
	"github.com/jmylchreest/hlsindex/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inspection API",
	Long: `Start the hlsindex HTTP API.

The server provides:
- POST/GET/DELETE /api/v1/presentations for running parsers
- segment lookup by time per stream
- health, liveness and readiness endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrideString(cmd.Flags(), "host", &cfg.Server.Host)
	overrideInt(cmd.Flags(), "port", &cfg.Server.Port)

	logger := slog.Default()
	fetcher, hc := newFetcher(cfg.Fetch, logger)

	svc := service.NewPresentationService(fetcher, cfg.Manifest, cfg.Server.MaxSessions).
		WithLogger(logger)
	defer svc.Close()

	server := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)

	handlers.NewHealthHandler(version.Version).
		WithUpstream(hc).
		WithSessions(svc).
		Register(server.API())
	handlers.NewPresentationHandler(svc).
		WithLogger(logger).
		Register(server.API())

	logger.Info("hlsindex starting",
		slog.String("version", version.Version),
		slog.String("address", cfg.Server.Address()),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
	)

	return server.ListenAndServe(ctx)
}
