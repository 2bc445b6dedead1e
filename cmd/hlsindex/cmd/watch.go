package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlsindex/internal/hls"
)

var watchCmd = &cobra.Command{
	Use:   "watch <url>",
	Short: "Parse a playlist and follow live updates",
	Long: `Parse an HLS master playlist and keep refreshing it until interrupted.

Every completed update logs each stream's segment window. Update failures
are logged and retried. VOD presentations are logged once and the command
exits; otherwise it runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	fetcher, _ := newFetcher(cfg.Fetch, logger)

	parser := hls.New(fetcher, cfg.Manifest).
		WithLogger(logger).
		WithErrorHandler(func(err *hls.Error) {
			logger.Warn("update failed",
				slog.String("code", string(err.Code)),
				slog.String("severity", err.Severity.String()),
				slog.String("error", err.Error()),
			)
		}).
		WithUpdateHandler(func(m *hls.Manifest) {
			logWindows(logger, m)
		})
	defer parser.Stop()

	m, err := parser.Start(ctx, args[0])
	if err != nil {
		return err
	}
	logger.Info("presentation parsed",
		slog.String("type", parser.PresentationType().String()),
		slog.Duration("update_delay", parser.UpdateDelay()),
		slog.String("correlation_id", parser.CorrelationID()),
	)
	logWindows(logger, m)

	if !parser.PresentationType().IsLive() {
		logger.Info("presentation is not live, nothing to watch")
		return nil
	}

	<-ctx.Done()
	logger.Info("stopping", slog.Int("streams", len(m.Streams())))
	return nil
}

func logWindows(logger *slog.Logger, m *hls.Manifest) {
	for _, s := range m.Streams() {
		w := s.Segments()
		logger.Info("segment window",
			slog.Int64("stream_id", s.ID),
			slog.String("type", string(s.Type)),
			slog.Int("count", w.Count),
			slog.Int64("first_position", w.FirstPosition),
			slog.Int64("last_position", w.LastPosition),
			slog.Float64("start", w.Start),
			slog.Float64("end", w.End),
		)
	}
}
