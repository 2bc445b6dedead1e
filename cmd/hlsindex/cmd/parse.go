package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/hlsindex/internal/hls"
)

var parseOutput string

var parseCmd = &cobra.Command{
	Use:   "parse <url>",
	Short: "Parse a master playlist and print the presentation",
	Long: `Parse an HLS master playlist once and print the resulting presentation:
timeline, variants, text streams and each stream's segment window.

Live playlists are parsed but not refreshed; use "watch" for that.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseOutput, "output", "o", "json", "output format (json, yaml)")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	if parseOutput != "json" && parseOutput != "yaml" {
		return fmt.Errorf("unsupported output format %q", parseOutput)
	}

	logger := slog.Default()
	fetcher, _ := newFetcher(cfg.Fetch, logger)

	parser := hls.New(fetcher, cfg.Manifest).WithLogger(logger)
	defer parser.Stop()

	if _, err := parser.Start(cmd.Context(), args[0]); err != nil {
		return err
	}
	snap, ok := parser.Snapshot()
	if !ok {
		return hls.ErrOperationAborted
	}
	return writeSnapshot(os.Stdout, parseOutput, snap)
}

func writeSnapshot(w io.Writer, format string, snap hls.ManifestSnapshot) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		return nil
	}
}
