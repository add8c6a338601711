// Command extractor runs the Extractor service (C4): either as a
// long-running HTTP server (the "serve" subcommand) or as a one-shot
// CLI run for local backfills and tests (the "run" subcommand) — the
// same HTTP-mode-vs-CLI-mode split original_source's
// extractor/extractor.go main() implements with HTTP_MODE.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/malawley/hygiene-pipeline/internal/config"
	"github.com/malawley/hygiene-pipeline/internal/events"
	"github.com/malawley/hygiene-pipeline/internal/extractor"
	"github.com/malawley/hygiene-pipeline/internal/feed"
	"github.com/malawley/hygiene-pipeline/internal/logging"
	"github.com/malawley/hygiene-pipeline/internal/objectstore"
	"github.com/malawley/hygiene-pipeline/internal/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:   "extractor",
		Short: "Resumable, chunked extractor for the food-inspection feed",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildExtractor(ctx context.Context, cfg config.ExtractorConfig) (*extractor.Extractor, error) {
	store, err := objectstore.NewMinioStore(ctx, objectstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}
	if err := store.EnsureBucket(ctx, cfg.BucketName); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	f := feed.NewClient(cfg.SourceURL)
	metrics := telemetry.NewSink(store, cfg.BucketName, "metrics")
	notifier := extractor.NewHTTPNotifier(cfg.TriggerURL)

	return extractor.New(store, cfg.BucketName, cfg.RawPrefix, f, metrics, notifier), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the extractor as an HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadExtractorConfig()
			closeLog := logging.Setup("extractor", cfg.LogFile)
			defer closeLog()

			if cfg.BucketName == "" {
				slog.Error("BUCKET_NAME not set")
				os.Exit(1)
			}

			x, err := buildExtractor(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			slog.Info("extractor listening", slog.String("port", cfg.HTTPPort))
			return http.ListenAndServe(":"+cfg.HTTPPort, x.Router())
		},
	}
}

func runCmd() *cobra.Command {
	var date string
	var maxOffset int
	var apiErrorProb, gcsErrorProb, rowDropProb, delayProb float64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single extraction synchronously from the CLI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadExtractorConfig()
			closeLog := logging.Setup("extractor-cli", cfg.LogFile)
			defer closeLog()

			x, err := buildExtractor(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			req := events.RunRequest{
				Date:         date,
				MaxOffset:    maxOffset,
				APIErrorProb: apiErrorProb,
				GCSErrorProb: gcsErrorProb,
				RowDropProb:  rowDropProb,
				DelayProb:    delayProb,
			}
			return x.Run(cmd.Context(), req)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "calendar day to extract, YYYY-MM-DD")
	cmd.Flags().IntVar(&maxOffset, "max-offset", 0, "rows-this-run bound; 0 means unbounded")
	cmd.Flags().Float64Var(&apiErrorProb, "api-error-prob", 0, "simulated API failure probability")
	cmd.Flags().Float64Var(&gcsErrorProb, "gcs-error-prob", 0, "simulated object-store failure probability")
	cmd.Flags().Float64Var(&rowDropProb, "row-drop-prob", 0, "per-row drop probability")
	cmd.Flags().Float64Var(&delayProb, "delay-prob", 0, "per-chunk delay probability")
	return cmd
}
