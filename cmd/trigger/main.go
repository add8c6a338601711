// Command trigger runs the Trigger service (C6): the pipeline
// orchestrator described in spec.md §4.2.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/malawley/hygiene-pipeline/internal/config"
	"github.com/malawley/hygiene-pipeline/internal/logging"
	"github.com/malawley/hygiene-pipeline/internal/trigger"
)

func main() {
	root := &cobra.Command{
		Use:   "trigger",
		Short: "Pipeline orchestrator: routes completion events between stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadTriggerConfig()
			closeLog := logging.Setup("trigger", cfg.LogFile)
			defer closeLog()

			if cfg.ServiceConfigB64 == "" {
				slog.Error("SERVICE_CONFIG_B64 is not set")
				os.Exit(1)
			}

			services, err := trigger.DecodeServiceConfig(cfg.ServiceConfigB64)
			if err != nil {
				slog.Error("failed to decode service config", slog.Any("error", err))
				os.Exit(1)
			}

			t := trigger.New(services, cfg.EnableJSONLoader, cfg.DurationsDir)
			defer t.Cache.Stop()

			slog.Info("trigger listening",
				slog.String("port", cfg.HTTPPort),
				slog.String("extractor", services.Extractor.URL),
				slog.String("cleaner", services.Cleaner.URL),
				slog.String("loader_json", services.Loader.URL),
				slog.String("loader_parquet", services.LoaderParquet.URL),
				slog.Bool("json_loader_enabled", cfg.EnableJSONLoader),
			)
			return http.ListenAndServe(":"+cfg.HTTPPort, t.Router())
		},
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
