package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/semantic-explorer/viz-worker/pkg/config"
	"github.com/semantic-explorer/viz-worker/pkg/log"
	"github.com/semantic-explorer/viz-worker/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "viz-worker",
	Short: "Visualization transform worker",
	Long: `viz-worker consumes visualization transform jobs from a durable
JetStream consumer, projects and clusters embedded datasets into an
interactive 2-D map, and uploads the rendered artifact to object storage.

All configuration is read from environment variables; only S3_BUCKET_NAME
is required.`,
	Version:      Version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogFormat == "json",
			WorkerID:   cfg.WorkerID,
		})
		log.Info(fmt.Sprintf("viz-worker %s starting (commit %s)", Version, Commit))

		return worker.RunProcess(cfg)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"viz-worker version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}
