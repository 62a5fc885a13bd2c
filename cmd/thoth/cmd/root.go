// Package cmd provides the CLI commands for Thoth.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thothlabs/thoth/internal/chunk"
	"github.com/thothlabs/thoth/internal/config"
	"github.com/thothlabs/thoth/internal/embed"
	"github.com/thothlabs/thoth/internal/ingest"
	"github.com/thothlabs/thoth/internal/jobstore"
	"github.com/thothlabs/thoth/internal/logging"
	"github.com/thothlabs/thoth/internal/objstore"
	"github.com/thothlabs/thoth/internal/parser"
	"github.com/thothlabs/thoth/internal/snapshot"
	"github.com/thothlabs/thoth/internal/taskqueue"
	"github.com/thothlabs/thoth/pkg/version"
)

var (
	logLevel    string
	sourcesPath string
)

// NewRootCmd creates the root command for the thoth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thoth",
		Short: "Document ingestion and semantic search service",
		Long: `Thoth ingests document corpora into vector-store collections and serves
semantic search over them. Run 'thoth serve' to start the HTTP control
plane, or use the subcommands to drive ingestion directly.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			cfg := logging.DefaultConfig()
			cfg.Level = logLevel
			slog.SetDefault(logging.Setup(cfg))
		},
	}
	cmd.SetVersionTemplate("thoth version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&sourcesPath, "sources", "", "Path to sources.yaml (defaults to ./sources.yaml when present)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newMergeCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command with signal-aware context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// newEnv assembles the shared ingest environment from process settings.
// The returned cleanup closes held resources.
func newEnv(ctx context.Context) (*ingest.Env, func(), error) {
	settings := config.LoadSettings()

	registry, err := loadRegistry()
	if err != nil {
		return nil, nil, err
	}

	bucket, err := objstore.Open(settings.BaseURI(), objstore.Options{
		S3Endpoint: settings.ObjectStoreEndpoint,
	})
	if err != nil {
		return nil, nil, err
	}

	jobs, err := jobstore.Open(settings.JobDBPath)
	if err != nil {
		return nil, nil, err
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ProviderStatic)
	if err != nil {
		_ = jobs.Close()
		return nil, nil, err
	}

	chunker, err := chunk.NewChunker(chunk.DefaultOptions())
	if err != nil {
		_ = jobs.Close()
		_ = embedder.Close()
		return nil, nil, err
	}

	env := &ingest.Env{
		Settings:  settings,
		Registry:  registry,
		Bucket:    bucket,
		Jobs:      jobs,
		Snapshots: snapshot.NewProvider(bucket, registry, filepath.Join(settings.DataDir, ".cache")),
		Queue:     taskqueue.New(settings),
		Embedder:  embedder,
		Parsers:   parser.NewFactory(),
		Chunker:   chunker,
		States:    ingest.NewStateStore(settings.DataDir),
	}
	cleanup := func() {
		_ = jobs.Close()
		_ = embedder.Close()
	}
	return env, cleanup, nil
}

// loadRegistry resolves the source registry, honoring --sources and
// falling back to ./sources.yaml when present.
func loadRegistry() (*config.Registry, error) {
	path := sourcesPath
	if path == "" {
		if _, err := os.Stat("sources.yaml"); err == nil {
			path = "sources.yaml"
		}
	}
	return config.LoadRegistry(path)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
