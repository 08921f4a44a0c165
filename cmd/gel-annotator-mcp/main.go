package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ironsheep/gel-annotator-mcp/internal/config"
	"github.com/ironsheep/gel-annotator-mcp/internal/imaging"
	"github.com/ironsheep/gel-annotator-mcp/internal/logging"
	"github.com/ironsheep/gel-annotator-mcp/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "gel-annotator-mcp",
		Short: "MCP server for annotating and counting microgels and cells",
		Long: `gel-annotator-mcp serves a microgel annotation session over the MCP
protocol on stdin/stdout. Configure it in your MCP client.

Environment variables:
  GEL_MCP_LOG_LEVEL      debug, info, warn or error
  GEL_MCP_DETECTOR       http, ollama or none
  GEL_MCP_DETECTOR_URL   base URL of the detection service
  GEL_MCP_OLLAMA_URL     Ollama server URL
  GEL_MCP_OLLAMA_MODEL   Ollama vision model`,
		SilenceUsage: true,
		Version:      Version,
		RunE:         serve,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gel-annotator-mcp %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides the configuration")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// stdout carries the protocol, so logs go to stderr.
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cache := imaging.NewImageCache()
	det, err := buildDetector(cfg, cache, log)
	if err != nil {
		return err
	}

	log.Info("starting server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", GitCommit),
		zap.String("detector", det.Name()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(
		server.WithConfig(cfg),
		server.WithLogger(log),
		server.WithCache(cache),
		server.WithDetector(det),
		server.WithVersion(Version),
	)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("server error", zap.Error(err))
		return err
	}
	return nil
}
