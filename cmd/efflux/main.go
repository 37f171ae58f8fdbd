// Package main provides the entry point for the Efflux conversion service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openterra/efflux/internal/app"
	"github.com/openterra/efflux/internal/config"
	"github.com/openterra/efflux/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "efflux",
	Short: "Efflux - Datastore Resource Conversion Service",
	Long: `Efflux converts tabular and spatial datastore resources into
downloadable file artifacts.

It provides a REST API that dumps a resource once through a bounded-memory
staging file and fans it out to every requested format and projection.

Features:
  - CSV, JSON, XML, GeoJSON, GeoPackage and Shapefile outputs
  - Coordinate reprojection (EPSG support) via SpatiaLite
  - Paginated dumps with bounded memory
  - Per-output failure isolation
  - Artifact publishing to AWS S3 or Azure Blob Storage
  - Scratch retention sweeping
  - TLS with automatic certificate management
  - Prometheus metrics`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Efflux %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert <resource-id>",
	Short: "Convert a single resource and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

var pruneCmd = &cobra.Command{
	Use:   "prune <path>",
	Short: "Delete a path under the scratch root and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrune,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8080, "server port")
	rootCmd.Flags().Bool("tls", false, "enable TLS")
	rootCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	rootCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")

	// Datastore flags
	rootCmd.Flags().String("datastore-type", "http", "datastore type (http, postgres)")
	rootCmd.Flags().String("datastore-url", "", "base URL of the HTTP datastore API")

	// Scratch flags
	rootCmd.Flags().String("scratch-root", "./scratch", "scratch root for staged dumps and artifacts")

	// CORS flags
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", rootCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", rootCmd.Flags().Lookup("tls-email"))
	_ = viper.BindPFlag("datastore.type", rootCmd.Flags().Lookup("datastore-type"))
	_ = viper.BindPFlag("datastore.http.base_url", rootCmd.Flags().Lookup("datastore-url"))
	_ = viper.BindPFlag("convert.scratch_root", rootCmd.Flags().Lookup("scratch-root"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))

	// Convert subcommand flags
	convertCmd.Flags().StringSlice("format", []string{"csv"}, "output formats (csv, json, xml, geojson, gpkg, shp)")
	convertCmd.Flags().Int("source-epsg", 0, "EPSG code the stored geometries are in")
	convertCmd.Flags().IntSlice("target-epsg", nil, "EPSG codes to reproject spatial outputs to")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(pruneCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting Efflux",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"datastore_type", cfg.Datastore.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = application.Shutdown(shutdownCtx)
	}()

	names, _ := cmd.Flags().GetStringSlice("format")
	sourceEPSG, _ := cmd.Flags().GetInt("source-epsg")
	targetEPSGs, _ := cmd.Flags().GetIntSlice("target-epsg")

	formats := make([]domain.Format, 0, len(names))
	for _, name := range names {
		f, err := domain.ParseFormat(name)
		if err != nil {
			return err
		}
		formats = append(formats, f)
	}

	report, err := application.ConvertService.ToFile(ctx, domain.ConvertRequest{
		ResourceID:  args[0],
		SourceEPSG:  sourceEPSG,
		TargetEPSGs: targetEPSGs,
		Formats:     formats,
	})
	if err != nil {
		return err
	}

	for _, path := range report.Paths() {
		fmt.Println(path)
	}
	for _, failure := range report.Failures {
		fmt.Fprintf(os.Stderr, "failed: %s: %s\n", failure.Spec.Key(), failure.Error)
	}
	if report.State == domain.StateFailed {
		return fmt.Errorf("conversion failed")
	}
	return nil
}

func runPrune(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx := context.Background()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = application.Shutdown(shutdownCtx)
	}()

	return application.ConvertService.Prune(ctx, args[0])
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
