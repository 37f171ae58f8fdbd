// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openterra/efflux/internal/adapters/datastore"
	httpAdapter "github.com/openterra/efflux/internal/adapters/http"
	"github.com/openterra/efflux/internal/adapters/metrics"
	"github.com/openterra/efflux/internal/adapters/publish"
	"github.com/openterra/efflux/internal/adapters/scratch"
	"github.com/openterra/efflux/internal/adapters/spatialite"
	tlsAdapter "github.com/openterra/efflux/internal/adapters/tls"
	"github.com/openterra/efflux/internal/adapters/watcher"
	"github.com/openterra/efflux/internal/adapters/writers"
	"github.com/openterra/efflux/internal/application"
	"github.com/openterra/efflux/internal/config"
	"github.com/openterra/efflux/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	Workspace      *scratch.Scratch
	Source         output.RowSource
	Transformer    output.GeometryTransformer
	Publisher      output.ArtifactPublisher
	Registry       *application.ReportRegistry
	ConvertService *application.ConvertService
	HealthService  *application.HealthService
	Retention      *application.RetentionService
	HTTPServer     *httpAdapter.Server
	TLSServer      *tlsAdapter.Server
	Watcher        *watcher.Watcher
	Metrics        *metrics.Collector

	closers []func() error
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("efflux")
		metricsCollector = app.Metrics
	}

	// Initialize the scratch workspace
	workspace, err := scratch.New(cfg.Convert.ScratchRoot)
	if err != nil {
		return nil, fmt.Errorf("initializing scratch root: %w", err)
	}
	app.Workspace = workspace

	// Initialize the datastore row source
	source, err := app.initSource(ctx, cfg.Datastore)
	if err != nil {
		return nil, fmt.Errorf("initializing datastore: %w", err)
	}
	app.Source = source

	// Initialize the spatial engine
	if cfg.Convert.DisableSpatial {
		logger.Warn("spatial engine disabled, reprojection requests will be refused")
		app.Transformer = &output.UnavailableTransformer{}
	} else {
		engine, err := spatialite.NewEngine(ctx)
		if err != nil {
			return nil, fmt.Errorf("initializing spatial engine: %w", err)
		}
		app.Transformer = engine
		app.closers = append(app.closers, engine.Close)
	}

	// Initialize the artifact publisher
	publisher, err := initPublisher(ctx, cfg.Publish)
	if err != nil {
		return nil, fmt.Errorf("initializing publisher: %w", err)
	}
	app.Publisher = publisher

	// Initialize services
	app.Registry = application.NewReportRegistry(cfg.Convert.ReportCapacity)

	dump := application.NewDumpStage(source, metricsCollector, logger, cfg.Datastore.PageSize)

	app.ConvertService = application.NewConvertService(
		dump,
		workspace,
		app.Transformer,
		formatWriters(),
		publisher,
		app.Registry,
		metricsCollector,
		logger,
		application.ConvertServiceConfig{
			ChunkSize: cfg.Convert.ChunkSize,
		},
	)

	app.HealthService = application.NewHealthService(workspace, app.Registry)

	app.Retention = application.NewRetentionService(
		workspace,
		metricsCollector,
		cfg.Retention.SweepInterval,
		cfg.Retention.MaxAge,
		logger,
	)

	// Initialize HTTP server
	var opts []httpAdapter.ServerOption
	if app.Metrics != nil {
		opts = append(opts, httpAdapter.WithMetrics(
			app.Metrics.Middleware,
			metrics.Handler(),
			cfg.Metrics.Path,
		))
	}
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.ConvertService,
		app.Registry,
		app.HealthService,
		app.Retention,
		logger,
		opts...,
	)

	// Initialize TLS server if enabled
	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Enabled:  cfg.TLS.Enabled,
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
			},
			app.HTTPServer.Router(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// Initialize the scratch watcher so usage gauges track activity
	if cfg.Convert.WatchScratchDir {
		w, err := watcher.New(
			watcher.Config{Root: workspace.Root()},
			app.handleScratchEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize scratch watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start starts all application components.
func (a *App) Start(ctx context.Context) error {
	// Seed the scratch usage gauges
	a.refreshScratchUsage()

	// Start the retention sweeper
	a.Retention.Start(ctx)

	// Start the scratch watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start scratch watcher", "error", err)
		}
	}

	// Start server
	if a.Config.TLS.Enabled && a.TLSServer != nil {
		return a.TLSServer.ListenAndServe(a.Config.Server.Address())
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	// Stop the retention sweeper
	a.Retention.Stop()

	// Shutdown the serving path that was started
	if a.Config.TLS.Enabled && a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil {
			a.Logger.Error("TLS server shutdown error", "error", err)
		}
	} else if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	// Release the spatial engine and datastore connections
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.Logger.Error("close error", "error", err)
		}
	}

	return nil
}

// handleScratchEvent refreshes the scratch usage gauges after the
// debounced file event settles.
func (a *App) handleScratchEvent(_ context.Context, event watcher.Event) error {
	a.Logger.Debug("scratch event", "path", event.Path, "operation", event.Operation.String())
	a.refreshScratchUsage()
	return nil
}

// refreshScratchUsage recomputes the scratch gauges from disk.
func (a *App) refreshScratchUsage() {
	if a.Metrics == nil {
		return
	}
	files, bytes, err := a.Workspace.Usage()
	if err != nil {
		a.Logger.Warn("scratch usage scan failed", "error", err)
		return
	}
	a.Metrics.SetScratchUsage(files, bytes)
}

// initSource initializes the configured datastore row source.
func (a *App) initSource(ctx context.Context, cfg config.DatastoreConfig) (output.RowSource, error) {
	switch cfg.Type {
	case "http":
		return datastore.NewHTTPSource(datastore.HTTPConfig{
			BaseURL: cfg.HTTP.BaseURL,
			APIKey:  cfg.HTTP.APIKey,
			Timeout: cfg.HTTP.Timeout,
		}), nil

	case "postgres":
		source, err := datastore.NewPostgresSource(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			source.Close()
			return nil
		})
		return source, nil

	default:
		return nil, fmt.Errorf("unknown datastore type: %s", cfg.Type)
	}
}

// initPublisher initializes the configured artifact publisher.
func initPublisher(ctx context.Context, cfg config.PublishConfig) (output.ArtifactPublisher, error) {
	switch cfg.Type {
	case "", "none":
		return &output.NoOpPublisher{}, nil

	case "s3":
		return publish.NewS3Publisher(ctx, publish.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return publish.NewAzurePublisher(publish.AzureConfig{
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Container:        cfg.Azure.Container,
			Prefix:           cfg.Azure.Prefix,
		})

	default:
		return nil, fmt.Errorf("unknown publish type: %s", cfg.Type)
	}
}

// formatWriters returns one writer per supported output format.
func formatWriters() []output.FormatWriter {
	return []output.FormatWriter{
		writers.NewCSVWriter(),
		writers.NewJSONWriter(),
		writers.NewXMLWriter(),
		writers.NewGeoJSONWriter(),
		writers.NewGPKGWriter(),
		writers.NewShapefileWriter(),
	}
}
