package app

import (
	"fmt"
	"log/slog"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"brokle/internal/config"
	asrDomain "brokle/internal/core/domain/asr"
	asrService "brokle/internal/core/services/asr"
	"brokle/internal/infrastructure/database"
	"brokle/internal/infrastructure/providers/videoprobe"
	"brokle/internal/infrastructure/providers/whisper"
	asrRepo "brokle/internal/infrastructure/repository/asr"
	"brokle/internal/infrastructure/streams"
	"brokle/internal/transport/http"
	"brokle/internal/transport/http/handlers"
	asrHandler "brokle/internal/transport/http/handlers/asr"
	"brokle/internal/transport/http/handlers/health"
)

// DeploymentMode selects which runtime loop App.Start drives.
type DeploymentMode string

const (
	ModeServer DeploymentMode = "server"
	ModeWorker DeploymentMode = "worker"
)

// CoreContainer holds everything shared between server and worker mode:
// config, loggers, database connections and the wired ASR service bundle.
type CoreContainer struct {
	Config       *config.Config
	Logger       *slog.Logger
	LogrusLogger *logrus.Logger
	Databases    *DatabaseContainer
	Repos        asrService.Repositories
	Services     *asrService.Services
	Registry     asrDomain.ProviderRegistry
	JobStream    *streams.JobStreamProducer
}

// DatabaseContainer bundles the two live connections the ASR core needs.
type DatabaseContainer struct {
	Postgres *database.PostgresDB
	Redis    *database.RedisDB
}

// ServerContainer holds the HTTP server. gRPC and a second transport are not
// part of this core; task creation, settlement and reporting are synchronous
// HTTP operations, so one listener covers the whole surface.
type ServerContainer struct {
	HTTPServer *http.Server
}

// WorkerContainer holds the Redis Streams job-dispatch consumer loop run by
// cmd/worker.
type WorkerContainer struct {
	JobStream    *streams.JobStreamProducer
	Consumers    []WorkerConsumer
	LogrusLogger *logrus.Logger
}

// WorkerConsumer pins one (provider, variant) job stream to the scheduler's
// registered providers so the worker loop knows which streams to drain.
type WorkerConsumer struct {
	Provider string
	Variant  string
}

// ProviderContainer is the top-level DI root. Exactly one of Server/Workers
// is populated, matching Mode.
type ProviderContainer struct {
	Core    *CoreContainer
	Server  *ServerContainer
	Workers *WorkerContainer
	Mode    DeploymentMode
}

// ProvideCore wires the database connections and the ASR service bundle
// shared by both deployment modes.
func ProvideCore(cfg *config.Config, logger *slog.Logger) (*CoreContainer, error) {
	logrusLogger := newLogrusLogger(cfg)

	postgres, err := database.NewPostgresDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	redisDB, err := database.NewRedisDB(cfg, logrusLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(postgres.DB); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate: %w", err)
		}
	}

	repos := asrRepo.NewRepositories(postgres.DB)
	transactor := database.NewTransactor(postgres.DB)
	videoProbe := videoprobe.NewHTTPProbe()
	jobStream := streams.NewJobStreamProducer(redisDB, logrusLogger)
	healthChecker := asrService.NewStaticHealthChecker()
	registry := provideProviderRegistry(cfg, logrusLogger)

	services := asrService.NewServices(
		repos,
		transactor,
		registry,
		healthChecker,
		videoProbe,
		jobStream,
		redisDB,
		logger,
		logrusLogger,
	)

	return &CoreContainer{
		Config:       cfg,
		Logger:       logger,
		LogrusLogger: logrusLogger,
		Databases: &DatabaseContainer{
			Postgres: postgres,
			Redis:    redisDB,
		},
		Repos:     repos,
		Services:  services,
		Registry:  registry,
		JobStream: jobStream,
	}, nil
}

// provideProviderRegistry wires the ASR provider capabilities available to
// the scheduler. Whisper is registered whenever an API key is configured;
// an empty registry is valid, it just leaves every scheduling attempt
// failing closed with ErrAllProvidersExhausted (§4.D).
func provideProviderRegistry(cfg *config.Config, logger *logrus.Logger) asrDomain.ProviderRegistry {
	var entries []asrService.ProviderEntry

	if cfg.Providers.Whisper.APIKey != "" {
		whisperProvider, err := whisper.NewProvider(whisper.Config{
			APIKey:  cfg.Providers.Whisper.APIKey,
			BaseURL: cfg.Providers.Whisper.BaseURL,
			Timeout: cfg.Providers.Whisper.Timeout,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("whisper provider not registered")
		} else {
			entries = append(entries, asrService.ProviderEntry{
				Provider:   "whisper",
				Variant:    "file",
				Capability: whisperProvider,
			})
		}
	}

	return asrService.NewProviderRegistry(entries...)
}

// ProvideServer builds the HTTP transport for server mode.
func ProvideServer(core *CoreContainer) (*ServerContainer, error) {
	healthHandler := health.NewHandler(core.Config, core.Databases.Postgres, core.Databases.Redis, core.LogrusLogger)
	asrH := asrHandler.NewHandler(
		core.Services.Pricing,
		core.Services.Quota,
		core.Services.Precheck,
		core.Services.Settlement,
		core.Services.Statement,
		core.LogrusLogger,
	)

	handlerBundle := handlers.NewHandlers(healthHandler, asrH, core.LogrusLogger)
	httpServer := http.NewServer(core.Config, core.LogrusLogger, handlerBundle)

	return &ServerContainer{HTTPServer: httpServer}, nil
}

// ProvideWorkers builds the worker-mode container: one consumer per
// registered (provider, variant) the scheduler can dispatch to.
func ProvideWorkers(core *CoreContainer) (*WorkerContainer, error) {
	var consumers []WorkerConsumer
	if cfg := core.Config; cfg.Providers.Whisper.APIKey != "" {
		consumers = append(consumers, WorkerConsumer{Provider: "whisper", Variant: "file"})
	}

	return &WorkerContainer{
		JobStream:    core.JobStream,
		Consumers:    consumers,
		LogrusLogger: core.LogrusLogger,
	}, nil
}

// Shutdown releases every live connection in the core container.
func (c *CoreContainer) Shutdown() error {
	var firstErr error
	if c.Databases != nil {
		if c.Databases.Postgres != nil {
			if err := c.Databases.Postgres.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if c.Databases.Redis != nil {
			if err := c.Databases.Redis.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// HealthCheck reports the status of each live dependency.
func (c *CoreContainer) HealthCheck() map[string]string {
	status := map[string]string{
		"postgres": "unknown",
		"redis":    "unknown",
	}
	if c.Databases != nil {
		if c.Databases.Postgres != nil {
			status["postgres"] = "connected"
		}
		if c.Databases.Redis != nil {
			status["redis"] = "connected"
		}
	}
	return status
}

// autoMigrate creates/updates the five ASR tables. Used in place of a
// migration-runner CLI (see DESIGN.md) when database.auto_migrate is set.
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&asrDomain.PricingConfig{},
		&asrDomain.UsagePeriod{},
		&asrDomain.UserQuota{},
		&asrDomain.UsageLedgerEntry{},
		&asrDomain.Task{},
	)
}

// newLogrusLogger builds the logrus logger used by the gateway-routing-style
// components (scheduler, job stream, HTTP transport); pkg/logging only
// exposes slog constructors, so these call sites construct logrus directly,
// matching how the routing side of this codebase has always done it.
func newLogrusLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
