package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"brokle/internal/config"
	asrDomain "brokle/internal/core/domain/asr"
	httpTransport "brokle/internal/transport/http"
	"brokle/pkg/logging"
)

// App is the top-level runtime for both cmd/server and cmd/worker.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	providers     *ProviderContainer
	httpServer    *httpTransport.Server
	mode          DeploymentMode
	shutdownOnce  sync.Once
	workerCtx     context.Context
	workerCancel  context.CancelFunc
}

// NewServer builds the App in server mode: HTTP transport only.
func NewServer(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	)

	core, err := ProvideCore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	server, err := ProvideServer(core)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return &App{
		mode:       ModeServer,
		config:     cfg,
		logger:     logger,
		httpServer: server.HTTPServer,
		providers: &ProviderContainer{
			Core:   core,
			Server: server,
			Mode:   ModeServer,
		},
	}, nil
}

// NewWorker builds the App in worker mode: the job-dispatch consumer loop only.
func NewWorker(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	)

	core, err := ProvideCore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	workers, err := ProvideWorkers(core)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize workers: %w", err)
	}

	return &App{
		mode:   ModeWorker,
		config: cfg,
		logger: logger,
		providers: &ProviderContainer{
			Core:    core,
			Workers: workers,
			Mode:    ModeWorker,
		},
	}, nil
}

// Start launches the runtime for the selected mode. It returns once the
// runtime's goroutines are spawned (server: the listener goroutine, which
// may not have bound yet; worker: consumer goroutines) and reports unexpected termination asynchronously via the
// error channels / logger, matching how net/http.Server.ListenAndServe
// is normally driven.
func (a *App) Start() error {
	a.logger.Info("Starting ASR orchestration core...", "mode", a.mode)

	switch a.mode {
	case ModeServer:
		go func() {
			if err := a.httpServer.Start(); err != nil {
				a.logger.Error("HTTP server exited", "error", err)
			}
		}()

		go func() {
			err := <-a.httpServer.ServeErr()
			if err == nil {
				return
			}
			a.logger.Error("HTTP server failed unexpectedly", "error", err)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = a.Shutdown(ctx)
			os.Exit(1)
		}()

		a.logger.Info("ASR orchestration core started successfully")

	case ModeWorker:
		a.workerCtx, a.workerCancel = context.WithCancel(context.Background())
		a.startWorkerConsumers()
		a.logger.Info("job-dispatch consumer loop started", "consumers", len(a.providers.Workers.Consumers))
	}

	return nil
}

// startWorkerConsumers spawns one ConsumeJobs polling goroutine per
// registered (provider, variant) stream. Each loop blocks inside
// ConsumeJobs's XReadGroup call, so the goroutine count is bounded by the
// number of provider streams, not by in-flight job volume.
func (a *App) startWorkerConsumers() {
	w := a.providers.Workers
	consumerName := fmt.Sprintf("worker-%d", os.Getpid())
	group := a.config.Workers.JobConsumer.ConsumerGroup

	for _, c := range w.Consumers {
		provider, variant := c.Provider, c.Variant
		go func() {
			for {
				select {
				case <-a.workerCtx.Done():
					return
				default:
				}
				err := w.JobStream.ConsumeJobs(a.workerCtx, provider, variant, group, consumerName, a.handleJob)
				if err != nil {
					a.logger.Error("job consumer loop error", "provider", provider, "variant", variant, "error", err)
					time.Sleep(a.config.Workers.JobConsumer.BlockDuration)
				}
			}
		}()
	}
}

// handleJob is the per-message callback ConsumeJobs invokes: it dispatches
// the job to its provider's capability and settles the result (§2 "Job
// dispatch & completion loop"). ConsumeJobs XAcks the message as soon as this
// returns nil, so a failed Transcribe is settled as a failed attempt rather
// than returned as an error, which would just leave the message pending for
// redelivery against the same provider.
func (a *App) handleJob(ctx context.Context, job asrDomain.JobDescriptor) error {
	core := a.providers.Core
	start := time.Now()

	capability, ok := core.Registry.Get(job.Provider, job.Variant)
	if !ok {
		return a.settleFailure(ctx, job, start, "provider_not_registered",
			fmt.Sprintf("provider %s/%s is not registered", job.Provider, job.Variant))
	}

	audioReference, ok := jobAudioReference(job)
	if !ok {
		return a.settleFailure(ctx, job, start, "missing_audio_reference", "job has neither source_url nor file_key")
	}

	segments, measuredDuration, err := capability.Transcribe(ctx, audioReference)
	if err != nil {
		return a.settleFailure(ctx, job, start, "transcription_failed", err.Error())
	}

	elapsed := time.Since(start).Milliseconds()
	_, err = core.Services.Settlement.Settle(ctx, asrDomain.SettlementInput{
		UserID:           job.UserID,
		TaskID:           job.TaskID,
		Attempt:          1,
		Provider:         job.Provider,
		Variant:          job.Variant,
		ProcessingTimeMs: &elapsed,
		MeasuredDuration: measuredDuration,
		Segments:         segments,
	})
	if err != nil {
		a.logger.Error("settlement failed", "task_id", job.TaskID.String(), "error", err)
		return err
	}

	return nil
}

// settleFailure records a failed transcription attempt so the ledger and
// the task's terminal state reflect it instead of leaving the job silently
// dropped once it has been XAcked.
func (a *App) settleFailure(ctx context.Context, job asrDomain.JobDescriptor, start time.Time, code, message string) error {
	elapsed := time.Since(start).Milliseconds()
	_, err := a.providers.Core.Services.Settlement.Settle(ctx, asrDomain.SettlementInput{
		UserID:           job.UserID,
		TaskID:           job.TaskID,
		Attempt:          1,
		Provider:         job.Provider,
		Variant:          job.Variant,
		ProcessingTimeMs: &elapsed,
		Failed:           true,
		ErrorCode:        &code,
		ErrorMessage:     &message,
	})
	if err != nil {
		a.logger.Error("settlement failed for failed job", "task_id", job.TaskID.String(), "error", err)
		return err
	}
	return nil
}

// jobAudioReference resolves the single audio reference Transcribe expects
// from whichever of the job's two mutually exclusive source fields is set.
func jobAudioReference(job asrDomain.JobDescriptor) (string, bool) {
	if job.SourceURL != nil && *job.SourceURL != "" {
		return *job.SourceURL, true
	}
	if job.FileKey != nil && *job.FileKey != "" {
		return *job.FileKey, true
	}
	return "", false
}

// Shutdown gracefully stops the runtime; safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		shutdownErr = a.doShutdown(ctx)
	})

	return shutdownErr
}

func (a *App) doShutdown(ctx context.Context) error {
	a.logger.Info("Shutting down ASR orchestration core...", "mode", a.mode)

	var wg sync.WaitGroup

	switch a.mode {
	case ModeServer:
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.httpServer != nil {
				if err := a.httpServer.Shutdown(ctx); err != nil {
					a.logger.Error("Failed to shutdown HTTP server", "error", err)
				}
			}
		}()

	case ModeWorker:
		if a.workerCancel != nil {
			a.workerCancel()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if a.providers != nil && a.providers.Core != nil {
			if err := a.providers.Core.Shutdown(); err != nil {
				a.logger.Error("Failed to shutdown providers", "error", err)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("ASR orchestration core shutdown completed")
		return nil
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout exceeded, forcing shutdown")
		return ctx.Err()
	}
}

// GetProviders returns the provider container for access to all services and dependencies.
func (a *App) GetProviders() *ProviderContainer {
	return a.providers
}

// Health returns the health status of all components using providers.
func (a *App) Health() map[string]string {
	var status map[string]string
	if a.providers != nil && a.providers.Core != nil {
		status = a.providers.Core.HealthCheck()
	} else {
		status = map[string]string{"status": "providers not initialized"}
	}
	status["mode"] = string(a.mode)
	return status
}

// GetWorkers returns the worker container for background processing.
func (a *App) GetWorkers() *WorkerContainer {
	if a.providers == nil {
		return nil
	}
	return a.providers.Workers
}

// GetLogger returns the application logger.
func (a *App) GetLogger() *slog.Logger {
	return a.logger
}

// GetConfig returns the application configuration.
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetDatabases returns the database connections.
func (a *App) GetDatabases() *DatabaseContainer {
	if a.providers == nil || a.providers.Core == nil {
		return nil
	}
	return a.providers.Core.Databases
}
