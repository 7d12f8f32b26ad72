package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"PageHarvester/internal/actions"
	"PageHarvester/internal/api"
	"PageHarvester/internal/config"
	"PageHarvester/internal/domain"
	"PageHarvester/internal/extractor"
	"PageHarvester/internal/infrastructure/browser"
	"PageHarvester/internal/infrastructure/llm"
	"PageHarvester/internal/infrastructure/metrics"
	"PageHarvester/internal/infrastructure/ocr"
	"PageHarvester/internal/infrastructure/parser"
	"PageHarvester/internal/infrastructure/report"
	"PageHarvester/internal/infrastructure/scheduler"
	"PageHarvester/internal/infrastructure/screen"
	"PageHarvester/internal/infrastructure/storage"
	"PageHarvester/internal/infrastructure/telegram"
	"PageHarvester/internal/jobspec"
	"PageHarvester/internal/logging"
	"PageHarvester/internal/ports"
	"PageHarvester/internal/retry"
	"PageHarvester/internal/usecase"
	"PageHarvester/pkg/logger"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.SQLiteStore
	session   *browser.Session
	dom       *parser.DOMStrategy
	executor  *actions.Executor
	notifier  *telegram.Notifier
	metrics   *metrics.Metrics
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
}

// Options picks which collaborators New connects.
type Options struct {
	// Browser connects to Chrome over CDP. Import does not need it.
	Browser bool
}

// New opens the database, connects the browser and builds the pipeline.
// A browser that cannot be reached is logged; OCR and DOM jobs then fail
// with a configuration error until the process is restarted.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	store, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.store = store

	registry := extractor.NewRegistry()
	registry.Register(report.NewCSVStrategy(cfg.Downloads, baseLogger.With("component", "extractor.csv")))

	var scr ports.Screen
	if opts.Browser {
		session, err := browser.Connect(ctx, cfg.Browser, baseLogger.With("component", "browser"))
		if err != nil {
			baseLogger.Warn("browser unavailable, OCR and DOM jobs are disabled", "error", err)
		} else {
			a.session = session
			scr = session
			tess := ocr.NewTesseract(cfg.OCR, nil, baseLogger.With("component", "ocr"))
			ocrLogger := baseLogger.With("component", "extractor.ocr")
			registry.Register(screen.NewSingleStrategy(session, tess, cfg.Extraction, ocrLogger))
			registry.Register(screen.NewScrollStrategy(session, tess, cfg.Extraction, ocrLogger))
			registry.Register(screen.NewPaginationStrategy(session, tess, cfg.Extraction, ocrLogger))
			a.dom = parser.NewDOMStrategy(session, baseLogger.With("component", "extractor.dom"))
			registry.Register(a.dom)
			a.executor = actions.NewExecutor(session, tess, baseLogger.With("component", "actions"))
		}
	}

	a.notifier = telegram.NewNotifier(cfg.Notifications.Telegram)
	a.metrics = metrics.New()

	focusRetry := retry.DefaultConfig()
	if cfg.Scheduler.FocusAttempts > 0 {
		focusRetry.MaxAttempts = cfg.Scheduler.FocusAttempts
	}
	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Store:       store,
		Registry:    registry,
		Actions:     a.executor,
		Screen:      scr,
		Notifier:    a.notifier,
		Metrics:     a.metrics,
		Logger:      baseLogger.With("component", "pipeline"),
		FocusRetry:  focusRetry,
		SendTimeout: cfg.Scheduler.SendTimeout,
	})

	cron := scheduler.NewCronScheduler(baseLogger.With("component", "cron"))
	a.scheduler = usecase.NewScheduler(cron, store, a.pipeline, baseLogger.With("component", "scheduler"))
	return a, nil
}

// Close releases the browser connection and the database.
func (a *Application) Close() error {
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// Serve runs the scheduler and the dashboard API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	deps := api.Deps{
		Store:      a.store,
		Pipeline:   a.pipeline,
		Scheduler:  a.scheduler,
		Notifier:   a.notifier,
		Suggester:  a.suggester,
		Metrics:    a.metrics.Handler(),
		APIKey:     a.cfg.Server.APIKey,
		Logger:     a.logger,
		RunContext: ctx,
	}
	if a.executor != nil {
		deps.Actions = a.executor
	}
	if a.dom != nil {
		deps.Prober = a.dom
	}
	srv := api.NewServer(a.cfg.Server.Addr, api.NewRouter(deps), logger.New(a.logger, "http", slog.LevelWarn))

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("dashboard listening", "addr", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		a.logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown", "error", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Error("scheduler shutdown", "error", err)
	}
	return serveErr
}

// RunOnce executes one job synchronously and returns its log entry.
func (a *Application) RunOnce(ctx context.Context, jobID int64) (domain.ExecutionLog, error) {
	return a.pipeline.RunJob(ctx, jobID, nil)
}

// Import creates or updates the jobs defined in a YAML file.
func (a *Application) Import(ctx context.Context, path string) (jobspec.ImportResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return jobspec.ImportResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	jobs, err := jobspec.ParseYAML(raw)
	if err != nil {
		return jobspec.ImportResult{}, err
	}
	return jobspec.NewImporter(a.store, a.logger.With("component", "import")).Import(ctx, jobs)
}

func (a *Application) suggester(apiKey string) (ports.SelectorSuggester, error) {
	cfg := a.cfg.Anthropic
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	return llm.NewSelectorSuggester(cfg, a.logger.With("component", "llm"))
}
