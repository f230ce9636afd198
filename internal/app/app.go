package app

import (
	"context"
	"fmt"
	"log/slog"

	"ResearchRadar/internal/config"
	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/extract"
	"ResearchRadar/internal/infrastructure/llm"
	"ResearchRadar/internal/infrastructure/scheduler"
	"ResearchRadar/internal/infrastructure/source"
	"ResearchRadar/internal/infrastructure/storage"
	"ResearchRadar/internal/infrastructure/telegram"
	"ResearchRadar/internal/logging"
	"ResearchRadar/internal/normalize"
	"ResearchRadar/internal/ports"
	"ResearchRadar/internal/relevance"
	sourcereg "ResearchRadar/internal/source"
	"ResearchRadar/internal/usecase"
)

// Application wires configuration to use cases and owns the store
// lifecycle: opened here, closed when the application shuts down.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.Store
	pipeline *usecase.Pipeline
	telegram *telegram.Sink
}

// New builds a runnable application instance. The store is opened and
// migrated eagerly because without it no run can guarantee dedup
// correctness.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	if err := validateLLM(cfg.LLM); err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	sources, limits, err := buildSources(cfg, baseLogger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	model := llm.NewClient(cfg.LLM, cfg.Retry.CallTimeout)

	filter := relevance.NewFilter(model, relevance.Options{
		Keywords:    cfg.Relevance.Keywords,
		Threshold:   cfg.Relevance.Threshold,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		CallTimeout: cfg.Retry.CallTimeout,
	}, baseLogger.With("component", "relevance"))

	extractor := extract.New(model, extract.Options{
		SummaryMinWords: cfg.Extract.SummaryMinWords,
		SummaryMaxWords: cfg.Extract.SummaryMaxWords,
		MaxKeywords:     cfg.Extract.MaxKeywords,
		CallTimeout:     cfg.Retry.CallTimeout,
	}, baseLogger.With("component", "extract"))

	app := &Application{cfg: cfg, logger: baseLogger, store: store}

	sinks, err := app.buildSinks()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	app.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Sources:     sources,
		Limits:      limits,
		Normalizer:  normalize.New(),
		Dedup:       store,
		Cursors:     store,
		Classifier:  filter,
		Verdicts:    store,
		Extractor:   extractor,
		Sinks:       sinks,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		CallTimeout: cfg.Retry.CallTimeout,
		Logger:      baseLogger.With("component", "pipeline"),
	})

	return app, nil
}

// RunOnce executes a single pipeline run. When the run aborts and a
// Telegram sink is configured, the abort is forwarded there best-effort.
func (a *Application) RunOnce(ctx context.Context) (domain.RunReport, error) {
	report, err := a.pipeline.Run(ctx)
	if err != nil && a.telegram != nil && ctx.Err() == nil {
		if notifyErr := a.notifyAbort(ctx, report); notifyErr != nil {
			a.logger.Warn("abort notification failed", "error", notifyErr)
		}
	}
	return report, err
}

// RunScheduled blocks, executing the pipeline on the configured cron
// schedule until ctx is cancelled.
func (a *Application) RunScheduled(ctx context.Context) error {
	driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location())
	sched := usecase.NewScheduler(driver, a.pipeline, a.logger.With("component", "scheduler"))

	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return sched.Stop(context.Background())
}

// TestTelegram verifies the bot token and chat by sending a probe message.
func (a *Application) TestTelegram(ctx context.Context) error {
	if a.telegram == nil {
		return fmt.Errorf("telegram sink is not configured")
	}
	return a.telegram.Probe(ctx)
}

// Close releases the store.
func (a *Application) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// validateLLM rejects a startup with missing model credentials; without
// them every classification silently degrades.
func validateLLM(cfg config.LLMConfig) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("llm api key is required (set LLM_API_KEY)")
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("llm endpoint is required")
	}
	if cfg.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	return nil
}

func (a *Application) buildSinks() ([]ports.Notifiable, error) {
	var sinks []ports.Notifiable
	for _, name := range a.cfg.Sinks {
		switch name {
		case storage.LocalSinkName:
			sinks = append(sinks, storage.NewLocalSink(a.store))
		case telegram.SinkName:
			sink, err := telegram.NewSink(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID,
				a.logger.With("component", "telegram"))
			if err != nil {
				return nil, err
			}
			a.telegram = sink
			sinks = append(sinks, sink)
		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no sinks configured")
	}
	return sinks, nil
}

func (a *Application) notifyAbort(ctx context.Context, report domain.RunReport) error {
	item := domain.CanonicalItem{
		Identity:   "run-abort-" + report.RunID,
		SourceName: "pipeline",
		Title:      "Pipeline run aborted",
	}
	insight := domain.ExtractedInsight{
		Identity: item.Identity,
		Summary:  fmt.Sprintf("Run %s aborted after %.1fs: %s", report.RunID, report.Elapsed().Seconds(), report.Err),
	}
	return a.telegram.Deliver(ctx, item, insight)
}

func buildSources(cfg config.Config, logger *slog.Logger) ([]ports.Fetchable, map[string]int, error) {
	registry := sourcereg.NewRegistry()
	registry.Register("arxiv", func(sc config.SourceConfig) (ports.Fetchable, error) {
		return source.NewArxivSource(sc, nil, logger.With("component", "source.arxiv")), nil
	})
	registry.Register("news", func(sc config.SourceConfig) (ports.Fetchable, error) {
		return source.NewNewsSource(sc, nil, logger.With("component", "source.news")), nil
	})
	registry.Register("blog", func(sc config.SourceConfig) (ports.Fetchable, error) {
		return source.NewBlogSource(sc, nil, logger.With("component", "source.blog")), nil
	})
	registry.Register("books", func(sc config.SourceConfig) (ports.Fetchable, error) {
		return source.NewBookSource(sc, nil, logger.With("component", "source.books")), nil
	})

	sources, err := registry.BuildAll(cfg.Sources)
	if err != nil {
		return nil, nil, err
	}

	limits := make(map[string]int, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		limits[sc.Name] = sc.FetchLimit
	}
	return sources, limits, nil
}
