// Package app assembles the zoomchat components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mendoc/zoomchat/internal/config"
	"github.com/mendoc/zoomchat/internal/embedder"
	"github.com/mendoc/zoomchat/internal/extraction"
	"github.com/mendoc/zoomchat/internal/llm"
	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/internal/notify"
	"github.com/mendoc/zoomchat/internal/pdf"
	"github.com/mendoc/zoomchat/internal/retry"
	"github.com/mendoc/zoomchat/internal/searcher"
	"github.com/mendoc/zoomchat/internal/storage"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config       config.Config
	Logger       *slog.Logger
	Store        storage.Storage
	Embedder     *embedder.Generator
	Searcher     *searcher.Searcher
	Orchestrator *extraction.Orchestrator

	events notify.Events
}

// OpenStorage opens the backend selected by cfg.Storage.Driver and applies migrations
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		s, err := storage.NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := storage.NewPostgresStorage(ctx, cfg.DatabaseURL, storage.PostgresOptions{MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// New builds every component. Any failure closes what was already opened.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = logging.New(cfg.Log.Level, cfg.Log.Format, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, events: notify.NopEvents{}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store, err = OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.Embedder, err = embedder.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	model, err := llm.NewModel(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}

	searchOpts := []searcher.Option{
		searcher.WithConfig(searcherConfig(cfg)),
		searcher.WithLogger(logger),
	}
	if cfg.Relevance.Enabled {
		filter := searcher.NewRelevanceFilter(
			llm.NewRelevanceClassifier(model, logger),
			searcher.RelevanceConfig{
				Enabled:       true,
				MinResults:    cfg.Relevance.MinResults,
				ScoreOverride: cfg.Relevance.ScoreOverride,
				CallTimeout:   cfg.Relevance.CallTimeout,
			},
			logger,
		)
		searchOpts = append(searchOpts, searcher.WithRelevanceFilter(filter))
	}
	a.Searcher = searcher.NewSearcher(a.Store, a.Embedder, searchOpts...)

	if cfg.Notify.NATS.URL != "" {
		events, err := notify.NewNATSEvents(ctx, cfg.Notify.NATS.URL, cfg.Notify.NATS.Stream, cfg.Notify.NATS.Subject, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize events: %w", err)
		}
		a.events = events
	}

	reporter, err := buildReporter(cfg.Notify.Telegram, logger)
	if err != nil {
		return nil, err
	}

	splitter := pdf.NewSplitter(
		pdf.WithTimeout(cfg.PDF.DownloadTimeout),
		pdf.WithMaxBytes(cfg.PDF.MaxBytes),
		pdf.WithLogger(logger),
	)

	pool := extraction.NewPool(
		llm.NewPageExtractor(model, logger),
		extraction.WithPolicy(retry.NewSchedulePolicy(
			cfg.Extraction.MaxAttempts,
			cfg.Extraction.OverloadSchedule,
			cfg.Extraction.RetryDelay,
			retry.IsOverloaded,
		)),
		extraction.WithRateLimitDelay(cfg.Extraction.RateLimitDelay),
		extraction.WithCallTimeout(cfg.Extraction.CallTimeout),
		extraction.WithPoolLogger(logger),
	)

	a.Orchestrator = extraction.NewOrchestrator(a.Store, splitter, pool, a.Embedder,
		extraction.WithPages(cfg.PDF.Pages),
		extraction.WithConcurrency(cfg.Extraction.Concurrency),
		extraction.WithReporter(reporter),
		extraction.WithEvents(a.events),
		extraction.WithCacheInvalidator(a.Searcher),
		extraction.WithLogger(logger),
	)

	logger.Info("application initialized",
		"storage", a.Store.Backend(),
		"embedding_provider", a.Embedder.Provider(),
		"llm_provider", cfg.LLM.Provider,
		"relevance_filter", cfg.Relevance.Enabled)
	return a, nil
}

// buildReporter always logs, and also posts to Telegram when a chat is configured
func buildReporter(cfg config.TelegramConfig, logger *slog.Logger) (notify.Reporter, error) {
	reporters := notify.MultiReporter{notify.NewLogReporter(logger)}
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return reporters, nil
	}
	tg, err := notify.NewTelegramReporter(cfg.BotToken, cfg.ChatID, cfg.Timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram reporter: %w", err)
	}
	return append(reporters, tg), nil
}

func searcherConfig(cfg config.Config) searcher.Config {
	return searcher.Config{
		Limit:          cfg.Search.Limit,
		MinScore:       cfg.Search.MinScore,
		VectorWeight:   cfg.Search.VectorWeight,
		FTSWeight:      cfg.Search.FTSWeight,
		CandidateLimit: cfg.Search.CandidateLimit,
		MaxQueryLength: cfg.Search.MaxQueryLength,
		CacheTTL:       cfg.Search.CacheTTL,
		CacheSize:      searcher.DefaultCacheSize,
	}
}

// Close releases events, embedder and storage
func (a *App) Close() error {
	var errs []error
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	if a.Embedder != nil {
		errs = append(errs, a.Embedder.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
