package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"askdocs/features/ask"
	"askdocs/features/document"
	"askdocs/features/job"
	"askdocs/features/mcp"
	"askdocs/features/stats"
	"askdocs/internal/config"
	"askdocs/internal/embedding"
	"askdocs/internal/faq"
	"askdocs/internal/ingest"
	"askdocs/internal/middleware"
	"askdocs/internal/retrieval"
	"askdocs/internal/settings"
	"askdocs/internal/text"
	"askdocs/internal/vector"
	"askdocs/internal/worker"
)

type App struct {
	Handler   http.Handler
	Retrieval *retrieval.Service
	Ask       *ask.Service
	Documents *document.Service
	Consumer  *worker.IngestConsumer
	Loader    *ingest.Loader
	Fetcher   *ingest.Fetcher

	cfg      *config.Config
	logger   *slog.Logger
	inline   *worker.InlinePublisher
	queryLog *retrieval.QueryLogger
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	normalizer, err := newNormalizer(cfg.BoilerplatePath)
	if err != nil {
		return nil, err
	}
	segmenter, err := text.NewSegmenter(text.SegmenterConfig{
		MaxChunkTokens: cfg.MaxChunkTokens,
		OverlapTokens:  cfg.OverlapTokens,
		Boundary:       text.Boundary(cfg.ChunkBoundary),
	})
	if err != nil {
		return nil, err
	}

	gateway := embedding.NewGateway(deps.Provider)
	index := vector.NewIndex(deps.Backend, gateway.Model())

	catalog, err := openCatalog(cfg, deps)
	if err != nil {
		return nil, err
	}

	// Feature: Settings
	var settingsRepo settings.Repository
	if deps.DB != nil {
		settingsRepo = settings.NewPostgresRepo(deps.DB)
	} else {
		settingsRepo = settings.NewMemoryRepo(settings.Settings{
			TopK:         cfg.TopK,
			MinScore:     cfg.MinScore,
			FAQThreshold: cfg.FAQThreshold,
		})
	}
	settingsService := settings.NewService(settingsRepo)

	var matcher *faq.Matcher
	if cfg.FAQPath != "" {
		entries, err := faq.LoadFile(cfg.FAQPath)
		if err != nil {
			return nil, err
		}
		matcher, err = faq.NewMatcher(ctx, entries, gateway, normalizer, faq.Options{
			Threshold: cfg.FAQThreshold,
			MinScore:  cfg.MinScore,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("faq entries loaded", "count", matcher.Len(), "path", cfg.FAQPath)
	}

	queryLog := retrieval.NewQueryLogger(os.Stdout)
	if cfg.QueryLogPath != "" {
		fileLog, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
		if err != nil {
			logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		} else {
			queryLog = fileLog
		}
	}

	retrievalService, err := retrieval.NewService(retrieval.Deps{
		Normalizer: normalizer,
		Segmenter:  segmenter,
		Gateway:    gateway,
		Index:      index,
		Catalog:    catalog,
		FAQ:        matcher,
		Settings:   settingsService,
		Logger:     queryLog,
	}, retrieval.Options{
		TopK:             cfg.TopK,
		MinScore:         cfg.MinScore,
		FAQThreshold:     cfg.FAQThreshold,
		QueryTimeout:     cfg.QueryTimeout,
		EmbedBatchSize:   cfg.EmbedBatchSize,
		EmbedConcurrency: cfg.EmbedConcurrency,
		MaxRetries:       cfg.EmbedMaxRetries,
		RetryInterval:    cfg.EmbedRetryDelay,
	})
	if err != nil {
		return nil, err
	}

	// Feature: Job
	var jobRepo job.Repository
	if deps.DB != nil {
		jobRepo = job.NewPostgresRepo(deps.DB)
	} else {
		jobRepo = job.NewMemoryRepo()
	}

	// Worker
	maxBytes := cfg.MaxUploadSizeMB << 20
	loader := ingest.NewLoader(maxBytes)
	fetcher := ingest.NewFetcher(cfg.FetchTimeout, maxBytes)
	consumer := worker.NewIngestConsumer(retrievalService, fetcher, loader,
		job.NewService(jobRepo, nil, logger), worker.WithTimeout(cfg.WorkerTimeout))

	a := &App{
		Retrieval: retrievalService,
		Consumer:  consumer,
		Loader:    loader,
		Fetcher:   fetcher,
		cfg:       cfg,
		logger:    logger,
		queryLog:  queryLog,
	}

	// Queued ingestion goes through NSQ when configured; otherwise documents
	// are ingested in the request and retries run in the background.
	var retryPub job.EventPublisher
	var docPub document.TaskPublisher
	if deps.Producer != nil {
		retryPub, docPub = deps.Producer, deps.Producer
	} else {
		a.inline = worker.NewInlinePublisher(consumer)
		retryPub = a.inline
	}

	// Feature: Document
	a.Documents = document.NewService(retrievalService, consumer, docPub, maxBytes)
	documentHandler := document.NewHandler(a.Documents)

	jobService := job.NewService(jobRepo, retryPub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Ask
	if deps.Generator != nil {
		a.Ask = ask.NewService(retrievalService, deps.Generator)
	} else {
		a.Ask = ask.NewService(retrievalService, nil)
	}
	askHandler := ask.NewHandler(a.Ask)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(a.Ask, a.Documents)

	settingsHandler := settings.NewHandler(settingsService)
	statsHandler := stats.NewHandler(retrievalService, jobRepo)

	// Routes
	mux := http.NewServeMux()

	mux.HandleFunc("POST /documents", documentHandler.Create)
	mux.HandleFunc("POST /documents/upload", documentHandler.Upload)
	mux.HandleFunc("GET /documents", documentHandler.List)
	mux.HandleFunc("GET /documents/{id}", documentHandler.Get)
	mux.HandleFunc("DELETE /documents/{id}", documentHandler.Delete)

	mux.HandleFunc("POST /search", askHandler.Search)
	mux.HandleFunc("POST /ask", askHandler.Ask)

	mux.HandleFunc("GET /settings", settingsHandler.GetSettings)
	mux.HandleFunc("PUT /settings", settingsHandler.UpdateSettings)

	mux.HandleFunc("GET /jobs/failed", jobHandler.List)
	mux.HandleFunc("POST /jobs/{id}/retry", jobHandler.Retry)

	mux.HandleFunc("GET /stats", statsHandler.GetStats)

	mux.Handle("POST /mcp", mcpHandler)
	mux.HandleFunc("GET /mcp/sse", mcpHandler.HandleSSE)
	mux.HandleFunc("POST /mcp/messages", mcpHandler.HandleMessage)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = middleware.Recover(middleware.CorrelationID(middleware.CORS(mux)))
	return a, nil
}

// Run serves HTTP and, with NSQ configured, consumes ingestion tasks until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.UsesNSQ() {
		consumer, err := a.startConsumer()
		if err != nil {
			return err
		}
		defer func() {
			consumer.Stop()
			<-consumer.StopChan
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
		}
	}()

	a.logger.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close waits for background retries and flushes the query log.
func (a *App) Close() error {
	if a.inline != nil {
		a.inline.Wait()
	}
	return a.queryLog.Close()
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = max(1, a.cfg.EmbedConcurrency)
	nsqCfg.MsgTimeout = a.cfg.WorkerTimeout

	consumer, err := nsq.NewConsumer(config.TopicIngestDocument, config.ChannelIngestWorker, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddHandler(a.Consumer)
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("failed to connect to NSQLookupd: %w", err)
	}
	a.logger.Info("NSQ ingest consumer connected", "topic", config.TopicIngestDocument)
	return consumer, nil
}

func newNormalizer(boilerplatePath string) (*text.Normalizer, error) {
	patterns := text.DefaultBoilerplate()
	if boilerplatePath != "" {
		raw, err := os.ReadFile(boilerplatePath) // #nosec G304 -- path is from application config
		if err != nil {
			return nil, fmt.Errorf("read boilerplate patterns: %w", err)
		}
		extra, err := text.ParsePatterns(string(raw))
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, extra...)
	}
	return text.NewNormalizer(patterns...), nil
}

func openCatalog(cfg *config.Config, deps *Dependencies) (retrieval.Catalog, error) {
	switch cfg.CatalogBackend {
	case config.CatalogMemory:
		return retrieval.NewMemoryCatalog(), nil
	case config.CatalogPostgres:
		if deps.DB == nil {
			return nil, fmt.Errorf("%w: postgres catalog without a database", config.ErrInvalidConfig)
		}
		return document.NewPostgresCatalog(deps.DB), nil
	default:
		return retrieval.OpenFileCatalog(cfg.CatalogPath)
	}
}
