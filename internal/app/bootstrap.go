package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"askdocs/internal/adapter/chromem"
	"askdocs/internal/adapter/gemini"
	wstore "askdocs/internal/adapter/weaviate"
	"askdocs/internal/config"
	"askdocs/internal/embedding"
	"askdocs/internal/vector"
)

// SchemaEnsurer is a vector backend that owns a schema.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Dependencies are the external resources the application runs on. DB,
// Generator and Producer are nil when the configuration does not use them.
type Dependencies struct {
	DB        *sql.DB
	Backend   vector.Backend
	Provider  embedding.Provider
	Generator *gemini.Generator
	Producer  *nsq.Producer

	closers []func() error
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	if cfg.UsesPostgres() {
		db, err := openDatabase(ctx, cfg, retryDelay)
		if err != nil {
			return nil, err
		}
		deps.DB = db
		deps.closers = append(deps.closers, db.Close)
	}

	backend, err := openBackend(ctx, cfg, retryDelay)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Backend = backend

	switch cfg.Embedder {
	case config.EmbedderHashing:
		deps.Provider = embedding.NewHashing(cfg.HashingDimension)
	default:
		emb, err := gemini.NewEmbedder(ctx, gemini.EmbedderConfig{
			APIKey:            cfg.GeminiAPIKey,
			Model:             cfg.GeminiEmbedModel,
			Dimension:         cfg.GeminiDimension,
			RequestsPerSecond: cfg.GeminiRPS,
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("gemini embedder error: %w", err)
		}
		deps.Provider = emb
		deps.closers = append(deps.closers, emb.Close)

		gen, err := gemini.NewGenerator(ctx, gemini.GeneratorConfig{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.GeminiChatModel,
			Temperature: cfg.GeminiTemperature,
			Persona:     cfg.GeminiPersona,
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("gemini generator error: %w", err)
		}
		deps.Generator = gen
		deps.closers = append(deps.closers, gen.Close)
	}

	if cfg.UsesNSQ() {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.Producer = producer
		deps.closers = append(deps.closers, func() error { producer.Stop(); return nil })

		if cfg.NSQDHTTP != "" {
			createTopics(ctx, cfg.NSQDHTTP)
		}
	}

	return deps, nil
}

// Close releases resources in reverse order of acquisition.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			slog.Warn("failed to close dependency", "error", err)
		}
	}
	d.closers = nil
}

func openDatabase(ctx context.Context, cfg *config.Config, retryDelay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "max_attempts", cfg.BootstrapRetryAttempts)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_ = db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	return db, nil
}

func openBackend(ctx context.Context, cfg *config.Config, retryDelay time.Duration) (vector.Backend, error) {
	switch cfg.VectorBackend {
	case config.VectorMemory:
		return vector.NewMemory(), nil
	case config.VectorWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		store := wstore.NewStore(client, cfg.WeaviateClass)
		if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		return store, nil
	default:
		store, err := chromem.Open(cfg.ChromemPath, cfg.ChromemCollection, cfg.ChromemCompress)
		if err != nil {
			return nil, fmt.Errorf("chromem open error: %w", err)
		}
		return store, nil
	}
}

// createTopics asks nsqd to create the ingestion topic ahead of the first
// publish so consumers started first do not miss it.
func createTopics(ctx context.Context, nsqdHTTP string) {
	url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, config.TopicIngestDocument)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		slog.Warn("failed to build NSQ topic request", "error", err)
		return
	}
	resp, err := http.DefaultClient.Do(req) // #nosec G107 -- URL is built from NSQ config, not user input
	if err != nil {
		slog.Warn("failed to create NSQ topic", "topic", config.TopicIngestDocument, "error", err)
		return
	}
	if closeErr := resp.Body.Close(); closeErr != nil {
		slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
	}
}

// EnsureSchemaWithRetry retries schema setup while the vector store starts.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
