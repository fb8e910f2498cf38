package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// Vector index backends.
const (
	VectorMemory   = "memory"
	VectorChromem  = "chromem"
	VectorWeaviate = "weaviate"
)

// Catalog backends.
const (
	CatalogMemory   = "memory"
	CatalogFile     = "file"
	CatalogPostgres = "postgres"
)

// Embedding providers.
const (
	EmbedderGemini  = "gemini"
	EmbedderHashing = "hashing"
)

type Config struct {
	// Backends
	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"chromem"`
	CatalogBackend string `envconfig:"CATALOG_BACKEND" default:"file"`
	Embedder       string `envconfig:"EMBEDDER" default:"gemini"`

	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"askdocs"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"askdocs"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass  string `envconfig:"WEAVIATE_CLASS" default:"ChunkVector"`

	ChromemPath       string `envconfig:"CHROMEM_PATH" default:"data/vectors"`
	ChromemCollection string `envconfig:"CHROMEM_COLLECTION" default:"chunks"`
	ChromemCompress   bool   `envconfig:"CHROMEM_COMPRESS" default:"false"`

	CatalogPath string `envconfig:"CATALOG_PATH" default:"data/catalog.json"`

	// NSQ is optional; without NSQD_HOST documents are ingested inline.
	NSQDHost   string `envconfig:"NSQD_HOST"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD"`

	GeminiAPIKey      string  `envconfig:"GEMINI_API_KEY"`
	GeminiEmbedModel  string  `envconfig:"GEMINI_EMBED_MODEL" default:"gemini-embedding-001"`
	GeminiDimension   int     `envconfig:"GEMINI_DIMENSION" default:"3072"`
	GeminiRPS         float64 `envconfig:"GEMINI_RPS" default:"5"`
	GeminiChatModel   string  `envconfig:"GEMINI_CHAT_MODEL" default:"gemini-2.0-flash"`
	GeminiTemperature float32 `envconfig:"GEMINI_TEMPERATURE" default:"0.2"`
	GeminiPersona     string  `envconfig:"GEMINI_PERSONA"`
	HashingDimension  int     `envconfig:"HASHING_DIMENSION" default:"1024"`

	// Segmenter
	MaxChunkTokens int    `envconfig:"MAX_CHUNK_TOKENS" default:"256"`
	OverlapTokens  int    `envconfig:"OVERLAP_TOKENS" default:"32"`
	ChunkBoundary  string `envconfig:"CHUNK_BOUNDARY" default:"sentence"`

	// Retrieval
	TopK         int           `envconfig:"TOP_K" default:"5"`
	MinScore     float32       `envconfig:"MIN_SCORE" default:"0.2"`
	FAQThreshold float32       `envconfig:"FAQ_THRESHOLD" default:"0.85"`
	QueryTimeout time.Duration `envconfig:"QUERY_TIMEOUT" default:"10s"`

	// Ingestion
	EmbedBatchSize   int           `envconfig:"EMBED_BATCH_SIZE" default:"32"`
	EmbedConcurrency int           `envconfig:"EMBED_CONCURRENCY" default:"4"`
	EmbedMaxRetries  uint64        `envconfig:"EMBED_MAX_RETRIES" default:"3"`
	EmbedRetryDelay  time.Duration `envconfig:"EMBED_RETRY_DELAY" default:"500ms"`
	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	WorkerTimeout    time.Duration `envconfig:"WORKER_TIMEOUT" default:"5m"`
	MaxUploadSizeMB  int64         `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`

	FAQPath         string `envconfig:"FAQ_PATH"`
	BoilerplatePath string `envconfig:"BOILERPLATE_PATH"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Server
	ServerPort int    `envconfig:"SERVER_PORT" default:"8081"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; a missing .env is fine.
	_ = godotenv.Load(".env")

	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".askdocs.env"))
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.VectorBackend {
	case VectorMemory, VectorChromem:
	case VectorWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND %q", ErrInvalidConfig, c.VectorBackend)
	}

	switch c.CatalogBackend {
	case CatalogMemory:
	case CatalogFile:
		if c.CatalogPath == "" {
			return fmt.Errorf("%w: CATALOG_PATH", ErrMissingRequired)
		}
	case CatalogPostgres:
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: CATALOG_BACKEND %q", ErrInvalidConfig, c.CatalogBackend)
	}

	switch c.Embedder {
	case EmbedderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
		if c.GeminiDimension < 1 {
			return fmt.Errorf("%w: GEMINI_DIMENSION must be positive", ErrInvalidConfig)
		}
	case EmbedderHashing:
		if c.HashingDimension < 1 {
			return fmt.Errorf("%w: HASHING_DIMENSION must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: EMBEDDER %q", ErrInvalidConfig, c.Embedder)
	}

	if c.TopK < 1 {
		return fmt.Errorf("%w: TOP_K must be at least 1", ErrInvalidConfig)
	}
	if c.MinScore < -1 || c.MinScore > 1 {
		return fmt.Errorf("%w: MIN_SCORE must be within [-1, 1]", ErrInvalidConfig)
	}
	if c.FAQThreshold <= c.MinScore || c.FAQThreshold > 1 {
		return fmt.Errorf("%w: FAQ_THRESHOLD must be above MIN_SCORE and at most 1", ErrInvalidConfig)
	}
	if c.NSQDHost != "" && c.NSQLookupd == "" {
		return fmt.Errorf("%w: NSQ_LOOKUPD is required with NSQD_HOST", ErrMissingRequired)
	}
	return nil
}

// UsesPostgres reports whether any store needs the database.
func (c *Config) UsesPostgres() bool {
	return c.CatalogBackend == CatalogPostgres
}

// UsesNSQ reports whether ingestion goes through the queue.
func (c *Config) UsesNSQ() bool {
	return c.NSQDHost != ""
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
