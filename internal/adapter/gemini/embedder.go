package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"askdocs/internal/embedding"
)

const (
	// maxBatch is the largest request BatchEmbedContents accepts.
	maxBatch = 100

	defaultModel = "gemini-embedding-001"
	// defaultDimension is the native output size of defaultModel. The client
	// cannot request a truncated output, so Dimension must match the model.
	defaultDimension = 3072
)

type EmbedderConfig struct {
	APIKey    string
	Model     string
	Dimension int
	// RequestsPerSecond caps calls to the API; zero means unlimited.
	RequestsPerSecond float64
}

// Embedder is an embedding.Provider backed by the Gemini embedding API.
type Embedder struct {
	client  *genai.Client
	model   string
	dim     int
	limiter *rate.Limiter
}

func NewEmbedder(ctx context.Context, cfg EmbedderConfig, opts ...option.ClientOption) (*Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultDimension
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)...)
	if err != nil {
		return nil, err
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Embedder{client: client, model: cfg.Model, dim: cfg.Dimension, limiter: limiter}, nil
}

func (e *Embedder) Model() embedding.Model {
	return embedding.Model{Version: "gemini/" + e.model, Dimension: e.dim}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	res, err := e.client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "model", e.model, "error", err)
		return nil, classify(err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding received", embedding.ErrProviderUnavailable)
	}
	if err := e.checkDimension(res.Embedding.Values); err != nil {
		return nil, err
	}
	return res.Embedding.Values, nil
}

// EmbedBatch splits texts into API-sized batches and keeps the input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	out := make([][]float32, 0, len(texts))
	for from := 0; from < len(texts); from += maxBatch {
		part := texts[from:min(from+maxBatch, len(texts))]
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		b := em.NewBatch()
		for _, t := range part {
			b.AddContent(genai.Text(t))
		}
		slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", len(part))
		res, err := em.BatchEmbedContents(ctx, b)
		if err != nil {
			slog.ErrorContext(ctx, "batch embedding failed", "model", e.model, "size", len(part), "error", err)
			return nil, classify(err)
		}
		if len(res.Embeddings) != len(part) {
			return nil, fmt.Errorf("%w: sent %d texts, got %d embeddings", embedding.ErrProviderUnavailable, len(part), len(res.Embeddings))
		}
		for _, emb := range res.Embeddings {
			if err := e.checkDimension(emb.Values); err != nil {
				return nil, err
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

// checkDimension reports a model that answers with a size other than the
// configured one, which is a configuration error and never retried.
func (e *Embedder) checkDimension(vec []float32) error {
	if len(vec) != e.dim {
		return fmt.Errorf("%w: %s returned %d values, GEMINI_DIMENSION is %d",
			embedding.ErrDimensionMismatch, e.model, len(vec), e.dim)
	}
	return nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

// classify marks quota, server and transport failures as ErrProviderUnavailable
// so callers retry them. Request errors stay as they are.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			return fmt.Errorf("%w: %w", embedding.ErrProviderUnavailable, err)
		default:
			return err
		}
	}
	return fmt.Errorf("%w: %w", embedding.ErrProviderUnavailable, err)
}
