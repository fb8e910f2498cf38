package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
)

// Model identifies the vector space a provider embeds into. Vectors from two
// different models are never comparable.
type Model struct {
	Version   string `json:"version"`
	Dimension int    `json:"dimension"`
}

func (m Model) String() string {
	return fmt.Sprintf("%s/%d", m.Version, m.Dimension)
}

// Embedding is a vector tagged with the model that produced it.
type Embedding struct {
	Vector       []float32
	ModelVersion string
}

// Provider is the external embedding model. EmbedBatch must preserve input
// order. Transport and quota failures should wrap ErrProviderUnavailable.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() Model
}

// Gateway adapts a Provider: it checks every vector against the stated
// dimension and stamps the model version. It does not cache.
type Gateway struct {
	provider Provider
	model    Model
}

func NewGateway(p Provider) *Gateway {
	return &Gateway{provider: p, model: p.Model()}
}

func (g *Gateway) Model() Model {
	return g.model
}

func (g *Gateway) Embed(ctx context.Context, text string) (Embedding, error) {
	vec, err := g.provider.Embed(ctx, text)
	if err != nil {
		return Embedding{}, err
	}
	if err := g.check(vec); err != nil {
		return Embedding{}, err
	}
	return Embedding{Vector: vec, ModelVersion: g.model.Version}, nil
}

func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := g.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		slog.WarnContext(ctx, "provider returned short batch", "model", g.model.Version, "want", len(texts), "got", len(vecs))
		return nil, fmt.Errorf("%w: batch of %d returned %d vectors", ErrProviderUnavailable, len(texts), len(vecs))
	}
	out := make([]Embedding, len(vecs))
	for i, v := range vecs {
		if err := g.check(v); err != nil {
			return nil, err
		}
		out[i] = Embedding{Vector: v, ModelVersion: g.model.Version}
	}
	return out, nil
}

func (g *Gateway) check(vec []float32) error {
	if g.model.Dimension > 0 && len(vec) != g.model.Dimension {
		return fmt.Errorf("%w: model %s declares %d, got %d", ErrDimensionMismatch, g.model.Version, g.model.Dimension, len(vec))
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector from %s", ErrProviderUnavailable, g.model.Version)
	}
	return nil
}
