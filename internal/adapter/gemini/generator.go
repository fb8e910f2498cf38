package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"askdocs/internal/retrieval"
)

const defaultPersona = `You are a helpful assistant answering questions from a knowledge base.
Answer only from the provided sources and cite them as [Source N].
If the sources do not contain the answer, say that you do not have enough information.`

type GeneratorConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Persona     string
}

// Generator writes an answer from retrieved context with a Gemini model.
type Generator struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

func NewGenerator(ctx context.Context, cfg GeneratorConfig, opts ...option.ClientOption) (*Generator, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Persona == "" {
		cfg.Persona = defaultPersona
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)...)
	if err != nil {
		return nil, err
	}
	m := client.GenerativeModel(cfg.Model)
	m.SetTemperature(cfg.Temperature)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(cfg.Persona)}}
	return &Generator{client: client, model: m, name: cfg.Model}, nil
}

func (g *Generator) Generate(ctx context.Context, question string, results []retrieval.Result) (string, error) {
	prompt := fmt.Sprintf("Sources:\n%s\n\nQuestion: %s", retrieval.FormatContext(results), question)
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "model", g.name, "error", err)
		return "", err
	}

	var b strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	if b.Len() == 0 {
		return "", errors.New("gemini returned no text")
	}
	return b.String(), nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}
