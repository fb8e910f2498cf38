package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"askdocs/internal/config"
	"askdocs/internal/ingest"
	"askdocs/internal/retrieval"
	"askdocs/internal/worker"
)

var ErrValidation = errors.New("validation error")

// Store is the part of the retrieval service the document API reads from.
type Store interface {
	Documents(ctx context.Context) ([]retrieval.Document, error)
	Document(ctx context.Context, id string) (*retrieval.Document, []retrieval.Chunk, error)
	Remove(ctx context.Context, documentID string) error
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// TaskProcessor ingests an encoded task in the calling goroutine.
type TaskProcessor interface {
	ProcessBody(ctx context.Context, body []byte) (*retrieval.Document, error)
}

type CreateRequest struct {
	Origin string `json:"origin"`
	Text   string `json:"text"`
	URL    string `json:"url"`
}

// Receipt describes an accepted document. Document is set when it was
// ingested inline; Queued when a worker will ingest it.
type Receipt struct {
	DocumentID string              `json:"document_id"`
	Origin     string              `json:"origin"`
	Queued     bool                `json:"queued"`
	Document   *retrieval.Document `json:"document,omitempty"`
}

type Service struct {
	store     Store
	processor TaskProcessor
	pub       TaskPublisher
	maxUpload int64
}

// NewService ingests inline through processor unless pub is set, in which
// case tasks are published for the workers.
func NewService(store Store, processor TaskProcessor, pub TaskPublisher, maxUpload int64) *Service {
	if maxUpload <= 0 {
		maxUpload = ingest.DefaultMaxBytes
	}
	return &Service{store: store, processor: processor, pub: pub, maxUpload: maxUpload}
}

func (s *Service) MaxUpload() int64 {
	return s.maxUpload
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Receipt, error) {
	var src retrieval.Source
	switch {
	case req.URL != "" && req.Text != "":
		return nil, fmt.Errorf("%w: give either text or url, not both", ErrValidation)
	case req.URL != "":
		if !ingest.IsURL(req.URL) {
			return nil, fmt.Errorf("%w: url must be http or https", ErrValidation)
		}
		src = retrieval.Source{Origin: req.URL, Kind: retrieval.KindURL}
	case strings.TrimSpace(req.Text) != "":
		origin := strings.TrimSpace(req.Origin)
		if origin == "" {
			origin = "text:" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(req.Text)).String()
		}
		src = retrieval.Source{Origin: origin, Kind: retrieval.KindText, Text: req.Text}
	default:
		return nil, fmt.Errorf("%w: text or url is required", ErrValidation)
	}
	return s.submit(ctx, src)
}

func (s *Service) Upload(ctx context.Context, name, contentType string, r io.Reader) (*Receipt, error) {
	src, err := ingest.ReadUpload(name, contentType, r, s.maxUpload)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, src)
}

func (s *Service) submit(ctx context.Context, src retrieval.Source) (*Receipt, error) {
	body, err := worker.NewIngestTask(ctx, src).Encode()
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{DocumentID: retrieval.DocumentID(src.Origin), Origin: src.Origin}

	if s.pub != nil {
		if err := s.pub.Publish(config.TopicIngestDocument, body); err != nil {
			return nil, fmt.Errorf("publish ingest task: %w", err)
		}
		slog.InfoContext(ctx, "ingest task published", "origin", src.Origin, "kind", src.Kind)
		receipt.Queued = true
		return receipt, nil
	}

	doc, err := s.processor.ProcessBody(ctx, body)
	if err != nil {
		return nil, err
	}
	receipt.Document = doc
	return receipt, nil
}

func (s *Service) List(ctx context.Context) ([]retrieval.Document, error) {
	return s.store.Documents(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*retrieval.Document, []retrieval.Chunk, error) {
	return s.store.Document(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Remove(ctx, id)
}
