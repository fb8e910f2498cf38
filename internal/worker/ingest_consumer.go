package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"askdocs/features/job"
	"askdocs/internal/embedding"
	"askdocs/internal/middleware"
	"askdocs/internal/retrieval"
)

const HandlerName = "ingest-worker"

const (
	defaultTimeout     = 5 * time.Minute
	defaultMaxAttempts = 5
)

// IngestConsumer ingests the documents named by ingest.document tasks.
// Transient provider failures are requeued; anything else, or the last
// attempt, is recorded as a failed job.
type IngestConsumer struct {
	ingester    Ingester
	fetcher     PageFetcher
	loader      FileLoader
	failures    FailureRecorder
	timeout     time.Duration
	maxAttempts uint16
}

type Option func(*IngestConsumer)

func WithTimeout(d time.Duration) Option {
	return func(c *IngestConsumer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxAttempts(n uint16) Option {
	return func(c *IngestConsumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func NewIngestConsumer(ing Ingester, f PageFetcher, l FileLoader, failures FailureRecorder, opts ...Option) *IngestConsumer {
	c := &IngestConsumer{
		ingester:    ing,
		fetcher:     f,
		loader:      l,
		failures:    failures,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	task, err := DecodeTask(m.Body)
	if err != nil {
		// Poison pill: retrying cannot fix the body.
		slog.Error("poison pill: invalid ingest task", "error", err)
		return nil
	}

	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}

	_, err = h.Process(ctx, task)
	if err == nil {
		return nil
	}
	if transient(err) && m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "ingestion failed, requeueing", "origin", task.Origin, "attempt", m.Attempts, "error", err)
		return err
	}
	h.recordFailure(ctx, task, m.Body, err)
	return nil
}

// Process resolves the task to a source and ingests it.
func (h *IngestConsumer) Process(ctx context.Context, task IngestTask) (*retrieval.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	src, err := h.source(ctx, task)
	if err != nil {
		return nil, err
	}
	return h.ingester.Ingest(ctx, src)
}

// ProcessBody handles an encoded task outside NSQ and records a failure as a
// failed job.
func (h *IngestConsumer) ProcessBody(ctx context.Context, body []byte) (*retrieval.Document, error) {
	task, err := DecodeTask(body)
	if err != nil {
		return nil, err
	}
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}
	doc, err := h.Process(ctx, task)
	if err != nil {
		h.recordFailure(ctx, task, body, err)
		return nil, err
	}
	return doc, nil
}

func (h *IngestConsumer) source(ctx context.Context, task IngestTask) (retrieval.Source, error) {
	switch task.Kind {
	case retrieval.KindURL:
		if h.fetcher == nil {
			return retrieval.Source{}, retrieval.NewIngestError(task.Origin, "url ingestion disabled", retrieval.ErrInvalidSource)
		}
		return h.fetcher.Fetch(ctx, task.Origin)
	case retrieval.KindPath:
		if h.loader == nil {
			return retrieval.Source{}, retrieval.NewIngestError(task.Origin, "file ingestion disabled", retrieval.ErrInvalidSource)
		}
		return h.loader.LoadFile(task.Origin)
	case retrieval.KindText, retrieval.KindUpload, "":
		return retrieval.Source{Origin: task.Origin, Kind: task.Kind, Text: task.Text}, nil
	default:
		return retrieval.Source{}, retrieval.NewIngestError(task.Origin, fmt.Sprintf("unknown kind %q", task.Kind), retrieval.ErrInvalidSource)
	}
}

func (h *IngestConsumer) recordFailure(ctx context.Context, task IngestTask, body []byte, cause error) {
	slog.ErrorContext(ctx, "ingestion failed", "origin", task.Origin, "kind", task.Kind, "error", cause)
	if h.failures == nil {
		return
	}
	failed := &job.Job{
		Origin:  task.Origin,
		Handler: HandlerName,
		Payload: append([]byte(nil), body...),
		Error:   cause.Error(),
	}
	if err := h.failures.Record(context.WithoutCancel(ctx), failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
	}
}

func transient(err error) bool {
	return errors.Is(err, embedding.ErrProviderUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
