package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"askdocs/features/job"
	"askdocs/internal/middleware"
	"askdocs/internal/retrieval"
)

// IngestTask is the body of an ingest.document message. Path and URL tasks
// carry only the origin; the worker reads or fetches the content itself.
type IngestTask struct {
	Kind          retrieval.Kind `json:"kind"`
	Origin        string         `json:"origin"`
	Text          string         `json:"text,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// NewIngestTask builds the task for src, tagging it with the correlation id
// of ctx.
func NewIngestTask(ctx context.Context, src retrieval.Source) IngestTask {
	t := IngestTask{Kind: src.Kind, Origin: src.Origin}
	switch src.Kind {
	case retrieval.KindPath, retrieval.KindURL:
	default:
		t.Text = src.Text
	}
	if id := middleware.GetCorrelationID(ctx); id != "unknown" {
		t.CorrelationID = id
	}
	return t
}

func (t IngestTask) Encode() ([]byte, error) {
	return json.Marshal(t)
}

func DecodeTask(body []byte) (IngestTask, error) {
	var t IngestTask
	if err := json.Unmarshal(body, &t); err != nil {
		return IngestTask{}, err
	}
	if strings.TrimSpace(t.Origin) == "" {
		return IngestTask{}, fmt.Errorf("%w: task without origin", retrieval.ErrInvalidSource)
	}
	return t, nil
}

type Ingester interface {
	Ingest(ctx context.Context, src retrieval.Source) (*retrieval.Document, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, url string) (retrieval.Source, error)
}

type FileLoader interface {
	LoadFile(path string) (retrieval.Source, error)
}

type FailureRecorder interface {
	Record(ctx context.Context, j *job.Job) error
}
