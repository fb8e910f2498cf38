package retrieval

import (
	"errors"
	"fmt"
)

var (
	ErrRetrievalTimeout   = errors.New("retrieval timed out")
	ErrIndexInconsistency = errors.New("index references unknown chunk")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrInvalidSource      = errors.New("invalid source")
	ErrDocumentNotFound   = errors.New("document not found")
)

// IngestError reports why one source could not be ingested.
type IngestError struct {
	Origin string
	Reason string
	Err    error
}

func NewIngestError(origin, reason string, err error) *IngestError {
	return &IngestError{Origin: origin, Reason: reason, Err: err}
}

func (e *IngestError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ingest %s: %s", e.Origin, e.Reason)
	}
	return fmt.Sprintf("ingest %s: %s: %v", e.Origin, e.Reason, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}
