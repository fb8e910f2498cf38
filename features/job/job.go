package job

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("job not found")

// Job is an ingestion task that failed. Payload is the task as it was
// published, so a retry can publish it again unchanged.
type Job struct {
	ID        string          `json:"id"`
	Origin    string          `json:"origin"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
