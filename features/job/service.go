package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"askdocs/internal/config"
)

const publishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo    Repository
	pub     EventPublisher
	logger  *slog.Logger
	timeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, timeout: publishTimeout}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Record stores a failed ingestion task.
func (s *Service) Record(ctx context.Context, j *Job) error {
	if err := s.repo.Save(ctx, j); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "saved failed job for retry", "job_id", j.ID, "origin", j.Origin, "retries", j.Retries)
	return nil
}

// Retry forgets the job and publishes its task again. The consumer records a
// new job if the task fails again; a failed publish restores this one.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicIngestDocument, job.Payload)
	}()

	select {
	case err = <-done:
	case <-time.After(s.timeout):
		err = ErrPublishTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		if saveErr := s.repo.Save(context.WithoutCancel(ctx), job); saveErr != nil {
			s.logger.ErrorContext(ctx, "failed to restore job after publish error", "job_id", id, "error", saveErr)
		}
		return err
	}

	s.logger.InfoContext(ctx, "job retried", "job_id", id, "origin", job.Origin)
	return nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
