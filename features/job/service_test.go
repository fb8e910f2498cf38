package job

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdocs/internal/config"
)

type slowPublisher struct {
	sleep     time.Duration
	LastTopic string
}

func (m *slowPublisher) Publish(topic string, body []byte) error {
	m.LastTopic = topic
	time.Sleep(m.sleep)
	return nil
}

func TestRetry_Timeout(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	j := &Job{Origin: "https://example.com", Handler: "ingest-worker", Payload: []byte(`{}`), Error: "fetch failed"}
	require.NoError(t, repo.Save(ctx, j))

	pub := &slowPublisher{sleep: 200 * time.Millisecond}
	service := NewService(repo, pub, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	service.timeout = 20 * time.Millisecond

	err := service.Retry(ctx, j.ID)
	assert.ErrorIs(t, err, ErrPublishTimeout)
	assert.Equal(t, "timeout waiting for NSQ publish", err.Error())

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "job restored after timeout")
}

func TestRetry_Success(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	j := &Job{Origin: "notes.md", Payload: []byte(`{}`)}
	require.NoError(t, repo.Save(ctx, j))

	pub := &slowPublisher{}
	service := NewService(repo, pub, nil)

	require.NoError(t, service.Retry(ctx, j.ID))
	assert.Equal(t, config.TopicIngestDocument, pub.LastTopic)

	count, _ := service.Count(ctx)
	assert.Equal(t, 0, count)
}

func TestMemoryRepo_SaveSameOriginBumpsRetries(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	first := &Job{Origin: "a.md", Error: "first"}
	require.NoError(t, repo.Save(ctx, first))
	second := &Job{Origin: "a.md", Error: "second"}
	require.NoError(t, repo.Save(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.Retries)

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Error)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepo_ListNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, &Job{Origin: "old"}))
	require.NoError(t, repo.Save(ctx, &Job{Origin: "new"}))

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "new", jobs[0].Origin)
}
