package worker

import (
	"context"
	"fmt"
	"sync"

	"askdocs/internal/config"
)

// InlinePublisher stands in for the NSQ producer when no queue is configured.
// Each published task runs on its own goroutine in this process.
type InlinePublisher struct {
	consumer *IngestConsumer
	wg       sync.WaitGroup
}

func NewInlinePublisher(c *IngestConsumer) *InlinePublisher {
	return &InlinePublisher{consumer: c}
}

func (p *InlinePublisher) Publish(topic string, body []byte) error {
	if topic != config.TopicIngestDocument {
		return fmt.Errorf("inline publisher: unknown topic %q", topic)
	}
	if _, err := DecodeTask(body); err != nil {
		return err
	}
	body = append([]byte(nil), body...)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_, _ = p.consumer.ProcessBody(context.Background(), body)
	}()
	return nil
}

// Wait blocks until every published task has finished.
func (p *InlinePublisher) Wait() {
	p.wg.Wait()
}
