package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WebhookPublisher POSTs events as JSON to a URL from a background worker.
// Events are dropped when the queue is full.
type WebhookPublisher struct {
	url    string
	client *http.Client
	queue  chan Event
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWebhookPublisher starts the delivery worker.
func NewWebhookPublisher(url string, queueSize int, client *http.Client) *WebhookPublisher {
	if queueSize <= 0 {
		queueSize = 64
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	p := &WebhookPublisher{url: url, client: client, queue: make(chan Event, queueSize)}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish implements Publisher.
func (p *WebhookPublisher) Publish(_ context.Context, e Event) {
	select {
	case p.queue <- e:
	default:
		zap.L().Warn("notify: webhook queue full, dropping event", zap.String("type", string(e.Type)))
	}
}

// Close stops accepting events and waits for queued deliveries.
func (p *WebhookPublisher) Close() error {
	p.once.Do(func() { close(p.queue) })
	p.wg.Wait()
	return nil
}

func (p *WebhookPublisher) run() {
	defer p.wg.Done()
	for e := range p.queue {
		if err := p.deliver(e); err != nil {
			zap.L().Warn("notify: webhook delivery failed",
				zap.String("type", string(e.Type)),
				zap.Error(err),
			)
		}
	}
}

func (p *WebhookPublisher) deliver(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(e.Type))

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 300 {
		return &webhookStatusError{code: resp.StatusCode}
	}
	return nil
}

type webhookStatusError struct{ code int }

func (e *webhookStatusError) Error() string {
	return "notify: webhook returned " + http.StatusText(e.code)
}
