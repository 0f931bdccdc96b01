package notify

import (
	"io"

	"github.com/sells-group/supplyrisk/internal/config"
)

// Build assembles the configured sinks around hub, which may be nil. The
// returned closers flush the Kafka and webhook sinks on shutdown.
func Build(cfg config.NotifyConfig, hub *Hub) (Publisher, []io.Closer, error) {
	var (
		sinks   Multi
		closers []io.Closer
	)
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, kp)
		closers = append(closers, kp)
	}
	if cfg.WebhookURL != "" {
		wp := NewWebhookPublisher(cfg.WebhookURL, cfg.SSEBuffer, nil)
		sinks = append(sinks, wp)
		closers = append(closers, wp)
	}

	switch len(sinks) {
	case 0:
		return Nop{}, closers, nil
	case 1:
		return sinks[0], closers, nil
	}
	return sinks, closers, nil
}
