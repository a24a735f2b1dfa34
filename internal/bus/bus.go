package bus

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/ringscan/internal/domain"
)

// Topics lists every subject ringscan publishes on, in pipeline order.
func Topics() []string {
	return []string{
		domain.TopicBatchSubmitted,
		domain.TopicAnalysisCompleted,
		domain.TopicAlert,
	}
}

// New creates the event bus for the configured tier. A single process uses
// Go channels; replicas sharing submitted batches use NATS, where the batch
// topic is consumed through the ringscan-workers queue group.
// An empty type selects channels.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	var (
		b   domain.EventBus
		err error
	)

	switch cfg.Type {
	case "channel", "":
		b = NewChannelBus(cfg.ChannelBufferSize)
	case "nats":
		b, err = NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("event bus ready",
		"type", cfg.Type,
		"topics", Topics(),
		"batch_queue_group", queueGroup,
	)
	return b, nil
}
