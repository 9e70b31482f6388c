package bus

import (
	"fmt"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// New selects the bus implementation for the deployment tier: in-process
// channels when worker and server share a binary, NATS when they don't.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
