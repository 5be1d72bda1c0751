package bus

import (
	"fmt"

	"github.com/openmembership/bareme/internal/domain"
)

// New creates a new event bus based on configuration.
// Standalone deployments get the in-process ChannelBus; clustered
// deployments get NATS.
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
