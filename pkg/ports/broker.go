package ports

import "context"

// BrokerEvent is the envelope every MessageBroker delivers: a typed
// payload (one of the pkg/ports message structs) plus transport headers
// used to carry OpenTelemetry trace context across the wire (spec.md §6,
// §9 "trace propagation").
type BrokerEvent struct {
	Type    string
	Payload any
	Headers map[string]string
}

// Subscription is an active MessageBroker subscription.
type Subscription interface {
	// Events yields delivered events until the subscription is closed.
	Events() <-chan BrokerEvent
	Close() error
}

// MessageBroker is the pub/sub transport Hub and Device instances publish
// lifecycle, property, and telemetry events onto, and that remote peers
// subscribe to (spec.md §6, grounded on pkg/events.Broker's non-blocking
// publish/subscribe shape).
type MessageBroker interface {
	Publish(ctx context.Context, topic string, event BrokerEvent) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}
