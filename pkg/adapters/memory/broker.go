// Package memory provides in-process reference implementations of the
// ports a devicehub deployment needs but the core does not mandate a
// transport for: a topic-based MessageBroker, and map-backed
// BlueprintRegistry/SnapshotStore/AuditLogService. Grounded on
// pkg/events.Broker's subscriber-channel distribution loop, generalized
// from one fixed event channel to per-topic subscriptions.
package memory

import (
	"context"
	"sync"

	"github.com/cuemby/devicehub/pkg/ports"
)

// Broker is an in-process, topic-keyed pub/sub MessageBroker. It never
// blocks a publisher on a slow subscriber: each subscription has its own
// buffered channel and drops events it cannot keep up with, the same
// non-blocking-publish contract pkg/events.Broker documents.
type Broker struct {
	mu   sync.RWMutex
	subs map[string][]*subscription
}

// NewBroker builds an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]*subscription)}
}

type subscription struct {
	ch     chan ports.BrokerEvent
	closed chan struct{}
}

func (s *subscription) Events() <-chan ports.BrokerEvent { return s.ch }

func (s *subscription) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

// Publish delivers event to every live subscription on topic. A
// subscriber whose buffer is full misses the event rather than
// stalling the publisher.
func (b *Broker) Publish(ctx context.Context, topic string, event ports.BrokerEvent) error {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscription on topic.
func (b *Broker) Subscribe(ctx context.Context, topic string) (ports.Subscription, error) {
	s := &subscription{ch: make(chan ports.BrokerEvent, 64), closed: make(chan struct{})}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	go func() {
		<-s.closed
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, cur := range list {
			if cur == s {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}()

	return s, nil
}

// Close tears down every live subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, s := range subs {
			_ = s.Close()
		}
	}
	b.subs = make(map[string][]*subscription)
	return nil
}
