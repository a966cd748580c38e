// Package memory records published events in process. It backs the default
// wiring when no Pub/Sub project is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/logging"
)

// Event captures one publish call.
type Event struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher keeps the most recent events up to a fixed capacity.
type Publisher struct {
	mu       sync.RWMutex
	capacity int
	seq      int
	events   []Event
	logger   *zap.Logger
}

// New returns a Publisher retaining at most capacity events (0 keeps all).
func New(capacity int, logger *zap.Logger) *Publisher {
	return &Publisher{capacity: capacity, logger: logging.OrNop(logger).Named("events")}
}

// Publish records the event and returns its sequence id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.events = append(p.events, Event{ID: id, Topic: topic, Payload: payload})
	if p.capacity > 0 && len(p.events) > p.capacity {
		p.events = append([]Event(nil), p.events[len(p.events)-p.capacity:]...)
	}
	p.logger.Debug("event published", zap.String("topic", topic), zap.String("id", id))
	return id, nil
}

// Events returns a copy of the retained events, optionally filtered by topic.
func (p *Publisher) Events(topic string) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, 0, len(p.events))
	for _, ev := range p.events {
		if topic == "" || ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}
