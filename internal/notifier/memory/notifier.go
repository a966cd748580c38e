// Package memory provides a recording notifier used for dry runs and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	"github.com/JakeFAU/release-notifier/internal/logging"
)

// Delivery is one recorded notification.
type Delivery struct {
	Subscriber catalog.SubscriberID
	Message    catalog.Message
}

// Notifier logs and records every message instead of sending it.
type Notifier struct {
	mu         sync.Mutex
	deliveries []Delivery
	failures   map[catalog.SubscriberID]error
	logger     *zap.Logger
}

// New returns an empty Notifier.
func New(logger *zap.Logger) *Notifier {
	return &Notifier{
		failures: make(map[catalog.SubscriberID]error),
		logger:   logging.OrNop(logger).Named("notifier"),
	}
}

// FailFor makes deliveries to subscriber fail with err.
func (n *Notifier) FailFor(subscriber catalog.SubscriberID, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[subscriber] = err
}

// Notify records msg for subscriber.
func (n *Notifier) Notify(ctx context.Context, subscriber catalog.SubscriberID, msg catalog.Message) error {
	if err := ctx.Err(); err != nil {
		return &catalog.DeliveryError{Subscriber: subscriber, Err: err}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failures[subscriber]; ok {
		var delivery *catalog.DeliveryError
		if errors.As(err, &delivery) {
			return err
		}
		return &catalog.DeliveryError{Subscriber: subscriber, Err: err}
	}
	n.deliveries = append(n.deliveries, Delivery{Subscriber: subscriber, Message: msg})
	n.logger.Info("dry-run notification",
		zap.Int64("subscriber", int64(subscriber)),
		zap.String("title", msg.Title),
		zap.String("url", msg.URL),
	)
	return nil
}

// Deliveries returns a copy of the recorded notifications.
func (n *Notifier) Deliveries() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Delivery, len(n.deliveries))
	copy(out, n.deliveries)
	return out
}
