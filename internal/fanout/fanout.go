// Package fanout delivers newly detected episodes to every subscriber of their item.
package fanout

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	"github.com/JakeFAU/release-notifier/internal/logging"
	"github.com/JakeFAU/release-notifier/internal/metrics"
	"github.com/JakeFAU/release-notifier/internal/telemetry"
)

// EventTopic is the topic of the event published per delivered episode.
const EventTopic = "episode.detected"

const defaultLimiterKey = "telegram"

// Report summarizes one Deliver call.
type Report struct {
	Episodes  int `json:"episodes"`
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Permanent int `json:"permanent"`
}

// Options carries the optional collaborators.
type Options struct {
	Limiter    catalog.Limiter
	LimiterKey string
	Publisher  catalog.Publisher
	Now        func() time.Time
	Logger     *zap.Logger
}

// Fanout sends one message per (episode, subscriber) pair.
type Fanout struct {
	store      catalog.Store
	notifier   catalog.Notifier
	limiter    catalog.Limiter
	limiterKey string
	publisher  catalog.Publisher
	now        func() time.Time
	logger     *zap.Logger
}

// New wires a Fanout.
func New(store catalog.Store, notifier catalog.Notifier, opts Options) *Fanout {
	key := opts.LimiterKey
	if key == "" {
		key = defaultLimiterKey
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Fanout{
		store:      store,
		notifier:   notifier,
		limiter:    opts.Limiter,
		limiterKey: key,
		publisher:  opts.Publisher,
		now:        now,
		logger:     logging.OrNop(opts.Logger).Named("fanout"),
	}
}

// Deliver notifies subscribers of each episode in order. A failure for one
// recipient is counted and logged; delivery continues with the rest.
func (f *Fanout) Deliver(ctx context.Context, episodes []catalog.NewEpisode) (report Report) {
	report.Episodes = len(episodes)
	ctx, span := telemetry.StartSpan(ctx, "fanout.deliver", attribute.Int("episodes", len(episodes)))
	defer func() {
		span.SetAttributes(
			attribute.Int("delivered", report.Delivered),
			attribute.Int("failed", report.Failed),
		)
		span.End()
	}()
	for _, ep := range episodes {
		if ctx.Err() != nil {
			f.logger.Warn("delivery interrupted", zap.Error(ctx.Err()))
			return report
		}
		subs, err := f.store.ListSubscribers(ctx, ep.ItemID)
		if err != nil {
			f.logger.Error("failed to list subscribers",
				zap.Int64("item_id", ep.ItemID),
				zap.String("hash", ep.Hash),
				zap.Error(err),
			)
			continue
		}
		msg := catalog.Message{Title: f.title(ctx, ep), URL: ep.URL}

		delivered := 0
		for _, sub := range subs {
			if f.limiter != nil {
				if err := f.limiter.Wait(ctx, f.limiterKey); err != nil {
					f.logger.Warn("delivery interrupted", zap.Error(err))
					return report
				}
			}
			report.Attempted++
			if err := f.notifier.Notify(ctx, sub, msg); err != nil {
				f.recordFailure(&report, sub, ep, err)
				continue
			}
			delivered++
			report.Delivered++
			metrics.ObserveNotification("sent")
		}

		f.publish(ctx, catalog.EpisodeEvent{
			Hash:        ep.Hash,
			ItemID:      ep.ItemID,
			Title:       msg.Title,
			URL:         ep.URL,
			Subscribers: len(subs),
			Delivered:   delivered,
			DetectedAt:  f.now().UTC(),
		})
	}
	return report
}

func (f *Fanout) title(ctx context.Context, ep catalog.NewEpisode) string {
	title, err := f.store.GetItemTitle(ctx, ep.ItemID)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			f.logger.Warn("item title lookup failed, using feed title",
				zap.Int64("item_id", ep.ItemID),
				zap.Error(err),
			)
		}
		return ep.Title
	}
	if title == "" {
		return ep.Title
	}
	return title
}

func (f *Fanout) recordFailure(report *Report, sub catalog.SubscriberID, ep catalog.NewEpisode, err error) {
	report.Failed++
	var delivery *catalog.DeliveryError
	permanent := errors.As(err, &delivery) && delivery.Permanent
	if permanent {
		report.Permanent++
		metrics.ObserveNotification("permanent")
	} else {
		metrics.ObserveNotification("failed")
	}
	f.logger.Warn("notification failed",
		zap.Int64("subscriber", int64(sub)),
		zap.String("hash", ep.Hash),
		zap.Bool("permanent", permanent),
		zap.Error(err),
	)
}

func (f *Fanout) publish(ctx context.Context, event catalog.EpisodeEvent) {
	if f.publisher == nil {
		return
	}
	id, err := f.publisher.Publish(ctx, EventTopic, event)
	if err != nil {
		f.logger.Warn("failed to publish episode event", zap.String("hash", event.Hash), zap.Error(err))
		return
	}
	f.logger.Debug("episode event published", zap.String("hash", event.Hash), zap.String("event_id", id))
}
