package fanout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	notifiermemory "github.com/JakeFAU/release-notifier/internal/notifier/memory"
	publishermemory "github.com/JakeFAU/release-notifier/internal/publisher/memory"
	"github.com/JakeFAU/release-notifier/internal/storage/memory"
)

type fixture struct {
	store     *memory.Store
	notifier  *notifiermemory.Notifier
	publisher *publishermemory.Publisher
	itemA     int64
	itemB     int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	a, err := store.UpsertItem(ctx, "Alpha", "", "https://site/releases/item/alpha")
	require.NoError(t, err)
	b, err := store.UpsertItem(ctx, "Beta", "", "https://site/releases/item/beta")
	require.NoError(t, err)
	require.NoError(t, store.Subscribe(ctx, 1, a))
	require.NoError(t, store.Subscribe(ctx, 2, a))
	require.NoError(t, store.Subscribe(ctx, 3, a))
	require.NoError(t, store.Subscribe(ctx, 2, b))
	return fixture{
		store:     store,
		notifier:  notifiermemory.New(nil),
		publisher: publishermemory.New(0, nil),
		itemA:     a,
		itemB:     b,
	}
}

func episode(itemID int64, hash, url, title string) catalog.NewEpisode {
	return catalog.NewEpisode{Episode: catalog.Episode{Hash: hash, ItemID: itemID, URL: url}, Title: title}
}

func TestDeliverReachesEverySubscription(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := New(fx.store, fx.notifier, Options{Publisher: fx.publisher, Now: func() time.Time { return fixed }, Logger: zap.NewNop()})

	report := f.Deliver(context.Background(), []catalog.NewEpisode{
		episode(fx.itemA, "h1", "https://site/releases/item/alpha/1", "feed alpha"),
		episode(fx.itemB, "h2", "https://site/releases/item/beta/4", "feed beta"),
	})
	require.Equal(t, Report{Episodes: 2, Attempted: 4, Delivered: 4}, report)

	deliveries := fx.notifier.Deliveries()
	require.Len(t, deliveries, 4)
	for _, d := range deliveries[:3] {
		require.Equal(t, "New episode: Alpha\nhttps://site/releases/item/alpha/1", d.Message.Text())
	}
	require.EqualValues(t, 2, deliveries[3].Subscriber)
	require.Equal(t, "Beta", deliveries[3].Message.Title)

	events := fx.publisher.Events(EventTopic)
	require.Len(t, events, 2)
	require.Equal(t, catalog.EpisodeEvent{
		Hash: "h1", ItemID: fx.itemA, Title: "Alpha", URL: "https://site/releases/item/alpha/1",
		Subscribers: 3, Delivered: 3, DetectedAt: fixed,
	}, events[0].Payload)
}

func TestDeliverIsolatesFailedRecipients(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.notifier.FailFor(2, &catalog.DeliveryError{Subscriber: 2, Permanent: true, Err: errors.New("blocked")})
	f := New(fx.store, fx.notifier, Options{})

	report := f.Deliver(context.Background(), []catalog.NewEpisode{
		episode(fx.itemA, "h1", "https://site/releases/item/alpha/1", ""),
		episode(fx.itemB, "h2", "https://site/releases/item/beta/4", ""),
	})
	require.Equal(t, Report{Episodes: 2, Attempted: 4, Delivered: 2, Failed: 2, Permanent: 2}, report)

	var recipients []catalog.SubscriberID
	for _, d := range fx.notifier.Deliveries() {
		recipients = append(recipients, d.Subscriber)
	}
	require.Equal(t, []catalog.SubscriberID{1, 3}, recipients)
}

func TestDeliverFallsBackToFeedTitle(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	store := &titlelessStore{Store: fx.store}
	f := New(store, fx.notifier, Options{})

	f.Deliver(context.Background(), []catalog.NewEpisode{
		episode(fx.itemB, "h2", "https://site/releases/item/beta/4", "Beta from feed"),
	})
	deliveries := fx.notifier.Deliveries()
	require.Len(t, deliveries, 1)
	require.Equal(t, "Beta from feed", deliveries[0].Message.Title)
}

func TestDeliverWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	limiter := &countingLimiter{}
	f := New(fx.store, fx.notifier, Options{Limiter: limiter})

	f.Deliver(context.Background(), []catalog.NewEpisode{
		episode(fx.itemA, "h1", "https://site/releases/item/alpha/1", ""),
	})
	require.Equal(t, 3, limiter.calls)
	require.Equal(t, []string{"telegram", "telegram", "telegram"}, limiter.keys)
}

func TestDeliverStopsWhenLimiterCanceled(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	limiter := &countingLimiter{failAfter: 1}
	f := New(fx.store, fx.notifier, Options{Limiter: limiter})

	report := f.Deliver(context.Background(), []catalog.NewEpisode{
		episode(fx.itemA, "h1", "https://site/releases/item/alpha/1", ""),
	})
	require.Equal(t, 1, report.Delivered)
	require.Len(t, fx.notifier.Deliveries(), 1)
}

func TestDeliverNoSubscribersStillPublishes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	id, err := store.UpsertItem(ctx, "Lonely", "", "https://site/releases/item/lonely")
	require.NoError(t, err)
	pub := publishermemory.New(0, nil)
	f := New(store, notifiermemory.New(nil), Options{Publisher: pub})

	report := f.Deliver(ctx, []catalog.NewEpisode{episode(id, "h", "https://site/releases/item/lonely/1", "")})
	require.Equal(t, Report{Episodes: 1}, report)
	require.Len(t, pub.Events(EventTopic), 1)
}

type titlelessStore struct {
	*memory.Store
}

func (titlelessStore) GetItemTitle(context.Context, int64) (string, error) {
	return "", catalog.ErrNotFound
}

type countingLimiter struct {
	calls     int
	keys      []string
	failAfter int
}

func (l *countingLimiter) Wait(_ context.Context, key string) error {
	if l.failAfter > 0 && l.calls >= l.failAfter {
		return context.Canceled
	}
	l.calls++
	l.keys = append(l.keys, key)
	return nil
}
