package catalog

import "context"

// Store is the durable mirror of the catalog. Implementations must be safe for
// concurrent use and enforce uniqueness of Item.URL, Episode.Hash and
// (subscriber, item) pairs.
type Store interface {
	UpsertItem(ctx context.Context, title, image, url string) (int64, error)
	FindItemByURL(ctx context.Context, url string) (int64, error)
	GetItemTitle(ctx context.Context, itemID int64) (string, error)
	GetItemImage(ctx context.Context, itemID int64) (string, error)
	ListItems(ctx context.Context) ([]Item, error)
	EpisodeExists(ctx context.Context, hash string) (bool, error)
	// RecordEpisodes inserts the batch atomically and returns the committed subset.
	// Hashes already present are skipped rather than failing the batch.
	RecordEpisodes(ctx context.Context, episodes []Episode) ([]Episode, error)
	ListSubscribers(ctx context.Context, itemID int64) ([]SubscriberID, error)
	Subscribe(ctx context.Context, subscriber SubscriberID, itemID int64) error
	Ping(ctx context.Context) error
	Close() error
}

// Fetcher retrieves a page body from the catalog source.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Hasher derives the identity hash of an episode URL.
type Hasher interface {
	HashURL(url string) string
}

// Limiter throttles outbound calls per key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Notifier delivers a message to one subscriber.
type Notifier interface {
	Notify(ctx context.Context, subscriber SubscriberID, msg Message) error
}

// Indexer receives the full item set for fuzzy lookup.
type Indexer interface {
	IndexItems(ctx context.Context, items []Item) error
}

// Publisher pushes episode events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces cycle identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
