package catalog

import "time"

// SubscriberID identifies a notification recipient (a chat for the Telegram notifier).
type SubscriberID int64

// Item is a trackable catalog entry keyed by its canonical URL.
type Item struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Image string `json:"image"`
	URL   string `json:"url"`
}

// Episode is a single release attributed to an Item.
type Episode struct {
	Hash   string `json:"hash"`
	ItemID int64  `json:"item_id"`
	URL    string `json:"url"`
}

// ListedItem is one record returned by a listing page crawl.
type ListedItem struct {
	Title  string
	Image  string
	ItemID int64
}

// PageResult is the outcome of crawling one listing page.
type PageResult struct {
	Page    int
	Items   []ListedItem
	HasNext bool
}

// SyncSummary describes one full catalog synchronization.
type SyncSummary struct {
	Pages   int
	Items   int
	Aborted bool
}

// FeedEntry is one deduplicated entry from the latest-updates feed.
type FeedEntry struct {
	Title string
	Image string
	URL   string
	Hash  string
}

// NewEpisode is an episode recorded during the current change-detection cycle.
type NewEpisode struct {
	Episode
	Title string
}

// Message is the payload handed to a Notifier.
type Message struct {
	Title string
	URL   string
}

// Text renders the message body sent to subscribers.
func (m Message) Text() string {
	return "New episode: " + m.Title + "\n" + m.URL
}

// EpisodeEvent is published once per newly detected episode.
type EpisodeEvent struct {
	Hash        string    `json:"hash"`
	ItemID      int64     `json:"item_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Subscribers int       `json:"subscribers"`
	Delivered   int       `json:"delivered"`
	DetectedAt  time.Time `json:"detected_at"`
}
