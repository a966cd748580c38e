// Package memory provides an in-memory catalog.Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/release-notifier/internal/catalog"
)

type subscription struct {
	subscriber catalog.SubscriberID
	itemID     int64
}

type episodeRow struct {
	catalog.Episode
	recordedAt time.Time
}

// Store keeps the catalog mirror in maps guarded by a single mutex.
type Store struct {
	mu            sync.RWMutex
	nextItemID    int64
	items         map[int64]catalog.Item
	itemsByURL    map[string]int64
	episodes      map[string]episodeRow
	episodeURLs   map[string]struct{}
	users         map[catalog.SubscriberID]struct{}
	subscriptions map[subscription]struct{}
	closed        bool
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		items:         make(map[int64]catalog.Item),
		itemsByURL:    make(map[string]int64),
		episodes:      make(map[string]episodeRow),
		episodeURLs:   make(map[string]struct{}),
		users:         make(map[catalog.SubscriberID]struct{}),
		subscriptions: make(map[subscription]struct{}),
	}
}

// UpsertItem inserts the item or refreshes title/image of the existing row.
func (s *Store) UpsertItem(_ context.Context, title, image, url string) (int64, error) {
	if url == "" {
		return 0, fmt.Errorf("item url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.itemsByURL[url]; ok {
		item := s.items[id]
		item.Title = title
		item.Image = image
		s.items[id] = item
		return id, nil
	}
	s.nextItemID++
	id := s.nextItemID
	s.items[id] = catalog.Item{ID: id, Title: title, Image: image, URL: url}
	s.itemsByURL[url] = id
	return id, nil
}

// FindItemByURL resolves an item id by canonical URL.
func (s *Store) FindItemByURL(_ context.Context, url string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.itemsByURL[url]
	if !ok {
		return 0, catalog.ErrNotFound
	}
	return id, nil
}

// GetItemTitle returns the stored title.
func (s *Store) GetItemTitle(_ context.Context, itemID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return "", catalog.ErrNotFound
	}
	return item.Title, nil
}

// GetItemImage returns the stored image URL.
func (s *Store) GetItemImage(_ context.Context, itemID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return "", catalog.ErrNotFound
	}
	return item.Image, nil
}

// ListItems returns every item ordered by id.
func (s *Store) ListItems(_ context.Context) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EpisodeExists reports whether hash was recorded.
func (s *Store) EpisodeExists(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.episodes[hash]
	return ok, nil
}

// RecordEpisodes validates the whole batch before applying any of it.
func (s *Store) RecordEpisodes(_ context.Context, episodes []catalog.Episode) ([]catalog.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	committed := make([]catalog.Episode, 0, len(episodes))
	seenHash := make(map[string]struct{}, len(episodes))
	seenURL := make(map[string]struct{}, len(episodes))
	for _, ep := range episodes {
		if _, ok := s.items[ep.ItemID]; !ok {
			return nil, fmt.Errorf("episode %s references item %d: %w", ep.Hash, ep.ItemID, catalog.ErrConflict)
		}
		if _, ok := s.episodes[ep.Hash]; ok {
			continue
		}
		if _, ok := seenHash[ep.Hash]; ok {
			continue
		}
		if _, ok := s.episodeURLs[ep.URL]; ok {
			continue
		}
		if _, ok := seenURL[ep.URL]; ok {
			continue
		}
		seenHash[ep.Hash] = struct{}{}
		seenURL[ep.URL] = struct{}{}
		committed = append(committed, ep)
	}

	now := time.Now().UTC()
	for _, ep := range committed {
		s.episodes[ep.Hash] = episodeRow{Episode: ep, recordedAt: now}
		s.episodeURLs[ep.URL] = struct{}{}
	}
	return committed, nil
}

// ListSubscribers returns subscribers of itemID in ascending order.
func (s *Store) ListSubscribers(_ context.Context, itemID int64) ([]catalog.SubscriberID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.SubscriberID
	for sub := range s.subscriptions {
		if sub.itemID == itemID {
			out = append(out, sub.subscriber)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Subscribe registers the subscriber and links it to itemID.
func (s *Store) Subscribe(_ context.Context, subscriber catalog.SubscriberID, itemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return catalog.ErrNotFound
	}
	key := subscription{subscriber: subscriber, itemID: itemID}
	if _, ok := s.subscriptions[key]; ok {
		return catalog.ErrConflict
	}
	s.users[subscriber] = struct{}{}
	s.subscriptions[key] = struct{}{}
	return nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ catalog.Store = (*Store)(nil)
