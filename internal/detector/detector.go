// Package detector turns feed entries into newly recorded episodes.
package detector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	"github.com/JakeFAU/release-notifier/internal/logging"
	"github.com/JakeFAU/release-notifier/internal/metrics"
)

// Detector resolves feed entries to items and records unseen episodes.
type Detector struct {
	root   *regexp.Regexp
	store  catalog.Store
	logger *zap.Logger
}

// New compiles the item-root pattern for baseURL+itemPath.
func New(baseURL, itemPath string, store catalog.Store, logger *zap.Logger) (*Detector, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	base := strings.TrimRight(baseURL, "/")
	if base == "" || itemPath == "" {
		return nil, fmt.Errorf("base url and item path are required")
	}
	if !strings.HasPrefix(itemPath, "/") {
		itemPath = "/" + itemPath
	}
	if !strings.HasSuffix(itemPath, "/") {
		itemPath += "/"
	}
	pattern := "^" + regexp.QuoteMeta(base+itemPath) + `[^/?#]+`
	root, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile item root pattern: %w", err)
	}
	return &Detector{
		root:   root,
		store:  store,
		logger: logging.OrNop(logger).Named("detector"),
	}, nil
}

// RootURL returns the item root of an episode URL.
func (d *Detector) RootURL(episodeURL string) (string, bool) {
	match := d.root.FindString(episodeURL)
	return match, match != ""
}

// Detect records every entry that resolves to a known item and was not seen
// before. The returned episodes are those committed by this call, in feed order.
func (d *Detector) Detect(ctx context.Context, entries []catalog.FeedEntry) ([]catalog.NewEpisode, error) {
	candidates := make([]catalog.Episode, 0, len(entries))
	titles := make(map[string]string, len(entries))

	for _, entry := range entries {
		root, ok := d.RootURL(entry.URL)
		if !ok {
			metrics.ObserveFeedEntry("unmatched")
			d.logger.Debug("discarding feed entry outside item path", zap.String("url", entry.URL))
			continue
		}
		itemID, err := d.store.FindItemByURL(ctx, root)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				metrics.ObserveFeedEntry("unknown_item")
				d.logger.Debug("item not mirrored yet", zap.String("root", root), zap.String("url", entry.URL))
				continue
			}
			return nil, fmt.Errorf("resolve item %s: %w", root, err)
		}
		exists, err := d.store.EpisodeExists(ctx, entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("check episode %s: %w", entry.Hash, err)
		}
		if exists {
			continue
		}
		candidates = append(candidates, catalog.Episode{Hash: entry.Hash, ItemID: itemID, URL: entry.URL})
		titles[entry.Hash] = entry.Title
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	committed, err := d.store.RecordEpisodes(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("record episodes: %w", err)
	}

	out := make([]catalog.NewEpisode, 0, len(committed))
	for _, ep := range committed {
		out = append(out, catalog.NewEpisode{Episode: ep, Title: titles[ep.Hash]})
	}
	metrics.ObserveEpisodesDetected(len(out))
	if len(out) > 0 {
		d.logger.Info("new episodes recorded", zap.Int("count", len(out)))
	}
	return out, nil
}
