package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	"github.com/JakeFAU/release-notifier/internal/logging"
	"github.com/JakeFAU/release-notifier/internal/metrics"
)

const defaultMaxPages = 500

// Config locates the listing pages and bounds pagination.
type Config struct {
	BaseURL     string
	ListingPath string
	MaxPages    int
}

// Crawler mirrors listing pages into the store.
type Crawler struct {
	base        *url.URL
	listingPath string
	maxPages    int
	fetcher     catalog.Fetcher
	store       catalog.Store
	logger      *zap.Logger
}

// New validates cfg and wires the collaborators.
func New(cfg Config, fetcher catalog.Fetcher, store catalog.Store, logger *zap.Logger) (*Crawler, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if !strings.Contains(cfg.ListingPath, "%d") {
		return nil, fmt.Errorf("listing path %q must contain %%d", cfg.ListingPath)
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Crawler{
		base:        base,
		listingPath: cfg.ListingPath,
		maxPages:    maxPages,
		fetcher:     fetcher,
		store:       store,
		logger:      logging.OrNop(logger).Named("crawler"),
	}, nil
}

// PageURL returns the absolute URL of a listing page.
func (c *Crawler) PageURL(page int) string {
	return c.base.String() + fmt.Sprintf(c.listingPath, page)
}

// CrawlPage fetches one listing page and upserts every record on it.
func (c *Crawler) CrawlPage(ctx context.Context, page int) (catalog.PageResult, error) {
	pageURL := c.PageURL(page)
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return catalog.PageResult{}, fmt.Errorf("build page url: %w", err)
	}

	body, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return catalog.PageResult{}, ctxErr
		}
		metrics.ObservePage("fetch_error")
		return catalog.PageResult{}, &catalog.SourceUnavailableError{Op: "fetch listing", URL: pageURL, Err: err}
	}

	records, hasNext, err := parseListing(body, parsed)
	if err != nil {
		metrics.ObservePage("parse_error")
		return catalog.PageResult{}, &catalog.SourceUnavailableError{Op: "parse listing", URL: pageURL, Err: err}
	}
	metrics.ObservePage("ok")

	result := catalog.PageResult{Page: page, HasNext: hasNext, Items: make([]catalog.ListedItem, 0, len(records))}
	for _, rec := range records {
		id, err := c.store.UpsertItem(ctx, rec.Title, rec.Image, rec.URL)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return catalog.PageResult{}, err
			}
			c.logger.Error("failed to upsert item",
				zap.Int("page", page),
				zap.String("url", rec.URL),
				zap.Error(err),
			)
			continue
		}
		result.Items = append(result.Items, catalog.ListedItem{Title: rec.Title, Image: rec.Image, ItemID: id})
	}
	metrics.ObserveItemsUpserted(len(result.Items))

	c.logger.Debug("crawled listing page",
		zap.Int("page", page),
		zap.Int("items", len(result.Items)),
		zap.Bool("has_next", hasNext),
	)
	return result, nil
}

// FullSync crawls pages from 1 until the listing reports no next page.
// An unavailable source ends the sync early with Aborted set and no error.
func (c *Crawler) FullSync(ctx context.Context) (catalog.SyncSummary, error) {
	var summary catalog.SyncSummary
	for page := 1; ; page++ {
		if page > c.maxPages {
			c.logger.Warn("max pages reached, stopping full sync", zap.Int("max_pages", c.maxPages))
			break
		}
		result, err := c.CrawlPage(ctx, page)
		if err != nil {
			if catalog.IsSourceUnavailable(err) {
				c.logger.Warn("catalog source unavailable, ending full sync",
					zap.Int("page", page),
					zap.Error(err),
				)
				summary.Aborted = true
				return summary, nil
			}
			return summary, err
		}
		summary.Pages++
		summary.Items += len(result.Items)
		if !result.HasNext {
			break
		}
	}
	c.logger.Info("full sync complete",
		zap.Int("pages", summary.Pages),
		zap.Int("items", summary.Items),
	)
	return summary, nil
}
