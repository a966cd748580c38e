// Package feed reads the latest-updates feed of the catalog source.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	"github.com/JakeFAU/release-notifier/internal/logging"
	"github.com/JakeFAU/release-notifier/internal/metrics"
)

const entrySelector = "div.list_main_update li"

// Scanner fetches and parses the feed page.
type Scanner struct {
	feedURL *url.URL
	fetcher catalog.Fetcher
	hasher  catalog.Hasher
	logger  *zap.Logger
}

// NewScanner builds a Scanner for baseURL+feedPath.
func NewScanner(baseURL, feedPath string, fetcher catalog.Fetcher, hasher catalog.Hasher, logger *zap.Logger) (*Scanner, error) {
	if fetcher == nil || hasher == nil {
		return nil, fmt.Errorf("fetcher and hasher are required")
	}
	if feedPath == "" {
		feedPath = "/"
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + feedPath)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid feed url %q", baseURL+feedPath)
	}
	return &Scanner{
		feedURL: u,
		fetcher: fetcher,
		hasher:  hasher,
		logger:  logging.OrNop(logger).Named("feed"),
	}, nil
}

// URL returns the feed address.
func (s *Scanner) URL() string {
	return s.feedURL.String()
}

// Scan fetches the feed once and returns its entries in page order, dropping
// entries whose hash already appeared earlier in the same fetch.
func (s *Scanner) Scan(ctx context.Context) ([]catalog.FeedEntry, error) {
	feedURL := s.feedURL.String()
	body, err := s.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &catalog.SourceUnavailableError{Op: "fetch feed", URL: feedURL, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &catalog.SourceUnavailableError{Op: "parse feed", URL: feedURL, Err: err}
	}

	var entries []catalog.FeedEntry
	seen := make(map[string]struct{})
	doc.Find(entrySelector).Each(func(_ int, li *goquery.Selection) {
		href, ok := li.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			metrics.ObserveFeedEntry("malformed")
			return
		}
		ref, err := s.feedURL.Parse(strings.TrimSpace(href))
		if err != nil {
			metrics.ObserveFeedEntry("malformed")
			s.logger.Debug("skipping feed entry with bad href", zap.String("href", href), zap.Error(err))
			return
		}
		ref.Fragment = ""
		entryURL := ref.String()
		hash := s.hasher.HashURL(entryURL)
		if _, dup := seen[hash]; dup {
			metrics.ObserveFeedEntry("duplicate")
			return
		}
		seen[hash] = struct{}{}

		image, _ := li.Find("img").First().Attr("src")
		if image = strings.TrimSpace(image); image != "" {
			if resolved, err := s.feedURL.Parse(image); err == nil {
				image = resolved.String()
			}
		}
		entries = append(entries, catalog.FeedEntry{
			Title: strings.TrimSpace(li.Find("h2").First().Text()),
			Image: image,
			URL:   entryURL,
			Hash:  hash,
		})
		metrics.ObserveFeedEntry("scanned")
	})

	s.logger.Debug("scanned feed", zap.String("url", feedURL), zap.Int("entries", len(entries)))
	return entries, nil
}
