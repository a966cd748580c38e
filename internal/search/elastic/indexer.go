// Package elastic mirrors catalog items into an Elasticsearch index for fuzzy title lookup.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	"github.com/JakeFAU/release-notifier/internal/logging"
)

const defaultBatchSize = 500

// Config locates the cluster and index.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	BatchSize int
}

// Indexer bulk-indexes items keyed by item id.
type Indexer struct {
	client    *elasticsearch.Client
	index     string
	batchSize int
	logger    *zap.Logger
}

type document struct {
	ItemID    int64  `json:"item_id"`
	ItemTitle string `json:"item_title"`
	ItemImage string `json:"item_image"`
}

type bulkAction struct {
	Index struct {
		ID string `json:"_id"`
	} `json:"index"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// New builds an Indexer for cfg.
func New(cfg Config, logger *zap.Logger) (*Indexer, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("search.addresses is required")
	}
	if cfg.Index == "" {
		cfg.Index = "items"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Indexer{
		client:    client,
		index:     cfg.Index,
		batchSize: cfg.BatchSize,
		logger:    logging.OrNop(logger).Named("search"),
	}, nil
}

// IndexItems writes every item in bulk batches. Re-indexing the same item overwrites its document.
func (ix *Indexer) IndexItems(ctx context.Context, items []catalog.Item) error {
	for start := 0; start < len(items); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := ix.bulk(ctx, items[start:end]); err != nil {
			return err
		}
	}
	ix.logger.Info("search index refreshed", zap.String("index", ix.index), zap.Int("items", len(items)))
	return nil
}

func (ix *Indexer) bulk(ctx context.Context, items []catalog.Item) error {
	body, err := encodeBulk(items)
	if err != nil {
		return err
	}
	res, err := ix.client.Bulk(
		bytes.NewReader(body),
		ix.client.Bulk.WithContext(ctx),
		ix.client.Bulk.WithIndex(ix.index),
	)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("bulk index: %s: %s", res.Status(), bytes.TrimSpace(msg))
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}
	failed := 0
	for _, entry := range parsed.Items {
		for _, result := range entry {
			if result.Error == nil {
				continue
			}
			failed++
			ix.logger.Warn("document rejected",
				zap.String("id", result.ID),
				zap.Int("status", result.Status),
				zap.String("reason", result.Error.Reason),
			)
		}
	}
	return fmt.Errorf("bulk index: %d of %d documents rejected", failed, len(items))
}

func encodeBulk(items []catalog.Item) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		var action bulkAction
		action.Index.ID = strconv.FormatInt(item.ID, 10)
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(document{ItemID: item.ID, ItemTitle: item.Title, ItemImage: item.Image}); err != nil {
			return nil, fmt.Errorf("encode document: %w", err)
		}
	}
	return buf.Bytes(), nil
}

var _ catalog.Indexer = (*Indexer)(nil)
