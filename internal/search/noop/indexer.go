// Package noop provides an Indexer that discards documents. It is wired when
// no search cluster is configured.
package noop

import (
	"context"

	"github.com/JakeFAU/release-notifier/internal/catalog"
)

// Indexer ignores every call.
type Indexer struct{}

// IndexItems does nothing.
func (Indexer) IndexItems(context.Context, []catalog.Item) error { return nil }

var _ catalog.Indexer = Indexer{}
