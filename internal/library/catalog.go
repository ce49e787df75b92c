package library

import (
	"context"

	"gutensync/internal/model"
)

// CatalogSource streams the published catalog of book records.
type CatalogSource interface {
	// Each fetches the current catalog and invokes visit once per book that
	// has a plain-text rendition. Records are visited in archive order.
	// Each returns the first error reported by visit.
	Each(ctx context.Context, visit func(*model.Record) error) error
}
