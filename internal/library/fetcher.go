package library

import (
	"context"

	"gutensync/internal/model"
)

// ContentFetcher downloads book contents from the mirror network.
type ContentFetcher interface {
	// Fetch processes every task concurrently and hands finished downloads
	// to save in batches. Tasks complete in arbitrary order. Task-level
	// failures are counted, not returned; Fetch returns an error only when
	// the context is canceled or a save call fails.
	Fetch(ctx context.Context, tasks []model.DownloadTask, save func([]model.Download) error) (model.DownloadStats, error)
}
