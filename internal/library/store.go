package library

import (
	"time"

	"gutensync/internal/model"
)

// Store provides an interface for the persistent corpus state: catalog
// metadata, the search index, downloaded contents and the query registry.
// Implementations fold indexed text themselves; callers must fold query
// expressions with the same folding before passing them in.
type Store interface {
	// Catalog operations

	// ReplaceCatalog atomically replaces all metadata and search index rows
	// with the given records and stamps the refresh time. Partial replaces
	// must not be observable.
	ReplaceCatalog(records []*model.Record, refreshedAt time.Time) error

	// LastCatalogRefresh returns the time of the last successful catalog
	// refresh, or the zero time when the catalog has never been loaded.
	LastCatalogRefresh() (time.Time, error)

	// Search operations

	// SearchRecords returns metadata for every book matching the folded
	// query expression.
	SearchRecords(query string) ([]*model.BookInfo, error)

	// MatchStale returns a download task for every book matching the folded
	// query expression whose catalog timestamp is strictly newer than its
	// stored content, or which has no stored content at all.
	MatchStale(query string) ([]model.DownloadTask, error)

	// StaleDownloaded returns a download task for every already-downloaded
	// book whose catalog timestamp is strictly newer than its stored copy.
	StaleDownloaded() ([]model.DownloadTask, error)

	// Content operations

	// SaveContent inserts or replaces the downloaded contents of one batch.
	SaveContent(downloads []model.Download, at time.Time) error

	// Texts returns the decompressed text of every downloaded book matching
	// the folded query expression.
	Texts(query string) ([]model.BookText, error)

	// Query registry operations

	// RecordQuery registers a download query, or refreshes its last-issued
	// time when it is already registered.
	RecordQuery(query string, at time.Time) error

	// Queries returns all registered queries, most recently issued first.
	Queries() ([]model.QueryInfo, error)

	// ForgetQuery removes a registered query. Removing an unknown query is
	// not an error.
	ForgetQuery(query string) error

	// Run history operations

	// CreateRun records the start of an operation and returns its id.
	CreateRun(operation, parameters string, at time.Time) (int64, error)

	// FinishRun marks a run finished with the given status.
	FinishRun(id int64, status string, at time.Time) error

	// Runs returns the most recent runs, newest first.
	Runs(limit int) ([]model.Run, error)

	// Close releases the underlying connection.
	Close() error
}
