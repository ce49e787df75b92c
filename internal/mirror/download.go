package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	"gutensync/internal/library"
	"gutensync/internal/model"
	"gutensync/internal/text"
)

const (
	// DefaultWorkers bounds concurrent downloads per batch.
	DefaultWorkers = 4

	// maxAttempts bounds how often one book is tried, each time against a
	// freshly chosen mirror.
	maxAttempts = 3

	// commitEvery flushes finished downloads to the saver in groups, so a
	// crash mid-batch loses at most one group.
	commitEvery = 10

	// freshnessSlack absorbs timezone skew and catalog metadata sloppiness
	// when comparing mirror copies against catalog timestamps.
	freshnessSlack = 24 * time.Hour
)

// Mirrors propagate catalog updates with delay; an older copy on one mirror
// is not an error.
var errNotUpdated = errors.New("mirror copy not yet updated")

// transientError marks failures worth retrying on another mirror.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Downloader fetches book contents from the mirror network with a bounded
// worker pool and prepares them for storage.
type Downloader struct {
	mirrors *List
	client  *http.Client
	logger  library.Logger
	workers int
}

// NewDownloader creates a downloader. A nil httpClient selects
// http.DefaultClient; workers < 1 selects DefaultWorkers.
func NewDownloader(mirrors *List, httpClient *http.Client, logger library.Logger, workers int) *Downloader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Downloader{mirrors: mirrors, client: httpClient, logger: logger, workers: workers}
}

// Fetch implements library.ContentFetcher. Tasks are spread over the worker
// pool and complete out of order; finished downloads reach save in groups of
// commitEvery plus a final partial group. On cancellation the pending group
// is dropped and already-saved groups stay valid.
func (d *Downloader) Fetch(ctx context.Context, tasks []model.DownloadTask, save func([]model.Download) error) (model.DownloadStats, error) {
	var stats model.DownloadStats
	if len(tasks) == 0 {
		return stats, nil
	}

	bases, err := d.mirrors.Bases(ctx)
	if err != nil {
		return stats, err
	}
	d.logger.Info("downloading books", "count", len(tasks), "workers", d.workers)

	// Workers block on the result channel; cancel on early return so none
	// of them leak when a save fails.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		download *model.Download
		failed   bool
	}
	taskCh := make(chan model.DownloadTask)
	resultCh := make(chan result)

	var wg sync.WaitGroup
	for range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				download, err := d.fetchBook(ctx, bases, task)
				if err != nil && ctx.Err() != nil {
					return
				}
				res := result{download: download, failed: err != nil}
				if err != nil {
					d.logger.Warn("skipping book", "book", task.BookID, "error", err)
				}
				select {
				case resultCh <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	batch := make([]model.Download, 0, commitEvery)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := save(batch); err != nil {
			return fmt.Errorf("saving downloads: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for res := range resultCh {
		switch {
		case res.failed:
			stats.Failed++
		case res.download == nil:
			stats.Skipped++
		default:
			stats.Downloaded++
			batch = append(batch, *res.download)
			if len(batch) >= commitEvery {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// fetchBook downloads one book, retrying transient failures against fresh
// mirror choices. A (nil, nil) return means the book was skipped because no
// mirror carries a copy as new as the catalog claims.
func (d *Downloader) fetchBook(ctx context.Context, bases []string, task model.DownloadTask) (*model.Download, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := bases[rand.IntN(len(bases))]
		url := BookURL(base, task.BookID, task.FileName)

		download, err := d.tryFetch(ctx, url, task)
		if err == nil {
			return download, nil
		}
		if errors.Is(err, errNotUpdated) {
			d.logger.Debug("mirror copy not yet updated", "book", task.BookID, "mirror", base)
			return nil, nil
		}
		var transient *transientError
		if !errors.As(err, &transient) {
			return nil, err
		}
		lastErr = err
		d.logger.Debug("retrying on another mirror", "book", task.BookID, "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

func (d *Downloader) tryFetch(ctx context.Context, url string, task model.DownloadTask) (*model.Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &transientError{fmt.Errorf("fetching %s: %w", url, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &transientError{fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)}
	default:
		return nil, fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}

	serverModified, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	if err != nil {
		return nil, fmt.Errorf("mirror sent no usable Last-Modified for %s: %w", url, err)
	}
	if task.HasPrior && serverModified.Before(task.CatalogModified.Add(-freshnessSlack)) {
		return nil, errNotUpdated
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("reading %s: %w", url, err)}
	}
	decoded, err := DecodeText(raw, task.Encoding)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", url, err)
	}

	body, err := compressText(text.StripBoilerplate(text.Clean(decoded)))
	if err != nil {
		return nil, fmt.Errorf("compressing book %d: %w", task.BookID, err)
	}
	return &model.Download{
		BookID:       task.BookID,
		Body:         body,
		URL:          url,
		LastModified: task.CatalogModified,
	}, nil
}

func compressText(s string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(s)); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ library.ContentFetcher = (*Downloader)(nil)
