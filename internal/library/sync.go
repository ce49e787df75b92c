package library

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gutensync/internal/model"
	"gutensync/internal/text"
)

// catalogMaxAge is how old the stored catalog may grow before Update
// re-ingests it.
const catalogMaxAge = 24 * time.Hour

// Download registers a query and downloads every matching book whose catalog
// entry is newer than its stored content, or which was never downloaded. On
// first use the catalog is ingested first.
func (s *Service) Download(ctx context.Context, query string) (model.DownloadStats, error) {
	folded := text.Fold(query)
	if err := s.ensureCatalog(ctx); err != nil {
		return model.DownloadStats{}, err
	}
	if err := s.store.RecordQuery(folded, s.clock.Now()); err != nil {
		return model.DownloadStats{}, fmt.Errorf("recording query: %w", err)
	}
	tasks, err := s.store.MatchStale(folded)
	if err != nil {
		return model.DownloadStats{}, fmt.Errorf("matching query: %w", err)
	}
	return s.fetchTasks(ctx, tasks)
}

// Update refreshes the catalog when it is older than a day, then downloads
// new books matching the registered queries and re-downloads stored books
// whose catalog entries moved on. New books are fetched before re-downloads.
func (s *Service) Update(ctx context.Context) (model.DownloadStats, error) {
	if err := s.maybeRefreshCatalog(ctx); err != nil {
		return model.DownloadStats{}, err
	}

	queries, err := s.store.Queries()
	if err != nil {
		return model.DownloadStats{}, fmt.Errorf("listing queries: %w", err)
	}

	var tasks []model.DownloadTask
	seen := make(map[int]bool)
	add := func(more []model.DownloadTask) {
		for _, t := range more {
			if !seen[t.BookID] {
				seen[t.BookID] = true
				tasks = append(tasks, t)
			}
		}
	}
	for _, q := range queries {
		// Registered queries are stored folded already.
		matched, err := s.store.MatchStale(q.Query)
		if err != nil {
			return model.DownloadStats{}, fmt.Errorf("matching %q: %w", q.Query, err)
		}
		add(matched)
	}
	stale, err := s.store.StaleDownloaded()
	if err != nil {
		return model.DownloadStats{}, fmt.Errorf("finding stale downloads: %w", err)
	}
	add(stale)

	sort.SliceStable(tasks, func(i, j int) bool {
		return !tasks[i].HasPrior && tasks[j].HasPrior
	})
	return s.fetchTasks(ctx, tasks)
}

// RefreshCatalog unconditionally re-ingests the catalog, replacing all
// metadata and search index state.
func (s *Service) RefreshCatalog(ctx context.Context) error {
	s.logger.Info("updating catalog")
	var records []*model.Record
	err := s.catalog.Each(ctx, func(rec *model.Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating catalog: %w", err)
	}
	if err := s.store.ReplaceCatalog(records, s.clock.Now()); err != nil {
		return fmt.Errorf("storing catalog: %w", err)
	}
	s.logger.Info("catalog updated", "books", len(records))
	return nil
}

// ensureCatalog ingests the catalog on first use. It never refreshes an
// existing catalog; Update owns the refresh policy.
func (s *Service) ensureCatalog(ctx context.Context) error {
	last, err := s.store.LastCatalogRefresh()
	if err != nil {
		return fmt.Errorf("reading catalog state: %w", err)
	}
	if !last.IsZero() {
		return nil
	}
	return s.RefreshCatalog(ctx)
}

func (s *Service) maybeRefreshCatalog(ctx context.Context) error {
	last, err := s.store.LastCatalogRefresh()
	if err != nil {
		return fmt.Errorf("reading catalog state: %w", err)
	}
	if !last.IsZero() && s.clock.Now().Sub(last) < catalogMaxAge {
		s.logger.Debug("catalog is fresh", "refreshed_at", last)
		return nil
	}
	return s.RefreshCatalog(ctx)
}

func (s *Service) fetchTasks(ctx context.Context, tasks []model.DownloadTask) (model.DownloadStats, error) {
	if len(tasks) == 0 {
		s.logger.Info("nothing to download")
		return model.DownloadStats{}, nil
	}
	stats, err := s.fetcher.Fetch(ctx, tasks, func(batch []model.Download) error {
		return s.store.SaveContent(batch, s.clock.Now())
	})
	if err != nil {
		return stats, fmt.Errorf("downloading books: %w", err)
	}
	s.logger.Info("downloads finished",
		"downloaded", stats.Downloaded, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}
