package library

import (
	"fmt"

	"gutensync/internal/model"
	"gutensync/internal/text"
)

// Service is the orchestration layer that coordinates the store, the catalog
// source and the content fetcher to perform the high-level operations needed
// by the CLI. Query strings are folded here, once, at the boundary; the rest
// of the system only ever sees folded queries.
type Service struct {
	store   Store
	catalog CatalogSource
	fetcher ContentFetcher
	logger  Logger
	clock   Clock
}

// NewService creates a Service with the provided dependencies.
func NewService(store Store, catalog CatalogSource, fetcher ContentFetcher, logger Logger, clock Clock) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		fetcher: fetcher,
		logger:  logger,
		clock:   clock,
	}
}

// Search returns metadata for every book matching the query.
func (s *Service) Search(query string) ([]*model.BookInfo, error) {
	books, err := s.store.SearchRecords(text.Fold(query))
	if err != nil {
		return nil, fmt.Errorf("searching catalog: %w", err)
	}
	return books, nil
}

// Texts returns the stored text of every downloaded book matching the query.
func (s *Service) Texts(query string) ([]model.BookText, error) {
	texts, err := s.store.Texts(text.Fold(query))
	if err != nil {
		return nil, fmt.Errorf("reading stored texts: %w", err)
	}
	return texts, nil
}

// Queries returns all registered download queries, most recent first.
func (s *Service) Queries() ([]model.QueryInfo, error) {
	queries, err := s.store.Queries()
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	return queries, nil
}

// Forget withdraws a registered download query. Books already downloaded for
// it stay in the store.
func (s *Service) Forget(query string) error {
	if err := s.store.ForgetQuery(text.Fold(query)); err != nil {
		return fmt.Errorf("forgetting query: %w", err)
	}
	return nil
}

// History returns the most recent recorded runs, newest first.
func (s *Service) History(limit int) ([]model.Run, error) {
	runs, err := s.store.Runs(limit)
	if err != nil {
		return nil, fmt.Errorf("reading run history: %w", err)
	}
	return runs, nil
}
