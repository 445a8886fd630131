package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"eclipse-api-go/internal/metrics"
	"eclipse-api-go/internal/model"
	"eclipse-api-go/internal/store"
)

// GameIndex runs full-text match expressions over game releases.
type GameIndex interface {
	Search(ctx context.Context, match, system string) ([]model.Game, error)
}

// SearchService answers box-art queries.
type SearchService struct {
	index   GameIndex
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSearchService creates a SearchService over the OpenVGDB index.
func NewSearchService(db *store.OpenVGDB, logger *slog.Logger, m *metrics.Metrics) *SearchService {
	return NewSearchServiceWithIndex(db, logger, m)
}

// NewSearchServiceWithIndex creates a SearchService over any GameIndex.
// Pass nil for m to disable metrics.
func NewSearchServiceWithIndex(index GameIndex, logger *slog.Logger, m *metrics.Metrics) *SearchService {
	return &SearchService{
		index:   index,
		logger:  logger.With("component", "search_service"),
		metrics: m,
	}
}

// Search returns the games whose names contain every word of query. An
// empty system means any system. A query with no searchable words yields
// no games rather than an error.
func (s *SearchService) Search(ctx context.Context, query, system string) ([]model.Game, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}

	match := BuildMatchQuery(query)
	if match == "" {
		s.observe(0)
		return []model.Game{}, nil
	}

	games, err := s.index.Search(ctx, match, system)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", match, err)
	}
	s.logger.Debug("box-art search", "match", match, "system", system, "results", len(games))
	s.observe(len(games))
	return games, nil
}

func (s *SearchService) observe(n int) {
	if s.metrics != nil {
		s.metrics.SearchResults.Observe(float64(n))
	}
}

// BuildMatchQuery turns free text into an FTS5 conjunction: lowercased words
// stripped to letters and digits, joined with AND. Words that are left empty
// are dropped, so the result never contains FTS5 syntax from the input.
func BuildMatchQuery(query string) string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		term := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsNumber(r) {
				return r
			}
			return -1
		}, w)
		if term != "" {
			terms = append(terms, term)
		}
	}
	return strings.Join(terms, " AND ")
}
