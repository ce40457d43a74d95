package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerline/invoicing/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	maxExportRows   = 5000
)

// Query is a normalized timeline request.
type Query struct {
	Entity   string
	EntityID string
	Actor    string
	Action   string
	From     time.Time
	To       time.Time
	Offset   int
	Limit    int
}

// Repository reads audit rows oldest first.
type Repository interface {
	Window(ctx context.Context, q Query) ([]Entry, error)
}

// Service coordinates audit timeline reads.
type Service struct {
	repo Repository
}

// NewService constructs an audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func normalize(filters TimelineFilters) (Query, error) {
	if strings.TrimSpace(filters.Entity) == "" || strings.TrimSpace(filters.EntityID) == "" {
		return Query{}, shared.Invalid("entity", "entity and entity id are required")
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.To.Before(filters.From) {
		return Query{}, shared.Invalid("to", "must not be before from")
	}
	return Query{
		Entity:   strings.TrimSpace(filters.Entity),
		EntityID: strings.TrimSpace(filters.EntityID),
		Actor:    strings.TrimSpace(filters.Actor),
		Action:   strings.TrimSpace(filters.Action),
		From:     filters.From,
		To:       filters.To,
	}, nil
}

// Timeline returns one page. It reads pageSize+1 rows to learn whether a
// next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	q, err := normalize(filters)
	if err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	q.Offset = (page - 1) * pageSize
	q.Limit = pageSize + 1

	rows, err := s.repo.Window(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("audit timeline: %w", err)
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []Entry{}
	}
	return Result{Entries: rows, Paging: paging}, nil
}

// Export returns every matching entry, capped at maxExportRows.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	q, err := normalize(filters)
	if err != nil {
		return nil, err
	}
	q.Limit = maxExportRows
	rows, err := s.repo.Window(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("audit export: %w", err)
	}
	return rows, nil
}
