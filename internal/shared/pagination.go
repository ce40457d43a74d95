package shared

import "math"

const (
	// DefaultLimit is used when a request carries no limit.
	DefaultLimit = 20
	// MaxLimit caps page sizes.
	MaxLimit = 100
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// PageRequest is the normalized page/limit pair.
type PageRequest struct {
	Page  int
	Limit int
}

// NormalizePage clamps page and limit into their valid ranges.
func NormalizePage(page, limit int) PageRequest {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return PageRequest{Page: page, Limit: limit}
}

// Offset returns the row offset of the page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

// NewPagination computes pagination metadata.
func NewPagination(page, limit, total int) Pagination {
	req := NormalizePage(page, limit)
	totalPages := int(math.Ceil(float64(total) / float64(req.Limit)))
	return Pagination{Page: req.Page, Limit: req.Limit, Total: total, TotalPages: totalPages}
}

// Page is a generic paginated result.
type Page[T any] struct {
	Items []T `json:"items"`
	Pagination
}
