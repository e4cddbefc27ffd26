package shared

import "math"

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata. Missing values fall back to page 1 of 50.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > 500 {
		perPage = 500
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Bounds returns the half-open slice range of the page.
func (p Pagination) Bounds() (int, int) {
	start := (p.Page - 1) * p.PerPage
	if start > p.Total {
		start = p.Total
	}
	end := start + p.PerPage
	if end > p.Total {
		end = p.Total
	}
	return start, end
}
