package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

// Key renders the page as cache key parts.
func (p Page) Key() []string {
	return []string{strconv.Itoa(p.Page), strconv.Itoa(p.Limit)}
}

// PageParams reads page and limit query parameters.
func PageParams(c echo.Context) (Page, error) {
	p := Page{Page: 1, Limit: defaultLimit}
	if v := strings.TrimSpace(c.QueryParam("page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Page{}, fmt.Errorf("invalid page %q", v)
		}
		p.Page = n
	}
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Page{}, fmt.Errorf("invalid limit %q", v)
		}
		p.Limit = min(n, maxLimit)
	}
	return p, nil
}

// List is a paged response body.
type List[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// Paginate slices items for p.
func Paginate[T any](items []T, p Page) List[T] {
	out := List[T]{Items: []T{}, Page: p.Page, Limit: p.Limit, Total: len(items)}
	start := (p.Page - 1) * p.Limit
	if start >= len(items) {
		return out
	}
	end := min(start+p.Limit, len(items))
	out.Items = items[start:end]
	return out
}
