package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestPageParams(t *testing.T) {
	cases := []struct {
		query       string
		page, limit int
		ok          bool
	}{
		{"", 1, defaultLimit, true},
		{"?page=3&limit=5", 3, 5, true},
		{"?limit=1000", 1, maxLimit, true},
		{"?page=0", 0, 0, false},
		{"?limit=abc", 0, 0, false},
	}
	e := echo.New()
	for _, tc := range cases {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/"+tc.query, nil), httptest.NewRecorder())
		p, err := PageParams(c)
		if (err == nil) != tc.ok {
			t.Fatalf("PageParams(%q) err = %v, want ok=%v", tc.query, err, tc.ok)
		}
		if tc.ok && (p.Page != tc.page || p.Limit != tc.limit) {
			t.Fatalf("PageParams(%q) = %+v", tc.query, p)
		}
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	got := Paginate(items, Page{Page: 2, Limit: 2})
	if len(got.Items) != 2 || got.Items[0] != 3 || got.Total != 5 {
		t.Fatalf("unexpected page %+v", got)
	}
	got = Paginate(items, Page{Page: 3, Limit: 2})
	if len(got.Items) != 1 || got.Items[0] != 5 {
		t.Fatalf("unexpected last page %+v", got)
	}
	got = Paginate(items, Page{Page: 9, Limit: 2})
	if got.Items == nil || len(got.Items) != 0 {
		t.Fatalf("expected empty non-nil page, got %+v", got)
	}
}
