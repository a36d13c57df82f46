package shared

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaginationFromQuery(t *testing.T) {
	p := PaginationFromQuery(url.Values{"page": {"3"}, "per_page": {"20"}})
	assert.Equal(t, 20, p.Limit())
	assert.Equal(t, 40, p.Offset())

	p = PaginationFromQuery(url.Values{})
	assert.Equal(t, defaultPerPage, p.Limit())
	assert.Equal(t, 0, p.Offset())

	p = PaginationFromQuery(url.Values{"per_page": {"100000"}})
	assert.Equal(t, maxPerPage, p.Limit())
}

func TestNewPaginationTotals(t *testing.T) {
	p := NewPagination(1, 10, 25)
	assert.Equal(t, 3, p.TotalPages)
}
