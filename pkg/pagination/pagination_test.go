package pagination

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, Params{Page: 1, PerPage: 20, Offset: 0}, p)
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"?page=3&per_page=50", Params{Page: 3, PerPage: 50, Offset: 100}},
		{"?page=-1", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"?page=abc", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"?per_page=200", Params{Page: 1, PerPage: 20, Offset: 0}},
		{"?per_page=100&page=2", Params{Page: 2, PerPage: 100, Offset: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/wishlist/page"+tt.query, nil)
			assert.Equal(t, tt.want, FromRequest(req))
		})
	}
}

func TestNewResult_Pages(t *testing.T) {
	r := NewResult([]string{"a", "b"}, 25, NewParams(2, 10))

	assert.Equal(t, 3, r.TotalPages)
	assert.True(t, r.HasNext)
	assert.True(t, r.HasPrev)
}

func TestNewResult_LastPage(t *testing.T) {
	r := NewResult([]string{"a"}, 21, NewParams(3, 10))
	assert.False(t, r.HasNext)
}

func TestNewResult_NilDataEncodesEmptyArray(t *testing.T) {
	r := NewResult[string](nil, 0, DefaultParams())

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"data":[]`)
	assert.Equal(t, 0, r.TotalPages)
}
