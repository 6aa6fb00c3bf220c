package request

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"default", "", DefaultLimit},
		{"explicit", "?limit=10", 10},
		{"clamped", "?limit=5000", MaxLimit},
		{"zero", "?limit=0", DefaultLimit},
		{"negative", "?limit=-3", DefaultLimit},
		{"garbage", "?limit=abc", DefaultLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/backups"+tt.query, nil)
			assert.Equal(t, tt.want, ParseLimit(r))
		})
	}
}

func TestParseTime(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/restore-points?as_of=2026-03-10T12:00:00Z", nil)
	got, err := ParseTime(r, "as_of")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))

	got, err = ParseTime(r, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	r = httptest.NewRequest(http.MethodGet, "/restore-points?as_of=yesterday", nil)
	_, err = ParseTime(r, "as_of")
	assert.ErrorContains(t, err, "invalid as_of")
}

type sample struct {
	Name  string `json:"name" validate:"required,slug"`
	Count int    `json:"count" validate:"gte=0"`
}

func TestDecode(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name":"nightly","count":2}`))
	var s sample
	require.NoError(t, Decode(r, &s))
	assert.Equal(t, "nightly", s.Name)

	r = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{bad`))
	assert.ErrorContains(t, Decode(r, &s), "invalid JSON")

	r = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name":"Bad Name"}`))
	assert.ErrorContains(t, Decode(r, &sample{}), "validation error")
}

func TestDecodeOptional_EmptyBody(t *testing.T) {
	var v struct {
		Limit int `json:"limit" validate:"gte=0"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, DecodeOptional(r, &v))
	assert.Equal(t, 0, v.Limit)
}

func TestRequireID(t *testing.T) {
	_, err := RequireID("")
	assert.Error(t, err)
	id, err := RequireID("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
}
