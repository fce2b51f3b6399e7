package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_ListAndCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/v1/models", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"llama-3.2"},{"id":"qwen2-vl"}]}`))
	}))
	defer srv.Close()

	c := NewCatalog(srv.URL+"/v1/", "secret", time.Minute)

	models, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama-3.2", models[0].ID)

	// second call is served from cache
	_, err = c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestCatalog_ExpiredTTLRefetches(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewCatalog(srv.URL, "", time.Nanosecond)
	_, err := c.List(context.Background())
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestCatalog_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCatalog(srv.URL, "", time.Minute)
	_, err := c.List(context.Background())
	require.Error(t, err)
}

func TestSwitcher(t *testing.T) {
	s := NewSwitcher("default")
	assert.Equal(t, "default", s.Current())
	s.Select("qwen2-vl")
	assert.Equal(t, "qwen2-vl", s.Current())
}
