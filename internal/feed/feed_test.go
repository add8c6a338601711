package feed

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

func TestFetchPageRetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.InitialBackoff = time.Millisecond
	body, err := c.FetchPage(context.Background(), 1000, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1}]`, string(body))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetchPageGivesUpAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.InitialBackoff = time.Millisecond
	c.MaxAttempts = 3
	_, err := c.FetchPage(context.Background(), 1000, 0)
	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetchPageDoesNotRetryOn4xx(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.InitialBackoff = time.Millisecond
	_, err := c.FetchPage(context.Background(), 1000, 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load(), "4xx responses are permanent and must not be retried")
}
