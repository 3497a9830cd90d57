package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1905060202/image-ai-processor/internal/config"
)

const chatSuccessBody = `{"choices":[{"message":{"content":"data:image/png;base64,iVBORw0KGgo="}}]}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nanoTestClient(t *testing.T, baseURL string) (*NanoBananaClient, *[]time.Duration) {
	t.Helper()
	cfg := config.Config{
		NanoBananaAPIKey:      "test-key",
		NanoBananaBaseURL:     baseURL,
		NanoBananaModel:       "gemini-2.5-flash-image-preview",
		NanoBananaConcurrency: 2,
		NanoBananaTimeout:     5 * time.Second,
		NanoBananaRetries:     3,
		CacheTTL:              time.Hour,
		CacheMaxSize:          8,
	}
	c := NewNanoBananaClient(cfg, discardLogger())
	var sleeps []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, &sleeps
}

func TestNanoBananaHonorsRetryAfterOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, chatSuccessBody)
	}))
	defer srv.Close()

	c, sleeps := nanoTestClient(t, srv.URL)
	payload, err := c.Generate(context.Background(), "a red fox", Options{})
	require.NoError(t, err)
	assert.False(t, payload.Cached)
	assert.JSONEq(t, chatSuccessBody, string(payload.Raw))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, *sleeps, 1)
	assert.Equal(t, 2*time.Second, (*sleeps)[0], "upstream Retry-After wins over exponential backoff")
}

func TestNanoBananaExponentialBackoffOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, chatSuccessBody)
	}))
	defer srv.Close()

	c, sleeps := nanoTestClient(t, srv.URL)
	_, err := c.Generate(context.Background(), "a blue fox", Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *sleeps)
}

func TestNanoBananaDoesNotRetryAuthFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, sleeps := nanoTestClient(t, srv.URL)
	_, err := c.Generate(context.Background(), "a fox", Options{})
	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindUpstreamAuthFailure, perr.Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "fatal failures are not retried")
	assert.Empty(t, *sleeps)
}

func TestNanoBananaExhaustedRetriesSurfaceLastError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := nanoTestClient(t, srv.URL)
	_, err := c.Generate(context.Background(), "a fox", Options{})
	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindUpstreamUnavailable, perr.Kind)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNanoBananaImageEditFallsBackToTextOnly(t *testing.T) {
	var editCalls, textCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "image_url") {
			atomic.AddInt32(&editCalls, 1)
			http.Error(w, "edit unsupported today", http.StatusInternalServerError)
			return
		}
		atomic.AddInt32(&textCalls, 1)
		_, _ = io.WriteString(w, chatSuccessBody)
	}))
	defer srv.Close()

	c, _ := nanoTestClient(t, srv.URL)
	payload, err := c.GenerateFromImages(context.Background(), []string{"aW1n"}, "restyle this", Options{})
	require.NoError(t, err)
	assert.JSONEq(t, chatSuccessBody, string(payload.Raw))
	assert.Equal(t, int32(3), atomic.LoadInt32(&editCalls), "edit retries exhaust first")
	assert.Equal(t, int32(1), atomic.LoadInt32(&textCalls), "then one text-only fallback")
}

func TestNanoBananaCachesIdenticalRequests(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.WriteString(w, chatSuccessBody)
	}))
	defer srv.Close()

	c, _ := nanoTestClient(t, srv.URL)
	first, err := c.Generate(context.Background(), "a fox", Options{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := c.Generate(context.Background(), "a fox", Options{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "cache hit skips the network")

	_, err = c.Generate(context.Background(), "another fox", Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNanoBananaSendsBearerAndModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"gemini-2.5-flash-image-preview"`)
		_, _ = io.WriteString(w, chatSuccessBody)
	}))
	defer srv.Close()

	c, _ := nanoTestClient(t, srv.URL)
	_, err := c.Generate(context.Background(), "a fox", Options{})
	require.NoError(t, err)
}
