package provider

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCacheHitWithinTTL(t *testing.T) {
	t.Parallel()

	c := newResponseCache(time.Hour, 4)
	key := cacheKey("a cat", Options{Size: "1024x1024"})
	c.put(key, json.RawMessage(`{"data":[]}`))

	raw, ok := c.get(key)
	require.True(t, ok)
	assert.JSONEq(t, `{"data":[]}`, string(raw))

	_, ok = c.get(cacheKey("a dog", Options{Size: "1024x1024"}))
	assert.False(t, ok, "different prompt must not hit")
	_, ok = c.get(cacheKey("a cat", Options{Size: "512x512"}))
	assert.False(t, ok, "different options must not hit")
}

func TestResponseCacheExpiry(t *testing.T) {
	t.Parallel()

	c := newResponseCache(time.Hour, 4)
	now := time.Now()
	c.now = func() time.Time { return now }

	key := cacheKey("a cat", Options{})
	c.put(key, json.RawMessage(`{}`))

	now = now.Add(59 * time.Minute)
	_, ok := c.get(key)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.get(key)
	assert.False(t, ok, "entry past TTL must expire")
	assert.Equal(t, 0, c.len(), "expired entry is dropped")
}

func TestResponseCacheBoundedSize(t *testing.T) {
	t.Parallel()

	c := newResponseCache(time.Hour, 3)
	now := time.Now()
	c.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		c.put(fmt.Sprintf("key-%d", i), json.RawMessage(`{}`))
	}

	assert.Equal(t, 3, c.len())
	_, ok := c.get("key-0")
	assert.False(t, ok, "oldest entries are evicted")
	_, ok = c.get("key-4")
	assert.True(t, ok, "newest entry survives")
}
