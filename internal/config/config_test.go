package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/images?parseTime=true")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("NANO_BANANA_API_KEY", "nb-key")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("S3_BUCKET", "artifacts")
	t.Setenv("S3_PUBLIC_BASE_URL", "https://cdn.test")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CONFIG_ENV_PATH", "does-not-exist.env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "https://ark.cn-beijing.volces.com", cfg.DoubaoBaseURL)
	assert.Equal(t, "https://api.laozhang.ai", cfg.NanoBananaBaseURL)
	assert.Equal(t, "gemini-2.5-flash-image-preview", cfg.NanoBananaModel)
	assert.Equal(t, 3, cfg.NanoBananaRetries)
	assert.Equal(t, "nano-banana", cfg.DefaultProvider)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 128, cfg.CacheMaxSize)
	assert.Equal(t, 5, cfg.FreeTextToImageLimit)
	assert.Equal(t, 10, cfg.TextToImageCost)
	assert.Equal(t, 5, cfg.ImageToImageCost)
	assert.Equal(t, "generated", cfg.S3Prefix)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CONFIG_ENV_PATH", "does-not-exist.env")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("IMAGE_PROVIDER", "Doubao")
	t.Setenv("FREE_TEXT_TO_IMAGE_LIMIT", "2")
	t.Setenv("NANO_BANANA_RETRIES", "5")
	t.Setenv("RESPONSE_CACHE_TTL_MINUTES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "doubao", cfg.DefaultProvider, "provider name is lowercased")
	assert.Equal(t, 2, cfg.FreeTextToImageLimit)
	assert.Equal(t, 5, cfg.NanoBananaRetries)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}

func TestLoadReportsAllMissingVariables(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CONFIG_ENV_PATH", "does-not-exist.env")
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_DSN")
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadRequiresAtLeastOneProviderKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CONFIG_ENV_PATH", "does-not-exist.env")
	t.Setenv("NANO_BANANA_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NANO_BANANA_API_KEY or DOUBAO_API_KEY")

	t.Setenv("DOUBAO_API_KEY", "db-key")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "db-key", cfg.DoubaoAPIKey)
}
