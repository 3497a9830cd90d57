package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	ListenAddr string
	MySQLDSN   string
	JWTSecret  string
	TokenTTL   time.Duration

	// Doubao (images-API-style upstream, OpenAI Images compatible).
	DoubaoAPIKey      string
	DoubaoBaseURL     string
	DoubaoModel       string
	DoubaoModel45     string
	DoubaoSize        string
	DoubaoConcurrency int
	DoubaoTimeout     time.Duration

	// Nano Banana (chat-completion-style upstream).
	NanoBananaAPIKey      string
	NanoBananaBaseURL     string
	NanoBananaModel       string
	NanoBananaConcurrency int
	NanoBananaTimeout     time.Duration
	NanoBananaRetries     int

	DefaultProvider string

	CacheTTL     time.Duration
	CacheMaxSize int

	FreeTextToImageLimit int
	TextToImageCost      int
	ImageToImageCost     int

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		TokenTTL:   time.Hour * time.Duration(getInt("TOKEN_TTL_HOURS", 24)),

		DoubaoBaseURL:     getEnv("DOUBAO_BASE_URL", "https://ark.cn-beijing.volces.com"),
		DoubaoModel:       os.Getenv("DOUBAO_IMAGE_MODEL"),
		DoubaoModel45:     os.Getenv("DOUBAO_IMAGE_MODEL_4_5"),
		DoubaoSize:        getEnv("DOUBAO_IMAGE_SIZE", "1024x1024"),
		DoubaoConcurrency: getInt("DOUBAO_CONCURRENCY", 5),
		DoubaoTimeout:     time.Second * time.Duration(getInt("DOUBAO_TIMEOUT_SECONDS", 60)),

		NanoBananaBaseURL:     getEnv("NANO_BANANA_BASE_URL", "https://api.laozhang.ai"),
		NanoBananaModel:       getEnv("NANO_BANANA_MODEL", "gemini-2.5-flash-image-preview"),
		NanoBananaConcurrency: getInt("NANO_BANANA_CONCURRENCY", 10),
		NanoBananaTimeout:     time.Second * time.Duration(getInt("NANO_BANANA_TIMEOUT_SECONDS", 30)),
		NanoBananaRetries:     getInt("NANO_BANANA_RETRIES", 3),

		DefaultProvider: strings.ToLower(getEnv("IMAGE_PROVIDER", "nano-banana")),

		CacheTTL:     time.Minute * time.Duration(getInt("RESPONSE_CACHE_TTL_MINUTES", 60)),
		CacheMaxSize: getInt("RESPONSE_CACHE_MAX_SIZE", 128),

		FreeTextToImageLimit: getInt("FREE_TEXT_TO_IMAGE_LIMIT", 5),
		TextToImageCost:      getInt("TEXT_TO_IMAGE_COST", 10),
		ImageToImageCost:     getInt("IMAGE_TO_IMAGE_COST", 5),

		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "generated"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.DoubaoAPIKey = os.Getenv("DOUBAO_API_KEY")
	cfg.NanoBananaAPIKey = os.Getenv("NANO_BANANA_API_KEY")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.NanoBananaAPIKey == "" && cfg.DoubaoAPIKey == "" {
		missing = append(missing, "NANO_BANANA_API_KEY or DOUBAO_API_KEY")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running without an env file is fine when the environment is already populated.
	return nil
}
