package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/1905060202/image-ai-processor/internal/config"
)

const nanoBananaChatPath = "/v1/chat/completions"

// NanoBananaClient calls the nano-banana chat-completion upstream. Transient
// failures are retried with backoff; an exhausted image-to-image call degrades
// to a text-only call with the same prompt before giving up.
type NanoBananaClient struct {
	apiKey     string
	baseURL    string
	model      string
	retries    int
	httpClient *http.Client
	sem        limiter
	cache      *responseCache
	log        *slog.Logger

	// sleep is context-aware so backoff never outlives a cancelled request.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewNanoBananaClient(cfg config.Config, log *slog.Logger) *NanoBananaClient {
	timeout := cfg.NanoBananaTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.NanoBananaRetries
	if retries <= 0 {
		retries = 3
	}
	return &NanoBananaClient{
		apiKey:  cfg.NanoBananaAPIKey,
		baseURL: strings.TrimRight(cfg.NanoBananaBaseURL, "/"),
		model:   cfg.NanoBananaModel,
		retries: retries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		sem:   newLimiter(cfg.NanoBananaConcurrency),
		cache: newResponseCache(cfg.CacheTTL, cfg.CacheMaxSize),
		log:   log,
		sleep: sleepCtx,
	}
}

func (c *NanoBananaClient) Generate(ctx context.Context, prompt string, opts Options) (*Payload, error) {
	key := cacheKey(prompt, opts)
	if raw, ok := c.cache.get(key); ok {
		return &Payload{Raw: raw, Cached: true}, nil
	}

	body := c.chatBody([]map[string]any{
		{"type": "text", "text": prompt},
	}, opts)
	payload, err := c.doWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}
	c.cache.put(key, payload.Raw)
	return payload, nil
}

// GenerateFromImages attaches every input image as a data URL after the text
// prompt. When the edit call exhausts its retries the client falls back to a
// plain text-to-image call; only a failure of that fallback is surfaced.
func (c *NanoBananaClient) GenerateFromImages(ctx context.Context, images []string, prompt string, opts Options) (*Payload, error) {
	mime := opts.Mime
	if mime == "" {
		mime = "image/jpeg"
	}
	content := []map[string]any{
		{"type": "text", "text": prompt},
	}
	for _, image := range images {
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": fmt.Sprintf("data:%s;base64,%s", mime, image),
			},
		})
	}

	payload, err := c.doWithRetry(ctx, c.chatBody(content, opts))
	if err == nil {
		return payload, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	c.log.Warn("image-to-image call failed, falling back to text-only generation", "err", err)
	return c.Generate(ctx, prompt, opts)
}

func (c *NanoBananaClient) chatBody(content []map[string]any, opts Options) map[string]any {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	return map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
		"stream": false,
	}
}

// doWithRetry attempts the call up to the configured budget. 429 responses
// honor the upstream Retry-After; other transient failures back off
// exponentially (1s, 2s, 4s). Non-transient failures stop the loop at once.
func (c *NanoBananaClient) doWithRetry(ctx context.Context, body map[string]any) (*Payload, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		payload, err := c.post(ctx, body)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		uerr, ok := AsError(err)
		if !ok || !uerr.Retryable() {
			return nil, err
		}
		if attempt == c.retries-1 {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		if uerr.Status == http.StatusTooManyRequests && uerr.RetryAfter > 0 {
			delay = uerr.RetryAfter
		}
		c.log.Info("retrying nano-banana call", "attempt", attempt+1, "delay", delay, "err", err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *NanoBananaClient) post(ctx context.Context, body map[string]any) (*Payload, error) {
	if err := c.sem.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.sem.release()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	url := c.baseURL + nanoBananaChatPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("nano-banana request failed", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable("read nano-banana response", err)
	}

	if resp.StatusCode >= 300 {
		code, message := parseChatError(rawBody)
		cerr := classifyStatus(resp.StatusCode, code, message, "", rawBody)
		cerr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		c.log.Error("nano-banana call failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return nil, cerr
	}

	return &Payload{Raw: rawBody}, nil
}

func parseChatError(body []byte) (code, message string) {
	var apiErr struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return "", ""
	}
	return apiErr.Error.Code, apiErr.Error.Message
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
