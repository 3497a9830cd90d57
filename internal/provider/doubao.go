package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/1905060202/image-ai-processor/internal/config"
)

const doubaoGenerationsPath = "/api/v3/images/generations"

// DoubaoClient calls the doubao images API (OpenAI Images compatible). It
// performs a single attempt per call and surfaces the raw upstream error for
// classification; retrying is the caller's decision.
type DoubaoClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	defaultSize  string
	httpClient   *http.Client
	sem          limiter
	log          *slog.Logger
}

func NewDoubaoClient(cfg config.Config, log *slog.Logger) *DoubaoClient {
	timeout := cfg.DoubaoTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &DoubaoClient{
		apiKey:       cfg.DoubaoAPIKey,
		baseURL:      strings.TrimRight(cfg.DoubaoBaseURL, "/"),
		defaultModel: cfg.DoubaoModel,
		defaultSize:  cfg.DoubaoSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		sem: newLimiter(cfg.DoubaoConcurrency),
		log: log,
	}
}

func (c *DoubaoClient) Generate(ctx context.Context, prompt string, opts Options) (*Payload, error) {
	model, err := c.resolveModel(opts)
	if err != nil {
		return nil, err
	}
	n := opts.N
	if n <= 0 {
		n = 1
	}
	body := map[string]any{
		"model":           model,
		"prompt":          prompt,
		"size":            c.resolveSize(opts),
		"n":               n,
		"response_format": "b64_json",
	}
	return c.post(ctx, body)
}

// GenerateFromImages sends the first input image as a data URL on the unified
// generations endpoint.
func (c *DoubaoClient) GenerateFromImages(ctx context.Context, images []string, prompt string, opts Options) (*Payload, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no input images")
	}
	model, err := c.resolveModel(opts)
	if err != nil {
		return nil, err
	}
	mime := opts.Mime
	if mime == "" {
		mime = "image/jpeg"
	}
	body := map[string]any{
		"model":                       model,
		"prompt":                      prompt,
		"size":                        c.resolveSize(opts),
		"response_format":             "b64_json",
		"stream":                      false,
		"watermark":                   true,
		"sequential_image_generation": "disabled",
		"image":                       fmt.Sprintf("data:%s;base64,%s", mime, images[0]),
	}
	return c.post(ctx, body)
}

func (c *DoubaoClient) resolveModel(opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return "", ConfigMissing("doubao model id is not configured; set DOUBAO_IMAGE_MODEL")
	}
	return model, nil
}

func (c *DoubaoClient) resolveSize(opts Options) string {
	if opts.Size != "" {
		return opts.Size
	}
	if c.defaultSize != "" {
		return c.defaultSize
	}
	return "1024x1024"
}

func (c *DoubaoClient) post(ctx context.Context, body map[string]any) (*Payload, error) {
	if err := c.sem.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.sem.release()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	url := c.baseURL + doubaoGenerationsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("doubao request failed", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable("read doubao response", err)
	}

	if resp.StatusCode >= 300 {
		code, message, requestID := parseDoubaoError(rawBody)
		c.log.Error("doubao call failed", "status", resp.StatusCode, "code", code, "request_id", requestID, "body", truncateBody(rawBody))
		return nil, classifyStatus(resp.StatusCode, code, message, requestID, rawBody)
	}

	return &Payload{Raw: rawBody}, nil
}

func parseDoubaoError(body []byte) (code, message, requestID string) {
	var apiErr struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return "", "", ""
	}
	requestID = apiErr.Error.RequestID
	if requestID == "" {
		requestID = apiErr.RequestID
	}
	return apiErr.Error.Code, apiErr.Error.Message, requestID
}
