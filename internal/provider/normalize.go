package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// minImageBytes guards against providers returning an error message or refusal
// text where image content was expected.
const minImageBytes = 100

// maxFetchBytes caps secondary downloads of generated images.
const maxFetchBytes = 32 << 20

var dataImageRe = regexp.MustCompile(`data:image/([^;]+);base64,([A-Za-z0-9+/=]+)`)

// generationPayload is the union of the supported upstream response shapes:
// an images-API list with b64_json or url entries, or a chat completion whose
// message content embeds the image.
type generationPayload struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Normalizer extracts a single image buffer and its format from any supported
// raw payload shape.
type Normalizer struct {
	httpClient *http.Client
}

func NewNormalizer(httpClient *http.Client) *Normalizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Normalizer{httpClient: httpClient}
}

// Normalize resolves the payload against the supported shapes in precedence
// order: inline base64 image, image URL, chat content with an embedded data
// URI, chat content that is itself a URL.
func (n *Normalizer) Normalize(ctx context.Context, payload *Payload) ([]byte, string, error) {
	var parsed generationPayload
	if err := json.Unmarshal(payload.Raw, &parsed); err != nil {
		return nil, "", Unparseable("response is not valid JSON", string(payload.Raw))
	}

	data, format, err := n.extract(ctx, &parsed)
	if err != nil {
		return nil, "", err
	}
	if len(data) < minImageBytes {
		return nil, "", Unparseable(
			fmt.Sprintf("image content too small (%d bytes)", len(data)),
			chatContent(&parsed),
		)
	}
	return data, format, nil
}

func (n *Normalizer) extract(ctx context.Context, parsed *generationPayload) ([]byte, string, error) {
	if len(parsed.Data) > 0 {
		entry := parsed.Data[0]
		if entry.B64JSON != "" {
			data, err := base64.StdEncoding.DecodeString(entry.B64JSON)
			if err != nil {
				return nil, "", Unparseable("invalid base64 image data", entry.B64JSON)
			}
			return data, "png", nil
		}
		if entry.URL != "" {
			return n.fetch(ctx, entry.URL)
		}
	}

	if content := chatContent(parsed); content != "" {
		if match := dataImageRe.FindStringSubmatch(content); match != nil {
			data, err := base64.StdEncoding.DecodeString(match[2])
			if err != nil {
				return nil, "", Unparseable("invalid base64 data in chat content", content)
			}
			return data, match[1], nil
		}
		if strings.HasPrefix(content, "http") {
			return n.fetch(ctx, strings.TrimSpace(content))
		}
		return nil, "", Unparseable("chat content carries no image", content)
	}

	return nil, "", Unparseable("no supported image shape in response", "")
}

func (n *Normalizer) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", Unparseable("invalid image url", url)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, "", Unparseable("fetch generated image: "+err.Error(), url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", Unparseable(fmt.Sprintf("fetch generated image: status %d", resp.StatusCode), url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", Unparseable("read generated image: "+err.Error(), url)
	}
	return data, formatFromContentType(resp.Header.Get("Content-Type")), nil
}

func formatFromContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}

func chatContent(parsed *generationPayload) string {
	if len(parsed.Choices) == 0 {
		return ""
	}
	return parsed.Choices[0].Message.Content
}
