// internal/recognition/gemini.go
package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hoonseung2/aidietdiary/internal/config"
)

var (
	ErrRateLimited   = errors.New("recognition rate limited")
	ErrNotConfigured = errors.New("recognition client misconfigured")
)

// Recognizer turns one image into free text describing it.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, mimeType string) (string, error)
}

type GeminiClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	prompt     string
}

var _ Recognizer = (*GeminiClient)(nil)

func NewGeminiClient(cfg config.RecognitionConfig) *GeminiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	prompt := strings.TrimSpace(cfg.Prompt)
	if prompt == "" {
		prompt = config.DefaultPrompt
	}

	return &GeminiClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		prompt:   prompt,
	}
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Recognize sends the fixed instruction plus the image and returns the
// model's text. It makes exactly one request.
func (c *GeminiClient) Recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", ErrNotConfigured
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: c.prompt},
				{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	// A blocked or empty reply carries no candidates; it reads as no foods.
	if len(decoded.Candidates) == 0 {
		return "", nil
	}

	var texts []string
	for _, p := range decoded.Candidates[0].Content.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

func statusError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	var apiErr apiError
	_ = json.Unmarshal(payload, &apiErr)

	if resp.StatusCode == http.StatusTooManyRequests || apiErr.Error.Status == "RESOURCE_EXHAUSTED" {
		return fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(apiErr.Error.Message))
	}
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
}
