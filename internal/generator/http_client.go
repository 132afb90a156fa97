package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storyreel/internal/config"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 30 * time.Second

	scenePrompt = `You are a movie clip generator. Produce a JSON object with two
fields: "content", the generated clip description, and "caption", a short
natural-language caption for the clip. Respond with JSON only.`
)

// HTTPClient talks to an OpenAI-compatible chat completion endpoint. Both
// the openai and anthropic backends are reached through this adapter with
// provider-specific headers.
type HTTPClient struct {
	provider   Provider
	cfg        config.Provider
	httpClient *http.Client
}

// HTTPOption customizes the adapter.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client, useful for tests.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewHTTPClient constructs an adapter for one configured provider.
func NewHTTPClient(provider Provider, cfg config.Provider, opts ...HTTPOption) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s provider: api key required", provider)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%s provider: base url required", provider)
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &HTTPClient{
		provider:   provider,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate issues one completion request and classifies any failure.
func (c *HTTPClient) Generate(ctx context.Context, prompt string) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, c.permanent("scene prompt required", nil)
	}

	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: scenePrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.7,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Result{}, c.permanent("encode request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return Result{}, c.permanent("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch c.provider {
	case ProviderAnthropic:
		req.Header.Set("x-api-key", c.cfg.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, c.transient("read response body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Result{}, c.classifyStatus(resp, body)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return Result{}, c.transient("decode response", err)
	}
	if completion.Error != nil {
		return Result{}, c.permanent("api error: "+strings.TrimSpace(completion.Error.Message), nil)
	}

	content := extractContent(completion)
	if content == "" {
		if refusal := extractRefusal(completion); refusal != "" {
			return Result{}, c.permanent("provider refused prompt: "+refusal, nil)
		}
		return Result{}, c.transient("empty completion content", nil)
	}

	var parsed struct {
		Content string `json:"content"`
		Caption string `json:"caption"`
	}
	if err := decodeModelJSON(content, &parsed); err != nil {
		return Result{}, c.transient("parse completion payload", err)
	}
	if strings.TrimSpace(parsed.Content) == "" {
		// Model ignored the schema; keep the raw content rather than failing.
		parsed.Content = content
	}
	return Result{
		Content: strings.TrimSpace(parsed.Content),
		Caption: strings.TrimSpace(parsed.Caption),
	}, nil
}

func (c *HTTPClient) classifyStatus(resp *http.Response, body []byte) error {
	message := strings.TrimSpace(string(body))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &ProviderError{
			Provider:   c.provider,
			Kind:       KindThrottled,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Message:    message,
		}
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode >= http.StatusInternalServerError:
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &ProviderError{
			Provider:   c.provider,
			Kind:       KindTransient,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Message:    message,
		}
	default:
		return &ProviderError{
			Provider:   c.provider,
			Kind:       KindPermanent,
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}
}

func (c *HTTPClient) classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.transient("request timed out", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.transient("request failed", err)
	}
	return c.transient("request failed", err)
}

func (c *HTTPClient) transient(message string, err error) error {
	return &ProviderError{Provider: c.provider, Kind: KindTransient, Message: message, Err: err}
}

func (c *HTTPClient) permanent(message string, err error) error {
	return &ProviderError{Provider: c.provider, Kind: KindPermanent, Message: message, Err: err}
}

func extractContent(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content
		}
	}
	return ""
}

func extractRefusal(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
			return refusal
		}
	}
	return ""
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// decodeModelJSON decodes JSON from a model response, tolerating code fences
// and surrounding prose.
func decodeModelJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return directErr
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return err
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
		body = strings.TrimLeft(body, " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
