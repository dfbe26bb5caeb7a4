// Package anthropic implements the Anthropic messages API as a provider.
// Anthropic reports usage as input_tokens/output_tokens; this package
// normalizes to the canonical prompt/completion naming.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	defaultTimeout = 120 * time.Second

	// Anthropic requires max_tokens; use a generous default when the caller
	// did not set one.
	defaultMaxTokens = 8192
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client is an HTTP client for the Anthropic messages API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Anthropic provider client.
func New(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider id.
func (c *Client) Name() string { return "anthropic" }

// Complete sends a buffered messages request.
func (c *Client) Complete(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	apiReq := toAPIRequest(req)
	apiReq.Stream = false

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(resp.StatusCode, respBody)
	}

	var result messagesResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return toCanonicalResponse(&result), nil
}

// Stream sends a streaming messages request and returns canonical events.
func (c *Client) Stream(ctx context.Context, req *domain.Request) (<-chan domain.Event, error) {
	apiReq := toAPIRequest(req)
	apiReq.Stream = true

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, upstreamError(resp.StatusCode, respBody)
	}

	out := make(chan domain.Event)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("User-Agent", "reviewrelay/1.0")
}

// streamReader decodes the SSE event stream into canonical events. Usage
// arrives split across message_start (input) and message_delta (output);
// both halves are merged into one usage event at message_delta time.
func (c *Client) streamReader(ctx context.Context, body io.ReadCloser, out chan<- domain.Event) {
	defer close(out)
	defer body.Close()

	// Sends race against consumer abandonment: a caller that stops
	// receiving must not strand this goroutine on a blocked send.
	send := func(ev domain.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var currentEvent string
	var inputTokens int
	toolIndex := -1

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := []byte(strings.TrimPrefix(line, "data: "))

		switch currentEvent {
		case "message_start":
			var ev struct {
				Message struct {
					Usage struct {
						InputTokens int `json:"input_tokens"`
					} `json:"usage"`
				} `json:"message"`
			}
			if err := json.Unmarshal(data, &ev); err == nil {
				inputTokens = ev.Message.Usage.InputTokens
			}
			if !send(domain.Event{Role: "assistant"}) {
				return
			}

		case "content_block_start":
			var ev struct {
				Index        int `json:"index"`
				ContentBlock struct {
					Type string `json:"type"`
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"content_block"`
			}
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			if ev.ContentBlock.Type == "tool_use" {
				toolIndex++
				if !send(domain.Event{ToolCall: &domain.ToolCallChunk{
					Index: toolIndex,
					ID:    ev.ContentBlock.ID,
					Name:  ev.ContentBlock.Name,
				}}) {
					return
				}
			}

		case "content_block_delta":
			var ev struct {
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
				} `json:"delta"`
			}
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if !send(domain.Event{TextDelta: ev.Delta.Text}) {
					return
				}
			case "input_json_delta":
				if toolIndex >= 0 {
					if !send(domain.Event{ToolCall: &domain.ToolCallChunk{
						Index:     toolIndex,
						Arguments: ev.Delta.PartialJSON,
					}}) {
						return
					}
				}
			}

		case "message_delta":
			var ev struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
				Usage struct {
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			usage := domain.Usage{
				PromptTokens:     inputTokens,
				CompletionTokens: ev.Usage.OutputTokens,
			}.Normalize()
			if !send(domain.Event{
				FinishReason: mapStopReason(ev.Delta.StopReason),
				Usage:        &usage,
			}) {
				return
			}

		case "message_stop":
			return

		case "error":
			var ev struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(data, &ev); err == nil && ev.Error.Message != "" {
				send(domain.Event{Err: domain.ErrUpstream("anthropic: " + ev.Error.Message)})
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(domain.Event{Err: fmt.Errorf("stream read error: %w", err)})
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return domain.FinishToolCalls
	case "max_tokens":
		return domain.FinishLength
	case "":
		return ""
	default:
		return domain.FinishStop
	}
}

func upstreamError(status int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return domain.ErrUpstream("anthropic: " + errResp.Error.Message).WithUpstream(status, string(body))
	}
	return domain.ErrUpstream(fmt.Sprintf("anthropic returned status %d", status)).WithUpstream(status, string(body))
}
