// Package openaicompat implements the chat-completions protocol shared by
// OpenAI and OpenAI-compatible endpoints (OpenRouter, Groq). One client
// serves every provider that speaks this wire format; only base URL, key and
// routing metadata differ.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

const defaultTimeout = 120 * time.Second

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithFallbackRouting enables attaching the request's fallback-model list as
// routing metadata. Only gateway-style endpoints understand it.
func WithFallbackRouting() ClientOption {
	return func(c *Client) {
		c.fallbackRouting = true
	}
}

// WithLogger sets the logger used for salvage warnings.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client is an HTTP client for one OpenAI-compatible endpoint.
type Client struct {
	name            string
	apiKey          string
	baseURL         string
	fallbackRouting bool
	httpClient      *http.Client
	logger          *slog.Logger
}

// New creates a client for the named provider.
func New(name, apiKey, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		name:       name,
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider id this client serves.
func (c *Client) Name() string { return c.name }

// Complete sends a buffered chat completion request.
func (c *Client) Complete(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	apiReq := c.toAPIRequest(req)
	apiReq.Stream = false

	respBody, status, err := c.post(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, upstreamError(c.name, status, respBody)
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		// Some endpoints return a 200 body that fails strict decoding while
		// still carrying usable text. Try to salvage before giving up.
		if salvaged, ok := salvageResponse(respBody); ok {
			c.logger.Warn("salvaged partial response from undecodable body",
				slog.String("provider", c.name),
				slog.Bool("decode_failed", err != nil),
			)
			salvaged.Model = req.Model
			return salvaged, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return nil, domain.ErrUpstream("response contained no choices").WithUpstream(status, string(respBody))
	}
	result.RawBody = respBody

	return toCanonicalResponse(&result), nil
}

// Stream sends a streaming chat completion request and returns a channel of
// canonical events. The channel is closed when the upstream stream ends.
func (c *Client) Stream(ctx context.Context, req *domain.Request) (<-chan domain.Event, error) {
	apiReq := c.toAPIRequest(req)
	apiReq.Stream = true
	apiReq.StreamOptions = &StreamOptions{IncludeUsage: true}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
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
		return nil, upstreamError(c.name, resp.StatusCode, respBody)
	}

	out := make(chan domain.Event)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

func (c *Client) post(ctx context.Context, apiReq *ChatCompletionRequest) ([]byte, int, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "reviewrelay/1.0")
}

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
	// Increase buffer size for potentially large chunks
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			send(domain.Event{Err: fmt.Errorf("failed to unmarshal chunk: %w", err)})
			return
		}

		for _, ev := range chunkEvents(&chunk) {
			if !send(ev) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(domain.Event{Err: fmt.Errorf("stream read error: %w", err)})
	}
}

// chunkEvents converts one wire chunk into canonical events.
func chunkEvents(chunk *ChatCompletionChunk) []domain.Event {
	var events []domain.Event
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		event := domain.Event{
			Role:         choice.Delta.Role,
			TextDelta:    choice.Delta.Content,
			FinishReason: mapFinishReason(choice.FinishReason),
		}
		if len(choice.Delta.ToolCalls) > 0 {
			tc := choice.Delta.ToolCalls[0]
			event.ToolCall = &domain.ToolCallChunk{
				Index: tc.Index,
				ID:    tc.ID,
			}
			if tc.Function != nil {
				event.ToolCall.Name = tc.Function.Name
				event.ToolCall.Arguments = tc.Function.Arguments
			}
		}
		events = append(events, event)
	}
	if chunk.Usage != nil {
		usage := domain.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}.Normalize()
		events = append(events, domain.Event{Usage: &usage})
	}
	return events
}

func (c *Client) toAPIRequest(req *domain.Request) *ChatCompletionRequest {
	messages := make([]ChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msg := ChatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, APIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: APIFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}

	apiReq := &ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		apiReq.Temperature = &req.Temperature
	}
	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Type: "function",
			Function: FunctionTool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if c.fallbackRouting && len(req.FallbackModels) > 0 {
		apiReq.Models = req.FallbackModels
	}
	return apiReq
}

func toCanonicalResponse(resp *ChatCompletionResponse) *domain.Response {
	choice := resp.Choices[0]
	out := &domain.Response{
		Model:        resp.Model,
		Text:         choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if resp.Usage != nil {
		out.Usage = domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}.Normalize()
	}
	return out
}

func mapFinishReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "tool_calls", "function_call":
		return domain.FinishToolCalls
	case "length", "max_tokens":
		return domain.FinishLength
	default:
		return domain.FinishStop
	}
}

func upstreamError(provider string, status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return domain.ErrUpstream(fmt.Sprintf("%s: %s", provider, errResp.Error.Message)).
			WithUpstream(status, string(body))
	}
	return domain.ErrUpstream(fmt.Sprintf("%s returned status %d", provider, status)).
		WithUpstream(status, string(body))
}
