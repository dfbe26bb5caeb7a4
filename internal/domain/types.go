package domain

// Message is the canonical chat message consumed by provider clients.
// Transport-shape (parts array) and flat-shape inputs are both decoded into
// this one type at the boundary; nothing deeper in the pipeline inspects shapes.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a fully assembled tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON
}

// ToolDefinition declares a tool the model may call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request is the canonical completion request handed to a provider.
type Request struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Stream      bool             `json:"stream"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`

	// FallbackModels is gateway-style routing metadata: an ordered list of
	// models the upstream may substitute if the primary model fails. Only the
	// openrouter provider consumes this; other providers ignore it.
	FallbackModels []string `json:"fallback_models,omitempty"`
}

// Usage represents token usage for one completed generation.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Normalize fills in TotalTokens when the provider omitted it.
func (u Usage) Normalize() Usage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// IsZero reports whether no token counts were recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// FinishReason values a provider may report for a completed turn.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool-calls"
	FinishLength    = "length"
)

// Response is a complete buffered completion.
type Response struct {
	Model        string     `json:"model"`
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
}

// ToolCallChunk is a partial tool call fragment from a streaming response.
// Arguments arrive as incremental JSON fragments keyed by Index.
type ToolCallChunk struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Event is one streaming event from a provider.
type Event struct {
	Role         string         // e.g. "assistant"
	TextDelta    string         // incremental text fragment
	ToolCall     *ToolCallChunk // partial tool call data
	FinishReason string         // set on the final content event of a turn
	Usage        *Usage         // final event often carries token counts
	Err          error          // in-stream errors
}
