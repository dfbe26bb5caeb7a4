package stream

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

// Encoder writes wire-format frames to an output stream, flushing after
// every frame when the writer supports it so clients see deltas promptly.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

type flusher interface{ Flush() }

func (e *Encoder) emit(code string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "%s:%s\n", code, data); err != nil {
		return err
	}
	if f, ok := e.w.(flusher); ok {
		f.Flush()
	}
	return nil
}

type textDeltaFrame struct {
	Type      string `json:"type"`
	TextDelta string `json:"textDelta"`
}

type fullTextFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallFrame struct {
	Type       string          `json:"type"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

type toolResultFrame struct {
	Type       string `json:"type"`
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

type annotationFrame struct {
	Type  string       `json:"type"`
	Usage domain.Usage `json:"usage"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type finishFrame struct {
	Type         string        `json:"type"`
	FinishReason string        `json:"finishReason"`
	Usage        *domain.Usage `json:"usage,omitempty"`
}

// TextDelta emits an incremental text fragment.
func (e *Encoder) TextDelta(text string) error {
	return e.emit(frameTextDelta, textDeltaFrame{Type: typeTextDelta, TextDelta: text})
}

// FullText emits a wholesale replacement of all text so far.
func (e *Encoder) FullText(text string) error {
	return e.emit(frameFullText, fullTextFrame{Type: typeFullText, Text: text})
}

// ToolCall emits a completed tool call requested by the model.
func (e *Encoder) ToolCall(tc domain.ToolCall) error {
	args := json.RawMessage(tc.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return e.emit(frameToolCall, toolCallFrame{
		Type:       typeToolCall,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Args:       args,
	})
}

// ToolResult emits the server-side result of a tool call.
func (e *Encoder) ToolResult(toolCallID, result string) error {
	return e.emit(frameToolResult, toolResultFrame{
		Type:       typeToolResult,
		ToolCallID: toolCallID,
		Result:     result,
	})
}

// Annotation emits an out-of-band usage annotation for the final message.
func (e *Encoder) Annotation(usage domain.Usage) error {
	return e.emit(frameAnnotation, annotationFrame{Type: typeAnnotation, Usage: usage.Normalize()})
}

// Error emits an in-stream error frame.
func (e *Encoder) Error(message string) error {
	return e.emit(frameError, errorFrame{Type: typeError, Message: message})
}

// Finish emits the terminal frame with the finish reason and, when known,
// usage totals.
func (e *Encoder) Finish(reason string, usage *domain.Usage) error {
	frame := finishFrame{Type: typeFinish, FinishReason: reason}
	if usage != nil {
		u := usage.Normalize()
		frame.Usage = &u
	}
	return e.emit(frameFinish, frame)
}
