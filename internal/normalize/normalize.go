// Package normalize decodes the two inbound message shapes into the single
// canonical message list the provider clients consume. The transport shape
// carries ordered typed parts (text, tool-call, tool-result) as used by the
// streaming client exchange; the flat shape is plain role + string content.
// Shape resolution happens here, once, at the boundary.
package normalize

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

// Part is one typed element of a transport-shape message.
type Part struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Inbound is the wire message as received, before shape resolution. Content
// is raw because the flat shape sends a string where the transport shape may
// send nothing at all.
type Inbound struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
	Parts   []Part          `json:"parts,omitempty"`
}

// Messages converts inbound messages to the canonical list. Message order is
// preserved and no text-bearing part is dropped or duplicated. Messages that
// carry neither content nor any tool-related part are filtered out with a
// logged warning: at least one provider rejects history entries that provide
// nothing.
func Messages(raw []Inbound, logger *slog.Logger) []domain.Message {
	out := make([]domain.Message, 0, len(raw))
	for i, msg := range raw {
		converted := convert(msg)
		kept := false
		for _, m := range converted {
			if m.Content == "" && len(m.ToolCalls) == 0 && m.ToolCallID == "" {
				continue
			}
			out = append(out, m)
			kept = true
		}
		if !kept {
			logger.Warn("dropping structurally empty message",
				slog.Int("index", i),
				slog.String("role", msg.Role),
			)
		}
	}
	return out
}

// convert resolves one inbound message. A transport-shape message can expand
// into several canonical messages: the text/tool-call content stays on the
// original role, while each tool-result part becomes its own tool message so
// providers see results in the position their contracts require.
func convert(msg Inbound) []domain.Message {
	if len(msg.Parts) == 0 {
		return []domain.Message{{Role: msg.Role, Content: contentString(msg.Content)}}
	}

	main := domain.Message{Role: msg.Role}
	var results []domain.Message
	var text strings.Builder
	for _, p := range msg.Parts {
		switch p.Type {
		case "text":
			text.WriteString(p.Text)
		case "tool-call", "tool-invocation":
			main.ToolCalls = append(main.ToolCalls, domain.ToolCall{
				ID:        p.ToolCallID,
				Name:      p.ToolName,
				Arguments: string(p.Args),
			})
		case "tool-result":
			results = append(results, domain.Message{
				Role:       "tool",
				ToolCallID: p.ToolCallID,
				Content:    rawToString(p.Result),
			})
		default:
			// Unknown part types (images, reasoning, step markers) carry no
			// plain text to reconstruct; skip them.
		}
	}
	main.Content = text.String()
	return append([]domain.Message{main}, results...)
}

// contentString decodes a raw content field that is normally a JSON string.
// Content sent as an array of text parts is flattened the same way the
// transport shape is.
func contentString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []Part
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return string(raw)
}

// rawToString renders a tool result payload as the string the model sees.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// TextOf returns the plain text of inbound messages, in order, for purposes
// like PR-URL scanning.
func TextOf(raw []Inbound) []string {
	texts := make([]string, 0, len(raw))
	for _, msg := range raw {
		if len(msg.Parts) > 0 {
			var b strings.Builder
			for _, p := range msg.Parts {
				if p.Type == "text" {
					b.WriteString(p.Text)
				}
			}
			texts = append(texts, b.String())
			continue
		}
		texts = append(texts, contentString(msg.Content))
	}
	return texts
}
