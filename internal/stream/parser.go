package stream

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

// linePrefix matches the frame-code framing ("0:", "12:") at the start of a
// line. The event-stream framing ("data: ") is recognized separately.
var linePrefix = regexp.MustCompile(`^[0-9a-f]{1,2}:`)

// Parser incrementally reconstructs text and usage from wire-format bytes.
// Chunks may split anywhere, including mid-line and mid-rune: bytes are
// buffered until a newline completes a line, so multi-byte characters are
// never decoded across a chunk boundary. Malformed lines are discarded
// without aborting.
type Parser struct {
	pending []byte
	text    strings.Builder
	usage   *domain.Usage
}

// NewParser creates an empty parser. Lifetime is one stream.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes the next chunk, processing every complete line and keeping
// the trailing partial line for the next call.
func (p *Parser) Feed(chunk []byte) {
	p.pending = append(p.pending, chunk...)
	for {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			return
		}
		line := p.pending[:i]
		p.pending = p.pending[i+1:]
		p.parseLine(line)
	}
}

// Flush processes the trailing partial line. Call once, at end of stream.
func (p *Parser) Flush() {
	if len(p.pending) > 0 {
		p.parseLine(p.pending)
		p.pending = nil
	}
}

// Text returns the accumulated response text.
func (p *Parser) Text() string {
	return p.text.String()
}

// Usage returns the last-seen usage totals, nil until a finish event with
// usage has arrived.
func (p *Parser) Usage() *domain.Usage {
	return p.usage
}

// wirePayload is the superset of fields any frame may carry, with usage
// token counts accepted under both naming conventions providers use.
type wirePayload struct {
	Type      string     `json:"type"`
	TextDelta string     `json:"textDelta"`
	Text      string     `json:"text"`
	Usage     *wireUsage `json:"usage"`
}

type wireUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	InputTokens      int `json:"inputTokens"`
	OutputTokens     int `json:"outputTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (p *Parser) parseLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}

	var body []byte
	switch {
	case bytes.HasPrefix(line, []byte("data: ")):
		body = bytes.TrimPrefix(line, []byte("data: "))
	case bytes.HasPrefix(line, []byte("data:")):
		body = bytes.TrimPrefix(line, []byte("data:"))
	case bytes.HasPrefix(line, []byte("event:")):
		return
	default:
		loc := linePrefix.FindIndex(line)
		if loc == nil {
			return // not a recognized framing; discard
		}
		body = line[loc[1]:]
	}

	if bytes.Equal(bytes.TrimSpace(body), []byte("[DONE]")) {
		return
	}

	var payload wirePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return // malformed JSON must never abort the stream
	}

	switch payload.Type {
	case typeTextDelta:
		p.text.WriteString(payload.TextDelta)
	case typeFullText:
		// Wholesale replacement of everything accumulated so far; deltas
		// that follow append to the replaced text.
		p.text.Reset()
		p.text.WriteString(payload.Text)
	}

	if payload.Usage != nil {
		u := domain.Usage{
			PromptTokens:     firstNonZero(payload.Usage.PromptTokens, payload.Usage.InputTokens),
			CompletionTokens: firstNonZero(payload.Usage.CompletionTokens, payload.Usage.OutputTokens),
			TotalTokens:      payload.Usage.TotalTokens,
		}.Normalize()
		p.usage = &u
	}
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
