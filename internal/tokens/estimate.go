// Package tokens estimates token counts for requests whose provider did not
// report usage. OpenAI-family models are counted with tiktoken; everything
// else falls back to a characters-per-token heuristic.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

// fallbackCharsPerToken is a reasonable average for most models.
const fallbackCharsPerToken = 4

// Estimator counts tokens. Safe for concurrent use.
type Estimator struct {
	mu    sync.Mutex
	codec tokenizer.Codec
}

// NewEstimator creates an estimator. The tiktoken codec is resolved lazily on
// first use so construction never fails.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// EstimateUsage approximates usage for a request/response pair. It is only
// consulted when the upstream omitted usage; the result is marked by the
// caller as an estimate, not authoritative billing data.
func (e *Estimator) EstimateUsage(model string, req *domain.Request, responseText string) domain.Usage {
	var prompt strings.Builder
	if req.System != "" {
		prompt.WriteString(req.System)
		prompt.WriteString("\n")
	}
	for _, m := range req.Messages {
		prompt.WriteString(m.Role)
		prompt.WriteString(": ")
		prompt.WriteString(m.Content)
		prompt.WriteString("\n")
		for _, tc := range m.ToolCalls {
			prompt.WriteString(tc.Name)
			prompt.WriteString(tc.Arguments)
		}
	}
	for _, tool := range req.Tools {
		prompt.WriteString(tool.Name)
		prompt.WriteString(tool.Description)
	}

	u := domain.Usage{
		PromptTokens:     e.Count(model, prompt.String()),
		CompletionTokens: e.Count(model, responseText),
	}
	return u.Normalize()
}

// Count returns the token count of text for the given model.
func (e *Estimator) Count(model, text string) int {
	if text == "" {
		return 0
	}
	if isOpenAIFamily(model) {
		if codec := e.getCodec(); codec != nil {
			if ids, _, err := codec.Encode(text); err == nil {
				return len(ids)
			}
		}
	}
	return (len(text) + fallbackCharsPerToken - 1) / fallbackCharsPerToken
}

func (e *Estimator) getCodec() tokenizer.Codec {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.codec == nil {
		// o200k_base covers the gpt-4o and later families; close enough for
		// the older ones given this is an estimate path.
		codec, err := tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			return nil
		}
		e.codec = codec
	}
	return e.codec
}

func isOpenAIFamily(model string) bool {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "chatgpt"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
