package openaicompat

import (
	"encoding/json"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

// salvageResponse attempts to recover text and usage from a 200 response body
// that failed strict decoding. Some upstreams return bodies that trip schema
// validation (citation blocks, vendor extensions) while still carrying a
// perfectly usable message. This is deliberately a narrow adapter over a
// loose document walk: if the expected shape stops matching after an upstream
// change, the caller logs loudly and the original decode error surfaces.
func salvageResponse(body []byte) (*domain.Response, bool) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false
	}

	text, ok := salvageText(doc)
	if !ok || text == "" {
		return nil, false
	}

	resp := &domain.Response{
		Text:         text,
		FinishReason: domain.FinishStop,
	}
	if usage, ok := salvageUsage(doc); ok {
		resp.Usage = usage
	}
	return resp, true
}

func salvageText(doc map[string]any) (string, bool) {
	choices, ok := doc["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}

	switch content := message["content"].(type) {
	case string:
		return content, true
	case []any:
		// Content may be a parts array; concatenate the text-typed parts.
		var text string
		for _, part := range content {
			p, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := p["text"].(string); ok {
				text += s
			}
		}
		return text, text != ""
	}
	return "", false
}

func salvageUsage(doc map[string]any) (domain.Usage, bool) {
	usage, ok := doc["usage"].(map[string]any)
	if !ok {
		return domain.Usage{}, false
	}

	num := func(keys ...string) int {
		for _, k := range keys {
			if v, ok := usage[k].(float64); ok {
				return int(v)
			}
		}
		return 0
	}

	u := domain.Usage{
		PromptTokens:     num("prompt_tokens", "input_tokens"),
		CompletionTokens: num("completion_tokens", "output_tokens"),
		TotalTokens:      num("total_tokens"),
	}
	if u.IsZero() {
		return domain.Usage{}, false
	}
	return u.Normalize(), true
}
