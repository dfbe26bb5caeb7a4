package openaicompat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

// salvageFixture captures the exact shape the salvage path expects: a 200
// body whose message content is a parts array rather than a plain string,
// which trips the strict decoder.
const salvageFixture = `{
	"id": "cmpl-odd",
	"choices": [{
		"index": 0,
		"message": {
			"role": "assistant",
			"content": [
				{"type": "text", "text": "Salvaged "},
				{"type": "citation", "source": "doc-1"},
				{"type": "text", "text": "answer"}
			]
		},
		"finish_reason": "stop"
	}],
	"usage": {"input_tokens": 20, "output_tokens": 10}
}`

func TestSalvageResponse_Fixture(t *testing.T) {
	resp, ok := salvageResponse([]byte(salvageFixture))
	if !ok {
		t.Fatalf("salvageResponse() ok = false, want salvage to succeed")
	}
	if resp.Text != "Salvaged answer" {
		t.Errorf("salvaged text = %q", resp.Text)
	}
	if resp.Usage.PromptTokens != 20 || resp.Usage.CompletionTokens != 10 || resp.Usage.TotalTokens != 30 {
		t.Errorf("salvaged usage = %+v", resp.Usage)
	}
}

func TestSalvageResponse_RejectsUnusableBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>gateway error</html>"},
		{"no choices", `{"usage":{"prompt_tokens":1}}`},
		{"empty choices", `{"choices":[]}`},
		{"no content", `{"choices":[{"message":{"role":"assistant"}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := salvageResponse([]byte(tt.body)); ok {
				t.Errorf("salvageResponse() ok = true, want false")
			}
		})
	}
}

func TestComplete_SalvagesPartialResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, salvageFixture)
	}))
	defer srv.Close()

	c := New("openai", "k", srv.URL)
	resp, err := c.Complete(context.Background(), &domain.Request{Model: "m", Messages: []domain.Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("Complete() error = %v, want salvage to recover", err)
	}
	if resp.Text != "Salvaged answer" {
		t.Errorf("Complete() text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 30 {
		t.Errorf("Complete() usage = %+v", resp.Usage)
	}
}
