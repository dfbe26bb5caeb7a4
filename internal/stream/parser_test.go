package stream

import (
	"testing"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

func feedAll(t *testing.T, chunks []string) *Parser {
	t.Helper()
	p := NewParser()
	for _, c := range chunks {
		p.Feed([]byte(c))
	}
	p.Flush()
	return p
}

func TestParserChunkBoundarySplit(t *testing.T) {
	// The same logical line split across chunks must parse identically to
	// receiving it whole.
	split := feedAll(t, []string{`0:{"type":"text-delta","textDelta":"Hel`, "lo\"}\n"})
	whole := feedAll(t, []string{"0:{\"type\":\"text-delta\",\"textDelta\":\"Hello\"}\n"})

	if got := split.Text(); got != "Hello" {
		t.Fatalf("split text = %q, want %q", got, "Hello")
	}
	if split.Text() != whole.Text() {
		t.Fatalf("split parse %q differs from whole parse %q", split.Text(), whole.Text())
	}
}

func TestParserAccumulatesDeltas(t *testing.T) {
	p := feedAll(t, []string{
		"0:{\"type\":\"text-delta\",\"textDelta\":\"one \"}\n",
		"0:{\"type\":\"text-delta\",\"textDelta\":\"two \"}\n",
		"0:{\"type\":\"text-delta\",\"textDelta\":\"three\"}\n",
	})
	if got := p.Text(); got != "one two three" {
		t.Fatalf("text = %q, want %q", got, "one two three")
	}
}

func TestParserFullTextReplacesDeltas(t *testing.T) {
	p := feedAll(t, []string{
		"0:{\"type\":\"text-delta\",\"textDelta\":\"partial\"}\n",
		"2:{\"type\":\"text\",\"text\":\"the complete answer\"}\n",
	})
	if got := p.Text(); got != "the complete answer" {
		t.Fatalf("text = %q, want full replacement", got)
	}
}

func TestParserDeltaAfterFullTextAppendsToReplacement(t *testing.T) {
	// Replacement discards earlier deltas for good; later deltas build on
	// the replaced text, never on the discarded prefix.
	p := feedAll(t, []string{
		"0:{\"type\":\"text-delta\",\"textDelta\":\"old\"}\n",
		"2:{\"type\":\"text\",\"text\":\"REPLACED\"}\n",
		"0:{\"type\":\"text-delta\",\"textDelta\":\"+more\"}\n",
	})
	if got := p.Text(); got != "REPLACED+more" {
		t.Fatalf("text = %q, want %q", got, "REPLACED+more")
	}
}

func TestParserMalformedLinesIgnored(t *testing.T) {
	p := feedAll(t, []string{
		"0:{\"type\":\"text-delta\",\"textDelta\":\"a\"}\n",
		"garbage that is not a frame\n",
		"0:{broken json\n",
		"\n",
		"0:{\"type\":\"text-delta\",\"textDelta\":\"b\"}\n",
	})
	if got := p.Text(); got != "ab" {
		t.Fatalf("text = %q, want %q", got, "ab")
	}
}

func TestParserSSEFraming(t *testing.T) {
	p := feedAll(t, []string{
		"event: message\n",
		"data: {\"type\":\"text-delta\",\"textDelta\":\"hi\"}\n",
		"data: [DONE]\n",
	})
	if got := p.Text(); got != "hi" {
		t.Fatalf("text = %q, want %q", got, "hi")
	}
}

func TestParserTrailingLineWithoutNewline(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("0:{\"type\":\"text-delta\",\"textDelta\":\"tail\"}"))
	if got := p.Text(); got != "" {
		t.Fatalf("text before flush = %q, want empty", got)
	}
	p.Flush()
	if got := p.Text(); got != "tail" {
		t.Fatalf("text after flush = %q, want %q", got, "tail")
	}
}

func TestParserUsageNormalization(t *testing.T) {
	tests := []struct {
		name string
		line string
		want domain.Usage
	}{
		{
			name: "prompt completion naming",
			line: "12:{\"type\":\"finish\",\"finishReason\":\"stop\",\"usage\":{\"promptTokens\":10,\"completionTokens\":5}}\n",
			want: domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
		{
			name: "input output naming",
			line: "12:{\"type\":\"finish\",\"finishReason\":\"stop\",\"usage\":{\"inputTokens\":8,\"outputTokens\":3}}\n",
			want: domain.Usage{PromptTokens: 8, CompletionTokens: 3, TotalTokens: 11},
		},
		{
			name: "total provided",
			line: "12:{\"type\":\"finish\",\"finishReason\":\"stop\",\"usage\":{\"promptTokens\":2,\"completionTokens\":2,\"totalTokens\":4}}\n",
			want: domain.Usage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := feedAll(t, []string{tt.line})
			got := p.Usage()
			if got == nil {
				t.Fatal("usage is nil")
			}
			if *got != tt.want {
				t.Fatalf("usage = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParserNoUsageStaysNil(t *testing.T) {
	p := feedAll(t, []string{"0:{\"type\":\"text-delta\",\"textDelta\":\"x\"}\n"})
	if p.Usage() != nil {
		t.Fatalf("usage = %+v, want nil", p.Usage())
	}
}
