package orchestrate

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reviewrelay/reviewrelay/internal/domain"
	"github.com/reviewrelay/reviewrelay/internal/stream"
	"github.com/reviewrelay/reviewrelay/internal/tools"
)

func TestRunStreamEmitsDeltasAndFinish(t *testing.T) {
	prov := &scriptedProvider{events: [][]domain.Event{{
		{TextDelta: "Hel"},
		{TextDelta: "lo"},
		{FinishReason: domain.FinishStop, Usage: &domain.Usage{PromptTokens: 4, CompletionTokens: 2}},
	}}}
	o, _ := newTestOrchestrator(prov, nil)

	var buf bytes.Buffer
	if err := o.RunStream(context.Background(), &buf, userTask()); err != nil {
		t.Fatalf("RunStream: %v", err)
	}

	p := stream.NewParser()
	p.Feed(buf.Bytes())
	p.Flush()
	if got := p.Text(); got != "Hello" {
		t.Fatalf("reconstructed text = %q", got)
	}
	u := p.Usage()
	if u == nil || u.TotalTokens != 6 {
		t.Fatalf("reconstructed usage = %+v, want total 6", u)
	}
}

func TestRunStreamToolLoopInline(t *testing.T) {
	prov := &scriptedProvider{events: [][]domain.Event{
		{
			{ToolCall: &domain.ToolCallChunk{Index: 0, ID: "call_9", Name: "lookup"}},
			{ToolCall: &domain.ToolCallChunk{Index: 0, Arguments: `{"q":`}},
			{ToolCall: &domain.ToolCallChunk{Index: 0, Arguments: `"x"}`}},
			{FinishReason: domain.FinishToolCalls},
		},
		{
			{TextDelta: "found it"},
			{FinishReason: domain.FinishStop, Usage: &domain.Usage{PromptTokens: 8, CompletionTokens: 2}},
		},
	}}
	o, _ := newTestOrchestrator(prov, nil)

	var gotArgs string
	task := userTask()
	task.Tools = tools.NewSet(tools.Tool{
		Name: "lookup",
		Execute: func(_ context.Context, args string) string {
			gotArgs = args
			return "result!"
		},
	})

	var buf bytes.Buffer
	if err := o.RunStream(context.Background(), &buf, task); err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	out := buf.String()

	if gotArgs != `{"q":"x"}` {
		t.Fatalf("assembled tool args = %q", gotArgs)
	}
	if !strings.Contains(out, "9:") || !strings.Contains(out, `"call_9"`) {
		t.Fatalf("no tool-call frame in output:\n%s", out)
	}
	if !strings.Contains(out, "10:") || !strings.Contains(out, `"result!"`) {
		t.Fatalf("no tool-result frame in output:\n%s", out)
	}

	toolIdx := strings.Index(out, "9:")
	textIdx := strings.Index(out, "found it")
	if toolIdx < 0 || textIdx < 0 || toolIdx > textIdx {
		t.Fatalf("tool frames must precede the follow-up text:\n%s", out)
	}

	p := stream.NewParser()
	p.Feed(buf.Bytes())
	p.Flush()
	if got := p.Text(); got != "found it" {
		t.Fatalf("reconstructed text = %q", got)
	}
}

func TestRunStreamStepLimit(t *testing.T) {
	wantsTools := []domain.Event{
		{ToolCall: &domain.ToolCallChunk{Index: 0, ID: "c", Name: "lookup", Arguments: "{}"}},
		{FinishReason: domain.FinishToolCalls},
	}
	prov := &scriptedProvider{events: [][]domain.Event{wantsTools, wantsTools, wantsTools}}
	o, _ := newTestOrchestrator(prov, nil)

	task := userTask()
	task.MaxSteps = 2
	task.Tools = tools.NewSet(tools.Tool{
		Name:    "lookup",
		Execute: func(context.Context, string) string { return "r" },
	})

	var buf bytes.Buffer
	if err := o.RunStream(context.Background(), &buf, task); err != nil {
		t.Fatalf("RunStream: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "2:") && !strings.Contains(out, "\n2:") {
		t.Fatalf("step-limit notice must arrive as a full-text frame:\n%s", out)
	}

	p := stream.NewParser()
	p.Feed(buf.Bytes())
	p.Flush()
	if !strings.Contains(p.Text(), "limit of 2 tool steps") {
		t.Fatalf("text = %q, want step-limit notice", p.Text())
	}
}

// firehoseProvider streams on an unbuffered channel so every send blocks
// until the consumer takes it. done closes once the feeder goroutine exits.
type firehoseProvider struct {
	done chan struct{}
}

func (p *firehoseProvider) Name() string { return "firehose" }

func (p *firehoseProvider) Complete(context.Context, *domain.Request) (*domain.Response, error) {
	return nil, errors.New("streaming only")
}

func (p *firehoseProvider) Stream(context.Context, *domain.Request) (<-chan domain.Event, error) {
	ch := make(chan domain.Event)
	go func() {
		for i := 0; i < 200; i++ {
			ch <- domain.Event{TextDelta: "x"}
		}
		ch <- domain.Event{FinishReason: domain.FinishStop}
		close(ch)
		close(p.done)
	}()
	return ch, nil
}

type haltingWriter struct {
	writes int
}

func (w *haltingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > 1 {
		return 0, errors.New("client went away")
	}
	return len(p), nil
}

func TestRunStreamWriteFailureReleasesUpstream(t *testing.T) {
	prov := &firehoseProvider{done: make(chan struct{})}
	o, _ := newTestOrchestrator(prov, nil)

	ret := make(chan error, 1)
	go func() { ret <- o.RunStream(context.Background(), &haltingWriter{}, userTask()) }()

	select {
	case err := <-ret:
		if err != nil {
			t.Fatalf("RunStream: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunStream still blocked after the client stopped accepting writes")
	}

	select {
	case <-prov.done:
	case <-time.After(2 * time.Second):
		t.Fatal("provider feeder goroutine never finished")
	}
}

func TestRunStreamAnnotatesUsageWhenRequested(t *testing.T) {
	prov := &scriptedProvider{events: [][]domain.Event{{
		{TextDelta: "Hi"},
		{FinishReason: domain.FinishStop, Usage: &domain.Usage{PromptTokens: 3, CompletionTokens: 1}},
	}}}
	o, _ := newTestOrchestrator(prov, nil)

	task := userTask()
	task.AnnotateUsage = true

	var buf bytes.Buffer
	if err := o.RunStream(context.Background(), &buf, task); err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	out := buf.String()

	annIdx := strings.Index(out, "8:")
	finIdx := strings.Index(out, "12:")
	if annIdx < 0 {
		t.Fatalf("no annotation frame in output:\n%s", out)
	}
	if finIdx < 0 || annIdx > finIdx {
		t.Fatalf("annotation frame must precede finish:\n%s", out)
	}
	if !strings.Contains(out, `"totalTokens":4`) {
		t.Fatalf("annotation missing usage totals:\n%s", out)
	}
}

func TestRunStreamPrepareErrorsReturnEarly(t *testing.T) {
	o, _ := newTestOrchestrator(&scriptedProvider{}, nil)

	var buf bytes.Buffer
	err := o.RunStream(context.Background(), &buf, Task{Provider: "mystery",
		Messages: userTask().Messages})
	if err == nil {
		t.Fatal("want error for unknown provider")
	}
	if buf.Len() != 0 {
		t.Fatalf("frames written despite prepare failure: %q", buf.String())
	}
}

func TestRunStreamUpstreamFailureBecomesErrorFrame(t *testing.T) {
	prov := &scriptedProvider{events: [][]domain.Event{{
		{TextDelta: "par"},
		{Err: domain.ErrUpstream("provider hiccup")},
	}}}
	o, _ := newTestOrchestrator(prov, nil)

	var buf bytes.Buffer
	if err := o.RunStream(context.Background(), &buf, userTask()); err != nil {
		t.Fatalf("mid-stream failures must surface in-stream, got %v", err)
	}
	if !strings.Contains(buf.String(), "3:") || !strings.Contains(buf.String(), "provider hiccup") {
		t.Fatalf("no error frame:\n%s", buf.String())
	}
}

func TestCompletionRecordsCost(t *testing.T) {
	o, costs := newTestOrchestrator(&scriptedProvider{}, nil)

	done := o.Completion(userTask())
	done("the final text", &domain.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150})

	if costs.TotalCost() <= 0 {
		t.Fatal("completion did not record cost")
	}
	hist := costs.History()
	if len(hist) != 1 || hist[0].PromptTokens != 100 {
		t.Fatalf("history = %+v", hist)
	}
}

func TestCompletionEstimatesWhenUsageNil(t *testing.T) {
	o, costs := newTestOrchestrator(&scriptedProvider{}, nil)

	done := o.Completion(userTask())
	done("some streamed text the provider never counted", nil)

	hist := costs.History()
	if len(hist) != 1 {
		t.Fatalf("history length = %d, want 1", len(hist))
	}
	if hist[0].TotalTokens == 0 {
		t.Fatal("usage not estimated for ledger entry")
	}
}
