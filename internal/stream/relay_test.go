package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

// slowReader yields its chunks one Read at a time.
type slowReader struct {
	chunks [][]byte
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func newSlowReader(chunks ...string) *slowReader {
	r := &slowReader{}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r
}

func TestRelayForwardsBytesVerbatim(t *testing.T) {
	input := "0:{\"type\":\"text-delta\",\"textDelta\":\"Hel\"}\n" +
		"0:{\"type\":\"text-delta\",\"textDelta\":\"lo\"}\n" +
		"12:{\"type\":\"finish\",\"finishReason\":\"stop\",\"usage\":{\"promptTokens\":4,\"completionTokens\":2}}\n"

	var out bytes.Buffer
	relay := NewRelay(nil, nil)
	if err := relay.Copy(context.Background(), &out, strings.NewReader(input)); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if out.String() != input {
		t.Fatalf("forwarded bytes differ from input:\ngot  %q\nwant %q", out.String(), input)
	}
}

func TestRelayCompletionCallbackOnce(t *testing.T) {
	input := "0:{\"type\":\"text-delta\",\"textDelta\":\"Hel\"}\n" +
		"0:{\"type\":\"text-delta\",\"textDelta\":\"lo\"}\n" +
		"12:{\"type\":\"finish\",\"finishReason\":\"stop\",\"usage\":{\"promptTokens\":4,\"completionTokens\":2}}\n"

	calls := 0
	var gotText string
	var gotUsage *domain.Usage
	relay := NewRelay(nil, func(text string, usage *domain.Usage) {
		calls++
		gotText = text
		gotUsage = usage
	})

	var out bytes.Buffer
	upstream := newSlowReader(input[:20], input[20:])
	if err := relay.Copy(context.Background(), &out, upstream); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if calls != 1 {
		t.Fatalf("completion callback fired %d times, want 1", calls)
	}
	if gotText != "Hello" {
		t.Fatalf("callback text = %q, want %q", gotText, "Hello")
	}
	if gotUsage == nil || gotUsage.TotalTokens != 6 {
		t.Fatalf("callback usage = %+v, want total 6", gotUsage)
	}
}

func TestRelaySuppressesCallbackOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	relay := NewRelay(nil, func(string, *domain.Usage) { called = true })

	var out bytes.Buffer
	err := relay.Copy(ctx, &out, strings.NewReader("0:{\"type\":\"text-delta\",\"textDelta\":\"x\"}\n"))
	if err == nil {
		t.Fatal("Copy returned nil, want context error")
	}
	if called {
		t.Fatal("completion callback fired after client cancel")
	}
}

type failingReader struct {
	data []byte
	err  error
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return copy(p, r.data), nil
	}
	return 0, r.err
}

func TestRelayUpstreamErrorPropagates(t *testing.T) {
	upErr := errors.New("connection reset")
	called := false
	relay := NewRelay(nil, func(string, *domain.Usage) { called = true })

	var out bytes.Buffer
	err := relay.Copy(context.Background(), &out, &failingReader{
		data: []byte("0:{\"type\":\"text-delta\",\"textDelta\":\"partial\"}\n"),
		err:  upErr,
	})
	if !errors.Is(err, upErr) {
		t.Fatalf("Copy error = %v, want %v", err, upErr)
	}
	if called {
		t.Fatal("completion callback fired after upstream error")
	}
	if !strings.Contains(out.String(), "partial") {
		t.Fatal("bytes received before the error were not forwarded")
	}
}

type failingWriter struct{ err error }

func (w *failingWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestRelayClientWriteErrorStopsStream(t *testing.T) {
	wErr := errors.New("broken pipe")
	called := false
	relay := NewRelay(nil, func(string, *domain.Usage) { called = true })

	err := relay.Copy(context.Background(), &failingWriter{err: wErr},
		strings.NewReader("0:{\"type\":\"text-delta\",\"textDelta\":\"x\"}\n"))
	if !errors.Is(err, wErr) {
		t.Fatalf("Copy error = %v, want %v", err, wErr)
	}
	if called {
		t.Fatal("completion callback fired after client write failure")
	}
}
