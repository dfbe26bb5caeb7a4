package orchestrate

import (
	"context"
	"io"
	"strings"

	"github.com/reviewrelay/reviewrelay/internal/domain"
	"github.com/reviewrelay/reviewrelay/internal/provider"
	"github.com/reviewrelay/reviewrelay/internal/stream"
)

// RunStream executes a task in streaming mode, writing wire-format frames
// to w as provider output arrives. Tool calls run inline between provider
// turns, each surfaced as a tool-call frame followed by its tool-result.
//
// Errors before the first frame are returned so the caller can still send
// a conventional error response. Once streaming has begun, failures are
// reported in-stream as error frames and RunStream returns nil.
//
// RunStream does not touch the ledger or the commenter: finalization for
// streams belongs to whoever owns the reconstructed text and usage, which
// is the relay's completion callback (see Completion).
func (o *Orchestrator) RunStream(ctx context.Context, w io.Writer, task Task) error {
	prov, req, err := o.prepare(&task)
	if err != nil {
		return err
	}

	enc := stream.NewEncoder(w)
	var total domain.Usage
	var allText strings.Builder
	haveUsage := false

	for step := 0; ; step++ {
		events, err := prov.Stream(ctx, req)
		if err != nil {
			if step == 0 {
				return err
			}
			enc.Error(err.Error())
			return nil
		}

		var text strings.Builder
		asm := newToolAssembler()
		finish := ""

		for ev := range events {
			if ev.Err != nil {
				drain(events)
				enc.Error(ev.Err.Error())
				return nil
			}
			if ev.TextDelta != "" {
				text.WriteString(ev.TextDelta)
				allText.WriteString(ev.TextDelta)
				if err := enc.TextDelta(ev.TextDelta); err != nil {
					// Client gone; stop consuming upstream.
					drain(events)
					return nil
				}
			}
			if ev.ToolCall != nil {
				asm.add(ev.ToolCall)
			}
			if ev.Usage != nil {
				total = addUsage(total, *ev.Usage)
				haveUsage = true
			}
			if ev.FinishReason != "" {
				finish = ev.FinishReason
			}
		}

		calls := asm.calls()
		wantsTools := finish == domain.FinishToolCalls && len(calls) > 0 && task.Tools.Len() > 0
		if !wantsTools {
			if finish == "" {
				finish = domain.FinishStop
			}
			if task.AnnotateUsage && haveUsage {
				enc.Annotation(total)
			}
			enc.Finish(finish, usageOrNil(total, haveUsage))
			return nil
		}
		if step+1 >= task.MaxSteps {
			// Wholesale replacement so the client's final text is exactly
			// the degraded answer, not deltas plus a trailing notice.
			enc.FullText(stepLimitText(allText.String(), task.MaxSteps))
			if task.AnnotateUsage && haveUsage {
				enc.Annotation(total)
			}
			enc.Finish(domain.FinishStop, usageOrNil(total, haveUsage))
			return nil
		}

		o.runTools(ctx, task.Tools, req, text.String(), calls, func(call domain.ToolCall, result string) {
			enc.ToolCall(call)
			enc.ToolResult(call.ID, result)
		})
	}
}

// drain discards the rest of an abandoned event stream in the background so
// the provider's reader goroutine can finish sending and exit.
func drain(events <-chan domain.Event) {
	go func() {
		for range events {
		}
	}()
}

// Completion returns the callback that finalizes a streamed task once the
// relay has reconstructed its text and usage: cost recording and the
// optional PR comment happen here, exactly once per stream.
func (o *Orchestrator) Completion(task Task) stream.CompletionFunc {
	return func(text string, usage *domain.Usage) {
		if task.Provider == "" {
			task.Provider = provider.Default
		}
		if task.Model == "" {
			if m, err := o.registry.DefaultModel(task.Provider); err == nil {
				task.Model = m
			}
		}
		req := &domain.Request{
			Model:    task.Model,
			System:   task.System,
			Messages: task.Messages,
		}
		var u domain.Usage
		if usage != nil {
			u = *usage
		}
		// Detached from the request context: the client has its response
		// and finalization must outlive the HTTP exchange.
		o.finalize(context.Background(), task, req, text, domain.FinishStop, u, 0)
	}
}

func usageOrNil(u domain.Usage, have bool) *domain.Usage {
	if !have {
		return nil
	}
	n := u.Normalize()
	return &n
}
