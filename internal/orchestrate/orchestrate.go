// Package orchestrate drives a request through its full lifecycle: input
// validation, credential resolution, provider invocation, the tool step
// loop and finalization. Buffered and streaming execution share the same
// lifecycle; they differ only in how provider output reaches the caller.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/reviewrelay/reviewrelay/internal/domain"
	"github.com/reviewrelay/reviewrelay/internal/github"
	"github.com/reviewrelay/reviewrelay/internal/ledger"
	"github.com/reviewrelay/reviewrelay/internal/provider"
	"github.com/reviewrelay/reviewrelay/internal/tokens"
	"github.com/reviewrelay/reviewrelay/internal/tools"
)

const (
	// DefaultChatSteps bounds the tool loop for conversational requests.
	DefaultChatSteps = 10
	// DefaultReviewSteps bounds the tool loop for code reviews, which
	// routinely read many files.
	DefaultReviewSteps = 20
)

// Commenter posts review results to a pull request.
type Commenter interface {
	PostReview(ctx context.Context, token string, pr github.PRInfo, text string, usage *domain.Usage) error
}

// Resolver maps provider ids to credentials and configured clients.
// *provider.Registry is the production implementation.
type Resolver interface {
	IsRegistered(id provider.ID) bool
	DefaultModel(id provider.ID) (string, error)
	EnvVar(id provider.ID) string
	ResolveAPIKey(id provider.ID, explicit string) string
	Resolve(id provider.ID, apiKey string) (provider.Provider, error)
}

// Orchestrator coordinates providers, tools, cost accounting and the
// GitHub commenter for a single deployment.
type Orchestrator struct {
	registry  Resolver
	ledger    *ledger.Ledger
	estimator *tokens.Estimator
	commenter Commenter
	logger    *slog.Logger
}

// New creates an orchestrator. commenter may be nil when PR commenting is
// not configured.
func New(registry Resolver, costs *ledger.Ledger, commenter Commenter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:  registry,
		ledger:    costs,
		estimator: tokens.NewEstimator(),
		commenter: commenter,
		logger:    logger,
	}
}

// Task is one unit of work: a conversation to complete, with optional
// tools and an optional pull request to comment on when done.
type Task struct {
	Provider provider.ID
	Model    string
	APIKey   string

	System   string
	Messages []domain.Message

	Tools    *tools.Set
	MaxSteps int

	// AnnotateUsage emits an out-of-band usage annotation frame before the
	// finish frame so streaming clients can render token counts without
	// polling the billing endpoint. Streaming only.
	AnnotateUsage bool

	// FallbackModels is honored only by gateway providers that route
	// across vendors.
	FallbackModels []string

	MaxTokens   int
	Temperature float32

	// GitHubToken and PR, when both set, trigger a PR comment with the
	// final response text after the task completes.
	GitHubToken string
	PR          *github.PRInfo
}

// Result is the outcome of a buffered task.
type Result struct {
	Model        string
	Text         string
	FinishReason string
	Usage        domain.Usage
	Cost         float64
	TotalCost    float64
	Steps        int
}

// prepare validates the task, resolves the provider and its credential,
// and builds the canonical request. Mutates task defaults in place.
func (o *Orchestrator) prepare(task *Task) (provider.Provider, *domain.Request, error) {
	if len(task.Messages) == 0 {
		return nil, nil, domain.ErrInvalidInput("messages are required")
	}
	if task.Provider == "" {
		task.Provider = provider.Default
	}
	if !o.registry.IsRegistered(task.Provider) {
		return nil, nil, domain.ErrInvalidProvider(string(task.Provider))
	}
	if task.Model == "" {
		model, err := o.registry.DefaultModel(task.Provider)
		if err != nil {
			return nil, nil, err
		}
		task.Model = model
	}
	if task.MaxSteps <= 0 {
		task.MaxSteps = DefaultChatSteps
	}

	key := o.registry.ResolveAPIKey(task.Provider, task.APIKey)
	if key == "" {
		return nil, nil, domain.ErrMissingCredential(string(task.Provider), o.registry.EnvVar(task.Provider))
	}
	prov, err := o.registry.Resolve(task.Provider, key)
	if err != nil {
		return nil, nil, err
	}

	req := &domain.Request{
		Model:       task.Model,
		System:      task.System,
		Messages:    append([]domain.Message(nil), task.Messages...),
		MaxTokens:   task.MaxTokens,
		Temperature: task.Temperature,
	}
	if task.Tools != nil {
		req.Tools = task.Tools.Definitions()
	}
	if task.Provider == provider.OpenRouter {
		req.FallbackModels = task.FallbackModels
	}
	return prov, req, nil
}

// Validate resolves defaults and credentials without invoking a provider.
// The task is mutated with its resolved model and step ceiling, so callers
// that later stream can hand the same task to Completion.
func (o *Orchestrator) Validate(task *Task) error {
	_, _, err := o.prepare(task)
	return err
}

// Run executes a task in buffered mode: the provider is called repeatedly
// until it stops requesting tools, the step ceiling is hit, or it fails.
func (o *Orchestrator) Run(ctx context.Context, task Task) (*Result, error) {
	prov, req, err := o.prepare(&task)
	if err != nil {
		return nil, err
	}

	var total domain.Usage
	for step := 0; ; step++ {
		resp, err := prov.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		total = addUsage(total, resp.Usage)

		wantsTools := resp.FinishReason == domain.FinishToolCalls && len(resp.ToolCalls) > 0 && task.Tools.Len() > 0
		if !wantsTools {
			return o.finalize(ctx, task, req, resp.Text, resp.FinishReason, total, step), nil
		}
		if step+1 >= task.MaxSteps {
			text := stepLimitText(resp.Text, task.MaxSteps)
			return o.finalize(ctx, task, req, text, domain.FinishStop, total, step+1), nil
		}

		o.runTools(ctx, task.Tools, req, resp.Text, resp.ToolCalls, nil)
	}
}

// toolObserver is notified as each tool call executes. Streaming uses it
// to emit tool frames inline.
type toolObserver func(call domain.ToolCall, result string)

// runTools executes the requested tool calls and appends the assistant
// turn plus one tool-result message per call to the request.
func (o *Orchestrator) runTools(ctx context.Context, set *tools.Set, req *domain.Request, assistantText string, calls []domain.ToolCall, observe toolObserver) {
	req.Messages = append(req.Messages, domain.Message{
		Role:      "assistant",
		Content:   assistantText,
		ToolCalls: calls,
	})
	for _, call := range calls {
		o.logger.InfoContext(ctx, "executing tool",
			"tool", call.Name, "tool_call_id", call.ID)
		result := set.Execute(ctx, call.Name, call.Arguments)
		if observe != nil {
			observe(call, result)
		}
		req.Messages = append(req.Messages, domain.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: call.ID,
		})
	}
}

// finalize records cost, posts the optional PR comment and assembles the
// result. Usage is estimated when the provider reported none.
func (o *Orchestrator) finalize(ctx context.Context, task Task, req *domain.Request, text, finishReason string, usage domain.Usage, steps int) *Result {
	usage = o.ensureUsage(task.Model, req, text, usage)
	cost, runningTotal := o.ledger.RecordUsage(task.Model, usage.PromptTokens, usage.CompletionTokens)
	o.logger.InfoContext(ctx, "task complete",
		"provider", string(task.Provider),
		"model", task.Model,
		"steps", steps,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"cost", cost,
		"total_cost", runningTotal)

	o.maybeComment(ctx, task, text, &usage)

	return &Result{
		Model:        task.Model,
		Text:         text,
		FinishReason: finishReason,
		Usage:        usage,
		Cost:         cost,
		TotalCost:    runningTotal,
		Steps:        steps,
	}
}

// ensureUsage substitutes a tokenizer estimate when the provider omitted
// usage entirely.
func (o *Orchestrator) ensureUsage(model string, req *domain.Request, text string, usage domain.Usage) domain.Usage {
	if !usage.IsZero() {
		return usage.Normalize()
	}
	est := o.estimator.EstimateUsage(model, req, text)
	o.logger.Debug("provider reported no usage, using tokenizer estimate",
		"model", model, "estimated_total", est.TotalTokens)
	return est
}

func (o *Orchestrator) maybeComment(ctx context.Context, task Task, text string, usage *domain.Usage) {
	if o.commenter == nil || task.GitHubToken == "" || task.PR == nil || text == "" {
		return
	}
	if err := o.commenter.PostReview(ctx, task.GitHubToken, *task.PR, text, usage); err != nil {
		// A failed comment must not fail the response the user already has.
		o.logger.WarnContext(ctx, "posting PR comment failed",
			"owner", task.PR.Owner, "repo", task.PR.Repo, "pr", task.PR.Number,
			"error", err)
		return
	}
	o.logger.InfoContext(ctx, "posted PR comment",
		"owner", task.PR.Owner, "repo", task.PR.Repo, "pr", task.PR.Number)
}

// stepLimitText converts step exhaustion into an explanatory answer
// instead of an error: the user still gets whatever the model produced.
func stepLimitText(partial string, limit int) string {
	notice := fmt.Sprintf(
		"I stopped after reaching the limit of %d tool steps, so this answer may be incomplete.", limit)
	if strings.TrimSpace(partial) == "" {
		return notice
	}
	return partial + "\n\n" + notice
}

func addUsage(a, b domain.Usage) domain.Usage {
	return domain.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
	}.Normalize()
}

// toolAssembler assembles streamed tool-call fragments, keyed by index,
// into complete calls ordered by index.
type toolAssembler struct {
	byIndex map[int]*domain.ToolCall
}

func newToolAssembler() *toolAssembler {
	return &toolAssembler{byIndex: make(map[int]*domain.ToolCall)}
}

func (a *toolAssembler) add(chunk *domain.ToolCallChunk) {
	tc, ok := a.byIndex[chunk.Index]
	if !ok {
		tc = &domain.ToolCall{}
		a.byIndex[chunk.Index] = tc
	}
	if chunk.ID != "" {
		tc.ID = chunk.ID
	}
	if chunk.Name != "" {
		tc.Name = chunk.Name
	}
	tc.Arguments += chunk.Arguments
}

func (a *toolAssembler) calls() []domain.ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]domain.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.byIndex[i])
	}
	return out
}
