// Package api exposes the HTTP surface: chat and code-review completions
// (buffered or streamed), the billing snapshot, and direct PR commenting.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reviewrelay/reviewrelay/internal/domain"
	"github.com/reviewrelay/reviewrelay/internal/github"
	"github.com/reviewrelay/reviewrelay/internal/ledger"
	"github.com/reviewrelay/reviewrelay/internal/normalize"
	"github.com/reviewrelay/reviewrelay/internal/orchestrate"
	"github.com/reviewrelay/reviewrelay/internal/provider"
	"github.com/reviewrelay/reviewrelay/internal/server"
	"github.com/reviewrelay/reviewrelay/internal/stream"
	"github.com/reviewrelay/reviewrelay/internal/tools"
)

// maxBodyBytes caps request bodies; context files ride inside the JSON
// body so the cap is generous.
const maxBodyBytes = 10 << 20

// reviewSystemPrompt is used for code reviews when the client supplies no
// system prompt of its own.
const reviewSystemPrompt = `You are an experienced code reviewer. Examine the code you are given, using the available tools to read files or pull request diffs when needed. Point out bugs, risky patterns and unclear naming, and suggest concrete improvements. Be direct and specific; cite file names and line context in your findings.`

// Handler serves the HTTP API.
type Handler struct {
	orch      *orchestrate.Orchestrator
	costs     *ledger.Ledger
	commenter *github.Commenter
	toolset   *tools.Set
	logger    *slog.Logger
	dev       bool
}

// New builds the handler set. ghClient backs both the PR-reading tool and
// the commenter.
func New(orch *orchestrate.Orchestrator, costs *ledger.Ledger, ghClient *github.Client, logger *slog.Logger, dev bool) *Handler {
	return &Handler{
		orch:      orch,
		costs:     costs,
		commenter: github.NewCommenter(ghClient, logger),
		toolset:   tools.NewSet(tools.ReadFile(), tools.ReadPullRequest(ghClient)),
		logger:    logger,
		dev:       dev,
	}
}

// Routes mounts all endpoints on r. Completion routes run without a
// timeout because streams legitimately run for minutes; the bounded
// endpoints get a cooperative deadline.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/codereview", h.handleCodeReview)
	r.Group(func(g chi.Router) {
		g.Use(server.TimeoutMiddleware(30 * time.Second))
		g.Get("/billing", h.handleBilling)
		g.Post("/github/pr-comment", h.handlePRComment)
		g.Get("/healthz", h.handleHealthz)
	})
}

// contextFile is an uploaded document appended to the system prompt. The
// hash is a client-computed cache key; it is logged and echoed but not
// otherwise interpreted.
type contextFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Hash    string `json:"hash"`
}

type completionRequest struct {
	Messages       []normalize.Inbound `json:"messages"`
	Provider       string              `json:"provider"`
	Model          string              `json:"model"`
	APIKey         string              `json:"apiKey"`
	Stream         *bool               `json:"stream"`
	SystemPrompt   string              `json:"systemPrompt"`
	EnableTools    bool                `json:"enableTools"`
	AnnotateUsage  bool                `json:"annotateUsage"`
	FallbackModels []string            `json:"fallbackModels"`
	ContextFile    *contextFile        `json:"contextFile"`
	GitHubToken    string              `json:"githubToken"`
	PRURL          string              `json:"prUrl"`
}

type billingInfo struct {
	Cost         float64 `json:"cost"`
	RunningTotal float64 `json:"runningTotal"`
}

type completionResponse struct {
	Text    string       `json:"text"`
	Usage   domain.Usage `json:"usage"`
	Billing billingInfo  `json:"billing"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	h.handleCompletion(w, r, false)
}

func (h *Handler) handleCodeReview(w http.ResponseWriter, r *http.Request) {
	h.handleCompletion(w, r, true)
}

func (h *Handler) handleCompletion(w http.ResponseWriter, r *http.Request, review bool) {
	ctx := r.Context()

	var req completionRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrInvalidInput(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	task := h.buildTask(&req, review)

	if err := h.orch.Validate(&task); err != nil {
		h.writeError(w, r, err)
		return
	}
	server.AddLogField(ctx, "provider", string(task.Provider))
	server.AddLogField(ctx, "model", task.Model)
	server.AddLogField(ctx, "api_key_supplied", fmt.Sprintf("%t", req.APIKey != ""))
	if req.ContextFile != nil {
		server.AddLogField(ctx, "context_file_hash", req.ContextFile.Hash)
	}

	streaming := req.Stream == nil || *req.Stream
	server.AddLogField(ctx, "stream", fmt.Sprintf("%t", streaming))
	if streaming {
		h.streamCompletion(w, r, task)
		return
	}

	res, err := h.orch.Run(ctx, task)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, completionResponse{
		Text:  res.Text,
		Usage: res.Usage,
		Billing: billingInfo{
			Cost:         res.Cost,
			RunningTotal: res.TotalCost,
		},
	})
}

// buildTask maps the inbound request onto an orchestration task: system
// prompt plus context file, normalized messages, tool enablement and the
// optional PR comment target.
func (h *Handler) buildTask(req *completionRequest, review bool) orchestrate.Task {
	system := req.SystemPrompt
	if review && system == "" {
		system = reviewSystemPrompt
	}
	if req.ContextFile != nil && req.ContextFile.Content != "" {
		system = fmt.Sprintf("%s\n\n## Context file: %s\n\n%s",
			system, req.ContextFile.Name, req.ContextFile.Content)
	}

	task := orchestrate.Task{
		Provider:       provider.ID(req.Provider),
		Model:          req.Model,
		APIKey:         req.APIKey,
		System:         system,
		Messages:       normalize.Messages(req.Messages, h.logger),
		FallbackModels: req.FallbackModels,
		AnnotateUsage:  req.AnnotateUsage,
	}

	if review {
		task.Tools = h.toolset
		task.MaxSteps = orchestrate.DefaultReviewSteps
	} else {
		task.MaxSteps = orchestrate.DefaultChatSteps
		if req.EnableTools {
			task.Tools = h.toolset
		}
	}

	// Reviews comment back on the PR when the caller supplied a token.
	if review && req.GitHubToken != "" {
		if pr := github.ExtractPRInfo(req.PRURL, normalize.TextOf(req.Messages)); pr != nil {
			task.GitHubToken = req.GitHubToken
			task.PR = pr
		}
	}
	return task
}

// streamCompletion runs the task through a pipe so the relay can forward
// wire frames to the client verbatim while reconstructing the response for
// the completion callback.
func (h *Handler) streamCompletion(w http.ResponseWriter, r *http.Request, task orchestrate.Task) {
	ctx := r.Context()

	pr, pw := io.Pipe()
	// Unblocks the producer's pending pipe write when the relay stops
	// early, so an aborted stream cannot strand the RunStream goroutine.
	defer pr.Close()
	go func() {
		err := h.orch.RunStream(ctx, pw, task)
		pw.CloseWithError(err)
	}()

	// Headers are deferred until the first forwarded byte: a provider that
	// fails before producing any frame still gets a JSON error response.
	cw := &deferredStreamWriter{w: w}
	relay := stream.NewRelay(h.logger, h.orch.Completion(task))
	if err := relay.Copy(ctx, cw, pr); err != nil {
		server.AddError(ctx, err)
		if cw.n == 0 && ctx.Err() == nil {
			h.writeError(w, r, err)
		}
	}
}

// deferredStreamWriter sets streaming response headers on the first write
// and counts bytes forwarded to the client.
type deferredStreamWriter struct {
	w http.ResponseWriter
	n int64
}

func (d *deferredStreamWriter) Write(b []byte) (int, error) {
	if d.n == 0 && len(b) > 0 {
		h := d.w.Header()
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
	}
	n, err := d.w.Write(b)
	d.n += int64(n)
	return n, err
}

func (d *deferredStreamWriter) Flush() {
	if f, ok := d.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *Handler) handleBilling(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"totalCost":    h.costs.TotalCost(),
		"usageHistory": h.costs.History(),
		"costByModel":  h.costs.CostByModel(),
	})
}

type prCommentRequest struct {
	ReviewText  string        `json:"reviewText"`
	Usage       *domain.Usage `json:"usage"`
	PRURL       string        `json:"prUrl"`
	GitHubToken string        `json:"githubToken"`
}

func (h *Handler) handlePRComment(w http.ResponseWriter, r *http.Request) {
	var req prCommentRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrInvalidInput(fmt.Sprintf("invalid request body: %v", err)))
		return
	}
	if req.ReviewText == "" {
		h.writeError(w, r, domain.ErrInvalidInput("reviewText is required"))
		return
	}
	if req.GitHubToken == "" {
		h.writeError(w, r, domain.ErrInvalidInput("githubToken is required"))
		return
	}
	pr := github.ParsePRURL(req.PRURL)
	if pr == nil {
		h.writeError(w, r, domain.ErrInvalidInput("prUrl is not a valid GitHub pull request URL"))
		return
	}

	if err := h.commenter.PostReview(r.Context(), req.GitHubToken, *pr, req.ReviewText, req.Usage); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("comment posted on %s/%s#%d", pr.Owner, pr.Repo, pr.Number),
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
