package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

// CommentClient is the slice of Client the commenter needs; it allows mocking
// in tests.
type CommentClient interface {
	PostComment(ctx context.Context, token string, pr PRInfo, body string) error
}

// Commenter posts finished review text to a pull request as a new issue
// comment. It never updates a previous comment in place.
type Commenter struct {
	client CommentClient
	logger *slog.Logger
}

// NewCommenter creates a commenter backed by the given client.
func NewCommenter(client CommentClient, logger *slog.Logger) *Commenter {
	return &Commenter{client: client, logger: logger}
}

// PostReview formats and posts the review comment. A usage footer is appended
// when usage is non-nil and non-zero. Returns an upstream error on a failed
// POST; callers treat that as log-and-continue, review delivery has priority
// over commenting.
func (c *Commenter) PostReview(ctx context.Context, token string, pr PRInfo, text string, usage *domain.Usage) error {
	body := FormatCommentBody(text, usage)
	if err := c.client.PostComment(ctx, token, pr, body); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return domain.ErrUpstream(fmt.Sprintf("posting PR comment failed with status %d", statusErr.StatusCode)).
				WithUpstream(statusErr.StatusCode, statusErr.Body)
		}
		return domain.ErrUpstream("posting PR comment failed: " + err.Error())
	}
	c.logger.Info("posted PR comment",
		slog.String("owner", pr.Owner),
		slog.String("repo", pr.Repo),
		slog.Int("pr", pr.Number),
	)
	return nil
}

// FormatCommentBody renders the comment: review text plus a human-readable
// token usage footer when present.
func FormatCommentBody(text string, usage *domain.Usage) string {
	var b strings.Builder
	b.WriteString(text)
	if usage != nil && !usage.IsZero() {
		u := usage.Normalize()
		b.WriteString("\n\n---\n")
		fmt.Fprintf(&b, "_Token usage: %d input, %d output, %d total._",
			u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	}
	return b.String()
}
