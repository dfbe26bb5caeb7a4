package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

func TestListPRFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/pulls/5/files" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("list files should be unauthenticated, got Authorization %q", auth)
		}
		json.NewEncoder(w).Encode([]PRFile{
			{Filename: "main.go", Status: "modified", Additions: 3, Deletions: 1, Changes: 4, Patch: "@@ -1 +1 @@"},
		})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	files, err := c.ListPRFiles(context.Background(), PRInfo{Owner: "owner", Repo: "repo", Number: 5})
	if err != nil {
		t.Fatalf("ListPRFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].Filename != "main.go" {
		t.Errorf("ListPRFiles() = %+v, want one main.go entry", files)
	}
}

func TestListPRFiles_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.ListPRFiles(context.Background(), PRInfo{Owner: "x", Repo: "y", Number: 1})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("ListPRFiles() error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", statusErr.StatusCode)
	}
}

func TestPostComment(t *testing.T) {
	var gotBody string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/issues/7/comments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		var payload map[string]string
		json.Unmarshal(b, &payload)
		gotBody = payload["body"]
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	err := c.PostComment(context.Background(), "tok-123", PRInfo{Owner: "owner", Repo: "repo", Number: 7}, "nice work")
	if err != nil {
		t.Fatalf("PostComment() error = %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotBody != "nice work" {
		t.Errorf("comment body = %q, want %q", gotBody, "nice work")
	}
}

func TestCommenter_UsageFooter(t *testing.T) {
	body := FormatCommentBody("Review text", &domain.Usage{PromptTokens: 100, CompletionTokens: 50})
	if !strings.Contains(body, "Review text") {
		t.Errorf("body missing review text: %q", body)
	}
	if !strings.Contains(body, "100 input, 50 output, 150 total") {
		t.Errorf("body missing usage footer: %q", body)
	}

	// Zero usage: no footer.
	body = FormatCommentBody("Review text", &domain.Usage{})
	if strings.Contains(body, "Token usage") {
		t.Errorf("zero usage should not produce a footer: %q", body)
	}
	body = FormatCommentBody("Review text", nil)
	if body != "Review text" {
		t.Errorf("nil usage should leave text untouched: %q", body)
	}
}

type failingClient struct{ err error }

func (f *failingClient) PostComment(ctx context.Context, token string, pr PRInfo, body string) error {
	return f.err
}

func TestCommenter_UpstreamError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCommenter(&failingClient{err: &StatusError{StatusCode: 422, Body: "nope"}}, logger)

	err := c.PostReview(context.Background(), "tok", PRInfo{Owner: "a", Repo: "b", Number: 1}, "text", nil)
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("PostReview() error = %v, want *domain.APIError", err)
	}
	if apiErr.Type != domain.ErrorTypeUpstream {
		t.Errorf("error type = %v, want upstream", apiErr.Type)
	}
	if apiErr.UpstreamStatus != 422 {
		t.Errorf("upstream status = %d, want 422", apiErr.UpstreamStatus)
	}
}
