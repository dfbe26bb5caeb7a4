package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/reviewrelay/reviewrelay/internal/github"
)

// maxPatchChars bounds the size of a single file's diff in the tool payload.
// Very large patches are cut off so one file cannot blow the prompt budget;
// reviewers will not see the full diff of such files.
const maxPatchChars = 50000

// PRFilesClient fetches a pull request's changed files.
type PRFilesClient interface {
	ListPRFiles(ctx context.Context, pr github.PRInfo) ([]github.PRFile, error)
}

// ReadPullRequest returns the tool that fetches the changed files of a
// GitHub pull request by URL.
func ReadPullRequest(client PRFilesClient) Tool {
	return Tool{
		Name:        "read_pull_request",
		Description: "Fetch the changed files and diffs of a GitHub pull request by URL. Large diffs are truncated.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pr_url": map[string]any{
					"type":        "string",
					"description": "Full GitHub pull request URL, e.g. https://github.com/owner/repo/pull/123",
				},
			},
			"required": []string{"pr_url"},
		},
		Execute: func(ctx context.Context, args string) string {
			return readPullRequest(ctx, client, args)
		},
	}
}

type prFilePayload struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch"`
	RawURL    string `json:"raw_url"`
}

type prPayload struct {
	PRURL      string          `json:"pr_url"`
	Owner      string          `json:"owner"`
	Repo       string          `json:"repo"`
	Number     int             `json:"number"`
	TotalFiles int             `json:"total_files"`
	Files      []prFilePayload `json:"files"`
}

func readPullRequest(ctx context.Context, client PRFilesClient, args string) string {
	var input struct {
		PRURL string `json:"pr_url"`
	}
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		return fmt.Sprintf("Error reading pull request: invalid arguments: %v", err)
	}

	pr := github.ParsePRURL(input.PRURL)
	if pr == nil {
		return fmt.Sprintf("Error reading pull request: %q is not a valid GitHub pull request URL (expected .../<owner>/<repo>/pull/<number>)", input.PRURL)
	}

	files, err := client.ListPRFiles(ctx, *pr)
	if err != nil {
		var statusErr *github.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.StatusCode == http.StatusNotFound {
				return fmt.Sprintf("Error reading pull request: %s/%s#%d not found (is the repository public?)", pr.Owner, pr.Repo, pr.Number)
			}
			return fmt.Sprintf("Error reading pull request: GitHub returned status %d", statusErr.StatusCode)
		}
		return fmt.Sprintf("Error reading pull request: %v", err)
	}

	payload := prPayload{
		PRURL:      input.PRURL,
		Owner:      pr.Owner,
		Repo:       pr.Repo,
		Number:     pr.Number,
		TotalFiles: len(files),
		Files:      make([]prFilePayload, 0, len(files)),
	}
	for _, f := range files {
		patch := truncatePatch(f.Patch)
		payload.Files = append(payload.Files, prFilePayload{
			Filename:  f.Filename,
			Status:    f.Status,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Changes:   f.Changes,
			Patch:     patch,
			RawURL:    f.RawURL,
		})
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("Error reading pull request: %v", err)
	}
	return string(out)
}

// truncatePatch caps a diff at maxPatchChars, backing up to a rune boundary
// so the cut never produces invalid UTF-8.
func truncatePatch(patch string) string {
	if len(patch) <= maxPatchChars {
		return patch
	}
	cut := maxPatchChars
	for cut > 0 && !utf8.RuneStart(patch[cut]) {
		cut--
	}
	return patch[:cut] + "\n... [patch truncated]"
}
