package github

import (
	"regexp"
	"strconv"
)

// PRInfo addresses a single pull request.
type PRInfo struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"prNumber"`
}

// prURLPattern matches github.com PR URLs, case-insensitively, ignoring any
// trailing query string or fragment. The host must stand alone: a scheme
// separator, whitespace or start of input precedes it, so lookalike hosts
// such as notgithub.com never match.
var prURLPattern = regexp.MustCompile(`(?i)(?:^|[^\w.-])github\.com/([^/\s]+)/([^/\s]+)/pull/(\d+)`)

// ParsePRURL extracts owner/repo/number from a single URL. Returns nil if the
// URL is not a GitHub pull request URL.
func ParsePRURL(url string) *PRInfo {
	m := prURLPattern.FindStringSubmatch(url)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return nil
	}
	return &PRInfo{Owner: m[1], Repo: m[2], Number: n}
}

// ExtractPRInfo resolves a PR reference from an explicit URL or, absent that,
// the first PR URL found scanning the given texts in order. The explicit URL
// always wins. Returns nil when nothing matches.
func ExtractPRInfo(explicitURL string, texts []string) *PRInfo {
	if explicitURL != "" {
		if info := ParsePRURL(explicitURL); info != nil {
			return info
		}
	}
	for _, text := range texts {
		if info := ParsePRURL(text); info != nil {
			return info
		}
	}
	return nil
}
