package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mikeboe/deep-research/pkg/errs"
)

// Source is one web document backing a learning.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// ImageSource is an image surfaced by a search.
type ImageSource struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// SearchResult is what a search backend returns for one query.
type SearchResult struct {
	Results []Source      `json:"results"`
	Images  []ImageSource `json:"images"`
	// Answer carries a vendor-synthesized answer when the backend offers one.
	Answer string `json:"answer,omitempty"`
}

// SearchOptions tunes one search.
type SearchOptions struct {
	MaxResults int
	// Advanced asks backends that support it for a deeper, slower search.
	Advanced bool
	Language string
}

func (o SearchOptions) limit() int {
	if o.MaxResults <= 0 {
		return 5
	}
	return o.MaxResults
}

// SearchProvider fetches ranked web results for a query.
type SearchProvider interface {
	Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error)
}

// SearchFunc adapts a function to SearchProvider.
type SearchFunc func(ctx context.Context, query string, opts SearchOptions) (SearchResult, error)

func (f SearchFunc) Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	return f(ctx, query, opts)
}

// validURL reports whether raw is an absolute http(s) URL.
func validURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// truncate trims s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}

// upstream classifies a backend failure. Caller cancellation stays distinct
// from vendor errors.
func upstream(provider, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &errs.CancellationError{Key: provider + "/" + op}
	}
	return &errs.UpstreamError{Provider: provider, Op: op, Err: err}
}

// statusError builds the error for a non-2xx vendor response, keeping the
// vendor's body text.
func statusError(provider string, status int, body []byte) error {
	return &errs.UpstreamError{
		Provider: provider,
		Op:       "search",
		Err:      fmt.Errorf("http %d: %s", status, strings.TrimSpace(truncate(string(body), 500))),
	}
}
