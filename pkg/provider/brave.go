package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mikeboe/deep-research/pkg/concurrency"
)

const braveURL = "https://api.search.brave.com/res/v1/web/search"

// Brave searches through the Brave Search API. Requests sharing a key are
// spaced by Limiter when set.
type Brave struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	Limiter *concurrency.Sequencer
}

type braveResponse struct {
	Web struct {
		Results []struct {
			URL           string   `json:"url"`
			Title         string   `json:"title"`
			Description   string   `json:"description"`
			ExtraSnippets []string `json:"extra_snippets"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	if b.Limiter == nil {
		return b.search(ctx, query, opts)
	}
	var out SearchResult
	err := b.Limiter.Do(ctx, b.lane(), func(ctx context.Context) error {
		var err error
		out, err = b.search(ctx, query, opts)
		return err
	})
	return out, err
}

// lane names the Sequencer queue for this key without holding the key itself.
func (b *Brave) lane() string {
	sum := sha256.Sum256([]byte(b.APIKey))
	return "brave/" + hex.EncodeToString(sum[:8])
}

func (b *Brave) search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	endpoint := braveURL
	if b.BaseURL != "" {
		endpoint = b.BaseURL
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(opts.limit()))
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to create brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)

	resp, err := httpClient(b.Client).Do(req)
	if err != nil {
		return SearchResult{}, upstream("brave", "search", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SearchResult{}, upstream("brave", "search", err)
	}
	if resp.StatusCode != http.StatusOK {
		return SearchResult{}, statusError("brave", resp.StatusCode, body)
	}

	var decoded braveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return SearchResult{}, upstream("brave", "search", fmt.Errorf("failed to decode response: %w", err))
	}

	var out SearchResult
	for _, r := range decoded.Web.Results {
		if !validURL(r.URL) {
			continue
		}
		content := r.Description
		for _, s := range r.ExtraSnippets {
			content += "\n" + s
		}
		out.Results = append(out.Results, Source{URL: r.URL, Title: r.Title, Content: content})
	}
	return out, nil
}
