package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// SearXNG queries a self-hosted SearXNG instance's JSON API.
type SearXNG struct {
	BaseURL string
	Client  *http.Client
}

type searxngResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
		ImgSrc  string `json:"img_src"`
	} `json:"results"`
}

func (s *SearXNG) Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	endpoint := strings.TrimRight(s.BaseURL, "/") + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to create searxng request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient(s.Client).Do(req)
	if err != nil {
		return SearchResult{}, upstream("searxng", "search", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SearchResult{}, upstream("searxng", "search", err)
	}
	if resp.StatusCode != http.StatusOK {
		return SearchResult{}, statusError("searxng", resp.StatusCode, body)
	}

	var decoded searxngResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return SearchResult{}, upstream("searxng", "search", fmt.Errorf("failed to decode response: %w", err))
	}

	var out SearchResult
	for _, r := range decoded.Results {
		if validURL(r.ImgSrc) {
			out.Images = append(out.Images, ImageSource{URL: r.ImgSrc, Description: r.Title})
		}
		if !validURL(r.URL) || len(out.Results) >= opts.limit() {
			continue
		}
		out.Results = append(out.Results, Source{URL: r.URL, Title: r.Title, Content: r.Content})
	}
	return out, nil
}
