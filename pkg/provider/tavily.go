package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const tavilyURL = "https://api.tavily.com/search"

// Tavily searches through the Tavily API.
type Tavily struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

type tavilyRequest struct {
	Query                    string `json:"query"`
	MaxResults               int    `json:"max_results"`
	SearchDepth              string `json:"search_depth"`
	IncludeImages            bool   `json:"include_images"`
	IncludeImageDescriptions bool   `json:"include_image_descriptions"`
	IncludeAnswer            bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
	Images []tavilyImage `json:"images"`
}

// tavilyImage accepts both the bare-URL and the described form.
type tavilyImage ImageSource

func (i *tavilyImage) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		i.URL = s
		return nil
	}
	var img ImageSource
	if err := json.Unmarshal(b, &img); err != nil {
		return err
	}
	*i = tavilyImage(img)
	return nil
}

func (t *Tavily) Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	depth := "basic"
	if opts.Advanced {
		depth = "advanced"
	}
	payload, err := json.Marshal(tavilyRequest{
		Query:                    query,
		MaxResults:               opts.limit(),
		SearchDepth:              depth,
		IncludeImages:            true,
		IncludeImageDescriptions: true,
		IncludeAnswer:            true,
	})
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to encode tavily request: %w", err)
	}

	endpoint := tavilyURL
	if t.BaseURL != "" {
		endpoint = t.BaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to create tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.APIKey)

	resp, err := httpClient(t.Client).Do(req)
	if err != nil {
		return SearchResult{}, upstream("tavily", "search", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SearchResult{}, upstream("tavily", "search", err)
	}
	if resp.StatusCode != http.StatusOK {
		return SearchResult{}, statusError("tavily", resp.StatusCode, body)
	}

	var decoded tavilyResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return SearchResult{}, upstream("tavily", "search", fmt.Errorf("failed to decode response: %w", err))
	}

	out := SearchResult{Answer: decoded.Answer}
	for _, r := range decoded.Results {
		if !validURL(r.URL) {
			continue
		}
		out.Results = append(out.Results, Source{URL: r.URL, Title: r.Title, Content: r.Content})
	}
	for _, img := range decoded.Images {
		if !validURL(img.URL) {
			continue
		}
		out.Images = append(out.Images, ImageSource(img))
	}
	return out, nil
}

func httpClient(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}
