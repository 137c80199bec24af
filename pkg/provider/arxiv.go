package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const arxivURL = "https://export.arxiv.org/api/query"

// Arxiv searches paper abstracts through the arXiv Atom API.
type Arxiv struct {
	BaseURL string
	Client  *http.Client
}

type arxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []arxivLink `xml:"link"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
	Rel  string `xml:"rel,attr"`
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []arxivEntry `xml:"entry"`
}

func (a *Arxiv) Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	endpoint := arxivURL
	if a.BaseURL != "" {
		endpoint = a.BaseURL
	}
	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(opts.limit()))
	params.Add("start", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to create arxiv request: %w", err)
	}
	resp, err := httpClient(a.Client).Do(req)
	if err != nil {
		return SearchResult{}, upstream("arxiv", "search", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SearchResult{}, upstream("arxiv", "search", err)
	}
	if resp.StatusCode != http.StatusOK {
		return SearchResult{}, statusError("arxiv", resp.StatusCode, body)
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return SearchResult{}, upstream("arxiv", "search", fmt.Errorf("failed to unmarshal XML: %w", err))
	}

	var out SearchResult
	for _, entry := range feed.Entry {
		link := entry.ID
		for _, l := range entry.Link {
			if l.Rel == "alternate" || l.Type == "text/html" {
				link = l.Href
				break
			}
		}
		if !validURL(link) {
			continue
		}
		content := strings.TrimSpace(entry.Summary)
		if entry.Published != "" {
			content = "Published: " + entry.Published + "\n" + content
		}
		out.Results = append(out.Results, Source{
			URL:     link,
			Title:   strings.Join(strings.Fields(entry.Title), " "),
			Content: content,
		})
	}
	return out, nil
}
