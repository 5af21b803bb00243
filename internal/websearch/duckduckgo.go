// Package websearch provides the web search collaborator used by search nodes.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vk/flowgridgo/internal/ctxlog"
)

// DefaultBaseURL is the DuckDuckGo Instant Answer API endpoint.
const DefaultBaseURL = "https://api.duckduckgo.com/"

const defaultUserAgent = "flowgrid-search/1.0"

// Result is one ranked search hit. Rank starts at 1.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Rank    int    `json:"rank"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// DuckDuckGo queries the DuckDuckGo Instant Answer API.
type DuckDuckGo struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// NewDuckDuckGo returns a client for the public API.
func NewDuckDuckGo(userAgent string) *DuckDuckGo {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &DuckDuckGo{BaseURL: DefaultBaseURL, UserAgent: userAgent, Client: &http.Client{}}
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Results       []ddgTopic `json:"Results"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// ddgTopic is either a single topic or, when Name is set, a group of
// topics under Topics.
type ddgTopic struct {
	FirstURL string     `json:"FirstURL"`
	Text     string     `json:"Text"`
	Name     string     `json:"Name"`
	Topics   []ddgTopic `json:"Topics"`
}

// Search returns up to limit results, taken in order from the abstract,
// the direct results and the related topics (groups are flattened).
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	logger := ctxlog.FromContext(ctx)

	params := url.Values{}
	params.Add("q", query)
	params.Add("format", "json")
	params.Add("no_html", "1")
	params.Add("skip_disambig", "1")

	base := d.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", d.UserAgent)

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger.Debug("Querying DuckDuckGo.", "query", query)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	var parsed ddgResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}
	return collect(&parsed, limit), nil
}

func collect(r *ddgResponse, limit int) []Result {
	if limit < 0 {
		limit = 0
	}
	results := make([]Result, 0, limit)
	seen := make(map[string]bool)
	add := func(title, link, snippet string) bool {
		if len(results) >= limit {
			return false
		}
		if link == "" || seen[link] {
			return true
		}
		seen[link] = true
		results = append(results, Result{Title: title, URL: link, Snippet: snippet, Rank: len(results) + 1})
		return true
	}

	if r.AbstractURL != "" {
		add(r.Heading, r.AbstractURL, r.AbstractText)
	}
	var walk func(topics []ddgTopic) bool
	walk = func(topics []ddgTopic) bool {
		for _, t := range topics {
			if len(t.Topics) > 0 {
				if !walk(t.Topics) {
					return false
				}
				continue
			}
			if !add(titleOf(t.Text), makeAbsoluteURL(t.FirstURL), t.Text) {
				return false
			}
		}
		return true
	}
	if walk(r.Results) {
		walk(r.RelatedTopics)
	}
	return results
}

// titleOf takes the text up to the first " - ", which is how the API
// separates a topic's name from its description.
func titleOf(text string) string {
	if i := strings.Index(text, " - "); i > 0 {
		return text[:i]
	}
	return text
}

// makeAbsoluteURL converts relative DuckDuckGo URLs to absolute URLs.
func makeAbsoluteURL(urlPath string) string {
	if strings.HasPrefix(urlPath, "/") {
		return "https://duckduckgo.com" + urlPath
	}
	return urlPath
}
