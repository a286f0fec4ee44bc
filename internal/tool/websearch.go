package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	maxSearchResults      = 20
)

// HTTPDoer is the subset of *http.Client the search tool needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebSearch queries an HTML search results page and extracts title, URL
// and snippet for each hit.
type WebSearch struct {
	endpoint string
	client   HTTPDoer
}

func NewWebSearch(endpoint string, client HTTPDoer) *WebSearch {
	if endpoint == "" {
		endpoint = DefaultSearchEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &WebSearch{endpoint: endpoint, client: client}
}

func (t *WebSearch) Info() Info {
	return Info{
		Name:        "web_search",
		Description: "Search the web for documentation, code examples and API references.",
		Parameters: object(map[string]any{
			"query": prop("string", "The search query"),
			"count": prop("integer", "Number of results (default 5, max 20)"),
		}, "query"),
		Timeout: 30 * time.Second,
	}
}

type searchHit struct {
	title, url, snippet string
}

func (t *WebSearch) Execute(ctx context.Context, args map[string]any) (Output, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return Output{}, err
	}
	count, err := intArg(args, "count", 5)
	if err != nil {
		return Output{}, err
	}
	if count <= 0 {
		count = 5
	}
	count = min(count, maxSearchResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint,
		strings.NewReader(url.Values{"q": {query}}.Encode()))
	if err != nil {
		return Output{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "codecrew/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		return Output{}, Retryable(fmt.Errorf("search request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return Output{}, Retryable(fmt.Errorf("search returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return Output{}, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return Output{}, fmt.Errorf("parse results: %w", err)
	}
	hits := extractHits(doc, count)
	if len(hits) == 0 {
		return Text("No results found for query: " + query), nil
	}

	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, fmt.Sprintf("Title: %s\nURL: %s\nDescription: %s\n", h.title, h.url, h.snippet))
	}
	return Text(strings.Join(parts, "\n---\n")), nil
}

// extractHits walks the results page. Each hit is an anchor with class
// result__a, optionally followed by an element with class result__snippet.
func extractHits(root *html.Node, limit int) []searchHit {
	var hits []searchHit
	done := false
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if done {
			return
		}
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				if len(hits) == limit {
					done = true
					return
				}
				hits = append(hits, searchHit{title: nodeText(n), url: resultURL(attr(n, "href"))})
				return
			case hasClass(n, "result__snippet"):
				if len(hits) > 0 && hits[len(hits)-1].snippet == "" {
					hits[len(hits)-1].snippet = nodeText(n)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	for i := range hits {
		if hits[i].snippet == "" {
			hits[i].snippet = "No description"
		}
	}
	return hits
}

// resultURL unwraps redirect links of the form /l/?uddg=<target>.
func resultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
