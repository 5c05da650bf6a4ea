package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clawd/internal/chat"

	"golang.org/x/net/html"
)

const searchEndpoint = "https://html.duckduckgo.com/html/"

// WebSearchTool 通过 DuckDuckGo 的 HTML 端点做搜索，无需 API key。
// WebSearchTool searches via DuckDuckGo's HTML endpoint, no API key needed.
type WebSearchTool struct {
	httpClient *http.Client
	maxResults int
}

func NewWebSearchTool(timeoutSec, maxResults int) *WebSearchTool {
	if timeoutSec <= 0 {
		timeoutSec = 15
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxResults: maxResults,
	}
}

func (t *WebSearchTool) Name() string {
	return "websearch"
}

func (t *WebSearchTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Search the web and return result titles, URLs and snippets.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"max_results": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results. Defaults to 5.",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("websearch args: %w", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("search query is empty")
	}
	limit := in.MaxResults
	if limit <= 0 || limit > t.maxResults {
		limit = t.maxResults
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchEndpoint,
		strings.NewReader(url.Values{"q": {in.Query}}.Encode()))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; clawd)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return "", fmt.Errorf("search status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	results, err := parseSearchResults(resp.Body, limit)
	if err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"ok":      true,
		"query":   in.Query,
		"results": results,
	}), nil
}

// parseSearchResults 从 DuckDuckGo HTML 里抽取 result__a 链接和 result__snippet 摘要。
// parseSearchResults extracts result__a links and result__snippet text from
// the DuckDuckGo HTML page.
func parseSearchResults(r io.Reader, limit int) ([]searchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	var results []searchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attrValue(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				results = append(results, searchResult{
					Title: nodeText(n),
					URL:   cleanResultURL(attrValue(n, "href")),
				})
			case strings.Contains(class, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = nodeText(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
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
	return strings.TrimSpace(b.String())
}

// cleanResultURL 还原 DuckDuckGo 重定向链接里的原始地址（uddg 参数）。
// cleanResultURL unwraps the original target from DuckDuckGo redirect links.
func cleanResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if uddg := u.Query().Get("uddg"); uddg != "" {
		if decoded, err := url.QueryUnescape(uddg); err == nil {
			return decoded
		}
	}
	if u.Scheme == "" {
		u.Scheme = "https"
		if u.Host == "" && strings.HasPrefix(u.Path, "//") {
			return "https:" + href
		}
	}
	return u.String()
}
