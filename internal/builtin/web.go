package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const fetchUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36"

// FetchPageTool downloads a web page and extracts its readable text.
// The only built-in that touches the network; the selector gates it on the
// caller's hasNetwork context flag.
type FetchPageTool struct {
	httpClient *http.Client
}

func NewFetchPageTool() *FetchPageTool {
	return &FetchPageTool{
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *FetchPageTool) Name() string { return "fetch_page" }
func (t *FetchPageTool) Description() string {
	return "Fetch a web page and return its readable text content."
}
func (t *FetchPageTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "http(s) URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (t *FetchPageTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	rawURL, _ := params["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("only http/https allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing domain in URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}

	return map[string]any{
		"title": article.Title,
		"text":  article.TextContent,
		"url":   rawURL,
	}, nil
}
