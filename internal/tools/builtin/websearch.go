package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

const defaultBraveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

type braveWebResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type braveSearchResponse struct {
	Web struct {
		Results []braveWebResult `json:"results"`
	} `json:"web"`
}

// NewWebSearchTool builds the web_search tool, a thin client over Brave
// Search's REST API, with a pluggable endpoint (environment variable
// override) and sensible client defaults.
func NewWebSearchTool(apiKey string) *tools.Tool {
	endpoint := defaultBraveSearchEndpoint
	if override := os.Getenv("SYNE_WEB_SEARCH_ENDPOINT"); override != "" {
		endpoint = override
	}
	client := &http.Client{Timeout: 15 * time.Second}

	return &tools.Tool{
		Name:        "web_search",
		Description: "Searches the web and returns the top results (title, URL, snippet).",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"query": {Type: "string", Description: "Search query"},
				"count": {Type: "integer", Description: "Number of results to return, default 5, max 10"},
			},
			Required: []string{"query"},
		},
		RequiresAccessLevel: agent.AccessPublic,
		ScrubLevel:          tools.ScrubSafe,
		Enabled:             apiKey != "",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			count := 5
			if c, ok := args["count"].(float64); ok && c > 0 {
				count = int(c)
				if count > 10 {
					count = 10
				}
			}

			reqURL := fmt.Sprintf("%s?q=%s&count=%d", endpoint, url.QueryEscape(query), count)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return "", fmt.Errorf("build request: %w", err)
			}
			req.Header.Set("X-Subscription-Token", apiKey)
			req.Header.Set("Accept", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("search request failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("search backend returned status %d", resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
			if err != nil {
				return "", fmt.Errorf("read search response: %w", err)
			}

			var parsed braveSearchResponse
			if err := json.Unmarshal(body, &parsed); err != nil {
				return "", fmt.Errorf("parse search response: %w", err)
			}

			if len(parsed.Web.Results) == 0 {
				return "no results found", nil
			}

			var sb strings.Builder
			for i, r := range parsed.Web.Results {
				if i >= count {
					break
				}
				fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
			}
			return sb.String(), nil
		},
	}
}
