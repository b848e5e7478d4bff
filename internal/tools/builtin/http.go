package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

const maxHTTPResponseBytes = 128 * 1024

// NewHTTPFetchTool builds the http_fetch tool — bounded GET/POST via
// net/http, narrowed to a response cap suited to feeding model context.
func NewHTTPFetchTool() *tools.Tool {
	client := &http.Client{Timeout: 20 * time.Second}

	return &tools.Tool{
		Name:        "http_fetch",
		Description: "Fetches a URL via HTTP GET or POST and returns the response body, truncated to 128KB.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"url":    {Type: "string", Description: "URL to fetch"},
				"method": {Type: "string", Description: "GET or POST", Enum: []interface{}{"GET", "POST"}, Default: "GET"},
				"body":   {Type: "string", Description: "Request body for POST"},
			},
			Required: []string{"url"},
		},
		RequiresAccessLevel: agent.AccessFamily,
		ScrubLevel:          tools.ScrubSafe,
		Enabled:             true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			url, _ := args["url"].(string)
			if url == "" {
				return "", fmt.Errorf("url is required")
			}
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return "", fmt.Errorf("url must start with http:// or https://")
			}
			method, _ := args["method"].(string)
			if method == "" {
				method = "GET"
			}
			body, _ := args["body"].(string)

			var reqBody io.Reader
			if method == "POST" && body != "" {
				reqBody = strings.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
			if err != nil {
				return "", fmt.Errorf("build request: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			limited := io.LimitReader(resp.Body, maxHTTPResponseBytes)
			data, err := io.ReadAll(limited)
			if err != nil {
				return "", fmt.Errorf("read response: %w", err)
			}

			return fmt.Sprintf("status=%d\n%s", resp.StatusCode, string(data)), nil
		},
	}
}
