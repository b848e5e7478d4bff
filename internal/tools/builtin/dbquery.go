package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

// QueryRunner is the narrow slice of the storage layer db_query needs:
// a single read-only SELECT/EXPLAIN/SHOW statement against the bot's own
// database, for self-diagnosis. Supplemented from the original Python
// implementation's db_query tool, which the distilled spec omitted.
type QueryRunner interface {
	Query(ctx context.Context, sql string) (columns []string, rows [][]string, err error)
}

var sqlLeadingCommentRE = regexp.MustCompile(`(?s)^(\s*--[^\n]*\n|\s*/\*.*?\*/)+`)

var redactColumns = map[string]bool{
	"api_key": true, "token": true, "secret": true, "password": true,
	"access_token": true, "refresh_token": true, "bot_token": true, "credentials": true,
}

func isReadOnlySQL(sql string) bool {
	cleaned := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	cleaned = sqlLeadingCommentRE.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return false
	}
	firstWord := strings.ToUpper(strings.Fields(cleaned)[0])
	switch firstWord {
	case "SELECT", "EXPLAIN", "SHOW":
		return true
	default:
		return false
	}
}

func redactColumn(name string) bool {
	lower := strings.ToLower(name)
	for redacted := range redactColumns {
		if strings.Contains(lower, redacted) {
			return true
		}
	}
	return false
}

const (
	maxDBQueryRows   = 50
	maxDBQueryOutput = 8000
)

// NewDBQueryTool builds the owner-only db_query tool: strictly read-only
// introspection of the bot's own database, with credential-shaped columns
// redacted in output.
func NewDBQueryTool(runner QueryRunner) *tools.Tool {
	return &tools.Tool{
		Name:        "db_query",
		Description: "Runs a read-only SQL query (SELECT/EXPLAIN/SHOW only) against the bot's own database, for self-diagnosis.",
		Parameters: &tools.JSONSchema{
			Type:       "object",
			Properties: map[string]*tools.JSONSchema{"sql": {Type: "string", Description: "A SELECT, EXPLAIN, or SHOW statement"}},
			Required:   []string{"sql"},
		},
		RequiresAccessLevel: agent.AccessOwner,
		ScrubLevel:          tools.ScrubSafe,
		Enabled:             runner != nil,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			sql, _ := args["sql"].(string)
			if sql == "" {
				return "", fmt.Errorf("sql is required")
			}
			if !isReadOnlySQL(sql) {
				return "", fmt.Errorf("only SELECT, EXPLAIN, and SHOW statements are permitted")
			}

			columns, rows, err := runner.Query(ctx, sql)
			if err != nil {
				return "", fmt.Errorf("query failed: %w", err)
			}

			var sb strings.Builder
			sb.WriteString(strings.Join(columns, " | "))
			sb.WriteString("\n")
			for i, row := range rows {
				if i >= maxDBQueryRows {
					fmt.Fprintf(&sb, "... (%d more rows)\n", len(rows)-maxDBQueryRows)
					break
				}
				redacted := make([]string, len(row))
				for j, val := range row {
					if j < len(columns) && redactColumn(columns[j]) {
						if val != "" {
							redacted[j] = fmt.Sprintf("***(%d chars)", len(val))
						} else {
							redacted[j] = "(empty)"
						}
					} else {
						redacted[j] = val
					}
				}
				sb.WriteString(strings.Join(redacted, " | "))
				sb.WriteString("\n")
			}

			out := sb.String()
			if len(out) > maxDBQueryOutput {
				out = out[:maxDBQueryOutput] + "\n...[truncated]"
			}
			return out, nil
		},
	}
}
