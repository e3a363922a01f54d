package websearch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tmc/langchaingo/llms"
)

// ToolName is the function name offered to the model.
const ToolName = "web_search"

// Definitions returns the tool schema handed to the provider when web
// search is enabled for a turn.
func (c *Client) Definitions() []llms.Tool {
	return []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        ToolName,
				Description: "Search the web for current, up-to-date information",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "The search query - be specific and include relevant keywords",
						},
					},
					"required": []string{"query"},
				},
			},
		},
	}
}

type searchArgs struct {
	Query string `json:"query"`
}

// Execute runs a named tool call with the model-supplied JSON arguments
// and returns the JSON-encoded result payload. Models occasionally emit
// malformed argument JSON; it is repaired before parsing.
func (c *Client) Execute(ctx context.Context, name, args string) (string, error) {
	if name != ToolName {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	var parsed searchArgs
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(args)
		if repairErr != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return "", fmt.Errorf("invalid tool arguments after repair: %w", err)
		}
	}
	if parsed.Query == "" {
		return "", fmt.Errorf("tool arguments missing query")
	}

	results := c.Search(ctx, parsed.Query, 0)
	encoded, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to encode search results: %w", err)
	}
	return string(encoded), nil
}
