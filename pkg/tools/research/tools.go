// Package research provides the web search tool backed by the configured
// search provider.
package research

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/opsloom/opsloom/pkg/tools"
)

func init() {
	tools.Register(tools.ToolDefinition{
		ID:          "web_search",
		Name:        "Web Search",
		Description: "Search the web for documentation, error messages and known issues",
		Category:    tools.CategoryResearch,
	}, NewWebSearchTool)
}

type WebSearchInput struct {
	Query string `json:"query"`
}

func NewWebSearchTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web. Use for error messages, software documentation and version compatibility questions.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Required: true, Desc: "Search query"},
		}),
	}, func(ctx context.Context, input *WebSearchInput) (string, error) {
		if tc.Searcher == nil {
			return "Error: web search not configured", nil
		}
		results, err := tc.Searcher.Search(ctx, input.Query)
		if err != nil {
			return fmt.Sprintf("Error: search failed: %v", err), nil
		}
		if results == "" {
			return "No results found.", nil
		}
		return results, nil
	})
}
