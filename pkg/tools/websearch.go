package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/comigor/chatmem/internal/search"
)

// WebSearchName is the tool name advertised to the model.
const WebSearchName = "web_search"

const webSearchSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Search query"},
		"max_results": {"type": "integer", "description": "Number of results", "default": 5}
	},
	"required": ["query"]
}`

// WebSearch is the built-in web search tool. It dispatches to whichever
// search provider the manager is configured with and returns the results
// as a JSON array of {title, url, snippet} records.
type WebSearch struct {
	mgr *search.Manager

	// maxResults caps the model-requested result count.
	maxResults int
}

// NewWebSearch creates the web search tool. maxResults bounds how many
// results a single call may return regardless of what the model asks for.
func NewWebSearch(mgr *search.Manager, maxResults int) *WebSearch {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearch{mgr: mgr, maxResults: maxResults}
}

func (w *WebSearch) Name() string { return WebSearchName }

func (w *WebSearch) Description() string {
	return "Search the web for up-to-date information."
}

func (w *WebSearch) Parameters() json.RawMessage {
	return json.RawMessage(webSearchSchema)
}

func (w *WebSearch) Call(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("web_search: query is required")
	}

	count := w.maxResults
	if n, ok := args["max_results"].(float64); ok && n > 0 && int(n) < count {
		count = int(n)
	}

	results, err := w.mgr.Search(ctx, query, search.Options{Count: count})
	if err != nil {
		return "", fmt.Errorf("web_search: %w", err)
	}
	if results == nil {
		results = []search.Result{}
	}

	out, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("web_search: encode results: %w", err)
	}
	return string(out), nil
}
