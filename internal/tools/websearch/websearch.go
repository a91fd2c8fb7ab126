// Package websearch provides the "web_search" tool. It is only registered
// when a search collaborator is configured, so the service never sees the
// tool otherwise.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/internal/tools"
)

// Name is the function name advertised to the service.
const Name = "web_search"

// maxResultRunes caps the text sent back so a verbose search backend cannot
// flood the conversation context.
const maxResultRunes = 4000

// Searcher answers a free-text query with a textual summary of results.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type args struct {
	Query string `json:"query"`
}

// New returns the web_search tool backed by s.
func New(s Searcher) tools.Tool {
	return tools.Tool{
		Definition: tools.Function(Name,
			"Search the web for current information such as news, opening hours or facts you are unsure about.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "The search query."},
				},
				"required": []string{"query"},
			}),
		Progress: "Searching the web…",
		Handler: func(ctx context.Context, raw string) (tools.Result, error) {
			var a args
			if err := tools.DecodeArgs(raw, &a); err != nil {
				return tools.Result{}, err
			}
			q := strings.TrimSpace(a.Query)
			if q == "" {
				return tools.Result{}, tools.InvalidArguments(errors.New("query must not be empty"))
			}
			text, err := s.Search(ctx, q)
			if err != nil {
				return tools.Result{}, tools.Upstream(fmt.Errorf("search: %w", err))
			}
			text = truncate(strings.TrimSpace(text), maxResultRunes)
			if text == "" {
				text = "No results."
			}
			return tools.Result{Output: text, Status: "Searched: " + q}, nil
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
