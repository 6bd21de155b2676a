package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"agentchat/internal/stream"
)

// docSearchMaxResults caps how many snippets a single search returns.
const docSearchMaxResults = 8

// CurrentTime returns the built-in clock tool.
func CurrentTime() *Tool {
	return &Tool{
		Decl: mcptypes.Tool{
			Name:        "current_time",
			Description: "Get the current date and time, optionally in a specific IANA timezone.",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA timezone name such as Europe/Berlin. Defaults to UTC.",
					},
				},
			},
		},
		ServerLabel: "builtin",
		Run:         runCurrentTime,
	}
}

func runCurrentTime(_ context.Context, argumentsInJSON string) (*Result, error) {
	var args struct {
		Timezone string `json:"timezone"`
	}
	if argumentsInJSON != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
			return nil, fmt.Errorf("parse arguments: %w", err)
		}
	}

	loc := time.UTC
	if args.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(args.Timezone)
		if err != nil {
			return errorResult(fmt.Sprintf("unknown timezone %q", args.Timezone)), nil
		}
	}

	out, err := json.Marshal(map[string]any{
		"status":   "ok",
		"time":     time.Now().In(loc).Format(time.RFC3339),
		"timezone": loc.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tool output: %w", err)
	}
	return &Result{Content: string(out)}, nil
}

// DocSearch returns the built-in document search tool reading from dir.
// Matches carry file citations so the client can render sources.
func DocSearch(dir string) *Tool {
	return &Tool{
		Decl: mcptypes.Tool{
			Name:        "doc_search",
			Description: "Search the local knowledge base for lines matching a query and cite the source files.",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Text to look for, matched case-insensitively.",
					},
				},
				Required: []string{"query"},
			},
		},
		ServerLabel: "builtin",
		Run: func(ctx context.Context, argumentsInJSON string) (*Result, error) {
			return runDocSearch(ctx, dir, argumentsInJSON)
		},
	}
}

type docMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

func runDocSearch(ctx context.Context, dir, argumentsInJSON string) (*Result, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return errorResult("query is required"), nil
	}
	if dir == "" {
		return errorResult("no knowledge base configured"), nil
	}

	var matches []docMatch
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || len(matches) >= docSearchMaxResults {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
		default:
			return nil
		}
		found, err := searchFile(path, query, docSearchMaxResults-len(matches))
		if err != nil {
			return err
		}
		for i := range found {
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				rel = path
			}
			found[i].File = rel
		}
		matches = append(matches, found...)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return errorResult("knowledge base directory not found"), nil
		}
		return nil, fmt.Errorf("search docs: %w", err)
	}

	out, err := json.Marshal(map[string]any{
		"status":  "ok",
		"query":   query,
		"results": matches,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tool output: %w", err)
	}

	annotations := make([]stream.Annotation, 0, len(matches))
	for _, m := range matches {
		annotations = append(annotations, stream.Annotation{
			Type:   "file_citation",
			Label:  filepath.Base(m.File),
			FileID: m.File,
			Quote:  m.Snippet,
		})
	}
	return &Result{Content: string(out), Annotations: annotations}, nil
}

func searchFile(path, query string, limit int) ([]docMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	needle := strings.ToLower(query)
	var found []docMatch
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.Contains(strings.ToLower(text), needle) {
			found = append(found, docMatch{Line: line, Snippet: strings.TrimSpace(text)})
			if len(found) >= limit {
				break
			}
		}
	}
	return found, scanner.Err()
}

func errorResult(msg string) *Result {
	out, _ := json.Marshal(map[string]any{
		"status": "error",
		"error":  msg,
	})
	return &Result{Content: string(out)}
}
