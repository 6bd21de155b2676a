package tools

import (
	"context"
	"fmt"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"agentchat/internal/config"
)

// BuildRegistry assembles the tool registry: the built-ins, then the tools
// declared in config. A config entry naming a built-in keeps its
// implementation and overrides the gating and labels; any other entry is
// declaration-only and reports itself unavailable when called, so the model
// can recover in-turn.
func BuildRegistry(cfg config.AgentConfig, declared []config.ToolConfig) (*Registry, error) {
	r := NewRegistry()

	builtins := []*Tool{CurrentTime()}
	if cfg.DocsDir != "" {
		builtins = append(builtins, DocSearch(cfg.DocsDir))
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}

	for _, tc := range declared {
		t := fromConfig(tc)
		if existing, ok := r.Get(tc.Name); ok {
			t.Run = existing.Run
			if tc.Description == "" {
				t.Decl.Description = existing.Decl.Description
			}
			if len(tc.Parameters) == 0 {
				t.Decl.InputSchema = existing.Decl.InputSchema
			}
		}
		if err := r.Register(t); err != nil {
			return nil, fmt.Errorf("tool %q: %w", tc.Name, err)
		}
	}
	return r, nil
}

func fromConfig(tc config.ToolConfig) *Tool {
	properties := make(map[string]any, len(tc.Parameters))
	for name, p := range tc.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[name] = prop
	}

	serverLabel := tc.ServerLabel
	if serverLabel == "" {
		serverLabel = "builtin"
	}

	name := tc.Name
	return &Tool{
		Decl: mcptypes.Tool{
			Name:        name,
			Description: tc.Description,
			InputSchema: mcptypes.ToolInputSchema{
				Type:       "object",
				Properties: properties,
				Required:   tc.Required,
			},
		},
		ServerLabel:     serverLabel,
		RequireApproval: tc.RequireApproval,
		Run: func(_ context.Context, _ string) (*Result, error) {
			return errorResult(fmt.Sprintf("tool %q has no local implementation", name)), nil
		},
	}
}
