package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"agentchat/internal/stream"
)

// Result is the outcome of a tool invocation. Content is the text handed
// back to the model; Annotations are citations surfaced to the client
// alongside the assistant text.
type Result struct {
	Content     string
	Annotations []stream.Annotation
}

// RunFunc executes a tool against its JSON-encoded arguments.
type RunFunc func(ctx context.Context, argumentsInJSON string) (*Result, error)

// Tool pairs an MCP tool declaration with its local implementation and
// approval gating. Tools with RequireApproval set suspend the turn until the
// user decides.
type Tool struct {
	Decl            mcptypes.Tool
	ServerLabel     string
	RequireApproval bool
	Run             RunFunc
}

var _ tool.InvokableTool = (*Tool)(nil)

// Info returns tool metadata for model planning.
func (t *Tool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return ToolInfo(t.Decl)
}

// InvokableRun executes the tool and returns its content. Annotations are
// dropped on this path; callers that need them use Run directly.
func (t *Tool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	res, err := t.Run(ctx, argumentsInJSON)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// Registry holds the tools exposed to the model, in registration order.
type Registry struct {
	tools  []*Tool
	byName map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Tool)}
}

// Register adds a tool. Registering a name twice replaces the earlier tool,
// which lets config entries override built-in gating.
func (r *Registry) Register(t *Tool) error {
	if t.Decl.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if t.Run == nil {
		return fmt.Errorf("tool %q has no run function", t.Decl.Name)
	}
	if existing, ok := r.byName[t.Decl.Name]; ok {
		for i, tl := range r.tools {
			if tl == existing {
				r.tools[i] = t
				break
			}
		}
	} else {
		r.tools = append(r.tools, t)
	}
	r.byName[t.Decl.Name] = t
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// All returns the registered tools in registration order.
func (r *Registry) All() []*Tool {
	return r.tools
}

// Infos returns eino tool metadata for every registered tool, for binding
// via WithTools.
func (r *Registry) Infos() ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		info, err := ToolInfo(t.Decl)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Decl.Name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
