package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudwego/eino/schema"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"agentchat/internal/config"
)

func TestToolInfoConversion(t *testing.T) {
	decl := mcptypes.Tool{
		Name:        "search_tickets",
		Description: "Search the ticket system.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Free-text query.",
				},
			},
			Required: []string{"query"},
		},
	}

	info, err := ToolInfo(decl)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if info.Name != "search_tickets" || info.Desc != "Search the ticket system." {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.ParamsOneOf == nil {
		t.Error("params not converted")
	}
}

func TestParameterInfoMapping(t *testing.T) {
	info, err := parameterInfo(map[string]any{
		"type":        "integer",
		"description": "Max results.",
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if info.Type != schema.Integer || info.Desc != "Max results." {
		t.Errorf("unexpected info: %+v", info)
	}

	enum, err := parameterInfo(map[string]any{
		"type": "string",
		"enum": []any{"open", "closed"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(enum.Enum) != 2 || enum.Enum[0] != "open" {
		t.Errorf("enum = %v", enum.Enum)
	}

	arr, err := parameterInfo(map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "number"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if arr.Type != schema.Array || arr.ElemInfo == nil || arr.ElemInfo.Type != schema.Number {
		t.Errorf("array info: %+v", arr)
	}

	obj, err := parameterInfo(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if obj.Type != schema.Object || obj.SubParams["name"] == nil {
		t.Errorf("object info: %+v", obj)
	}

	untyped, err := parameterInfo(map[string]any{"description": "untyped"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if untyped.Type != schema.String {
		t.Errorf("untyped mapped to %q", untyped.Type)
	}
}

func TestRegistryOverride(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(CurrentTime()); err != nil {
		t.Fatalf("register: %v", err)
	}

	gated := CurrentTime()
	gated.RequireApproval = true
	if err := r.Register(gated); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	if len(r.All()) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(r.All()))
	}
	got, ok := r.Get("current_time")
	if !ok || !got.RequireApproval {
		t.Errorf("override lost: %+v", got)
	}
}

func TestCurrentTimeTool(t *testing.T) {
	res, err := CurrentTime().Run(context.Background(), `{"timezone":"UTC"}`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var out struct {
		Status   string `json:"status"`
		Time     string `json:"time"`
		Timezone string `json:"timezone"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Status != "ok" || out.Time == "" || out.Timezone != "UTC" {
		t.Errorf("unexpected output: %+v", out)
	}
}

func TestCurrentTimeUnknownTimezone(t *testing.T) {
	res, err := CurrentTime().Run(context.Background(), `{"timezone":"Mars/Olympus"}`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Status != "error" {
		t.Errorf("status = %q", out.Status)
	}
}

func TestDocSearchCitesMatches(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("refunds.md", "# Refunds\nRefunds are processed within 5 days.\n")
	write("shipping.md", "Orders ship within 2 days.\n")
	write("notes.bin", "refunds here should be ignored\n")

	res, err := DocSearch(dir).Run(context.Background(), `{"query":"refunds"}`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var out struct {
		Status  string `json:"status"`
		Results []struct {
			File    string `json:"file"`
			Line    int    `json:"line"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Status != "ok" {
		t.Fatalf("status = %q", out.Status)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(out.Results), out.Results)
	}
	for _, m := range out.Results {
		if m.File != "refunds.md" {
			t.Errorf("match from %q", m.File)
		}
	}

	if len(res.Annotations) != 2 {
		t.Fatalf("expected 2 annotations, got %d", len(res.Annotations))
	}
	ann := res.Annotations[0]
	if ann.Type != "file_citation" || ann.Label != "refunds.md" || ann.Quote == "" {
		t.Errorf("annotation: %+v", ann)
	}
}

func TestDocSearchEmptyQuery(t *testing.T) {
	res, err := DocSearch(t.TempDir()).Run(context.Background(), `{"query":"  "}`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Status != "error" {
		t.Errorf("status = %q", out.Status)
	}
}

func TestBuildRegistryFromConfig(t *testing.T) {
	agentCfg := config.AgentConfig{DocsDir: t.TempDir()}
	declared := []config.ToolConfig{
		{
			Name:            "doc_search",
			ServerLabel:     "docs",
			RequireApproval: true,
		},
		{
			Name:            "create_ticket",
			Description:     "Open a helpdesk ticket.",
			ServerLabel:     "helpdesk",
			RequireApproval: true,
			Parameters: map[string]config.ToolProperty{
				"subject": {Type: "string", Description: "Ticket subject."},
			},
			Required: []string{"subject"},
		},
	}

	r, err := BuildRegistry(agentCfg, declared)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	docSearch, ok := r.Get("doc_search")
	if !ok {
		t.Fatal("doc_search missing")
	}
	if !docSearch.RequireApproval || docSearch.ServerLabel != "docs" {
		t.Errorf("config override not applied: %+v", docSearch)
	}
	if docSearch.Decl.Description == "" {
		t.Error("built-in description lost on override")
	}
	res, err := docSearch.Run(context.Background(), `{"query":"anything"}`)
	if err != nil || res == nil {
		t.Fatalf("built-in run lost on override: %v", err)
	}

	ticket, ok := r.Get("create_ticket")
	if !ok {
		t.Fatal("create_ticket missing")
	}
	res, err = ticket.Run(context.Background(), `{"subject":"hi"}`)
	if err != nil {
		t.Fatalf("declaration-only run: %v", err)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Status != "error" {
		t.Errorf("declaration-only tool status = %q", out.Status)
	}

	infos, err := r.Infos()
	if err != nil {
		t.Fatalf("infos: %v", err)
	}
	if len(infos) != 3 {
		t.Errorf("expected 3 tool infos, got %d", len(infos))
	}
}
