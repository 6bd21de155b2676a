package tools

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// ToolInfo converts an MCP tool declaration into eino tool metadata. Both
// sides describe a JSON Schema object; only the property shapes differ.
func ToolInfo(t mcptypes.Tool) (*schema.ToolInfo, error) {
	required := make(map[string]bool, len(t.InputSchema.Required))
	for _, name := range t.InputSchema.Required {
		required[name] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(t.InputSchema.Properties))
	for name, raw := range t.InputSchema.Properties {
		info, err := parameterInfo(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		info.Required = required[name]
		params[name] = info
	}

	return &schema.ToolInfo{
		Name:        t.Name,
		Desc:        t.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func parameterInfo(raw any) (*schema.ParameterInfo, error) {
	propMap, ok := raw.(map[string]any)
	if !ok {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("marshal property: %w", err)
		}
		if err := json.Unmarshal(data, &propMap); err != nil {
			return nil, fmt.Errorf("property is not an object: %w", err)
		}
	}

	info := &schema.ParameterInfo{}

	if typeVal, ok := propMap["type"].(string); ok {
		info.Type = dataType(typeVal)
	} else {
		info.Type = schema.String
	}
	if desc, ok := propMap["description"].(string); ok {
		info.Desc = desc
	}
	if enumVal, ok := propMap["enum"].([]any); ok {
		for _, v := range enumVal {
			if s, ok := v.(string); ok {
				info.Enum = append(info.Enum, s)
			}
		}
	}
	if items, ok := propMap["items"]; ok && info.Type == schema.Array {
		elem, err := parameterInfo(items)
		if err != nil {
			return nil, fmt.Errorf("array items: %w", err)
		}
		info.ElemInfo = elem
	}
	if props, ok := propMap["properties"].(map[string]any); ok && info.Type == schema.Object {
		sub := make(map[string]*schema.ParameterInfo, len(props))
		for name, p := range props {
			pi, err := parameterInfo(p)
			if err != nil {
				return nil, fmt.Errorf("nested property %q: %w", name, err)
			}
			sub[name] = pi
		}
		info.SubParams = sub
	}

	return info, nil
}

func dataType(t string) schema.DataType {
	switch t {
	case "string":
		return schema.String
	case "number":
		return schema.Number
	case "integer":
		return schema.Integer
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	case "null":
		return schema.Null
	default:
		return schema.String
	}
}
