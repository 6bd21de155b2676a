package config

import "time"

// Config represents the complete agentchat configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Tools    []ToolConfig   `yaml:"tools"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig defines SQLite storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

// LLMConfig defines the LLM provider settings.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens"`
}

// AgentConfig defines the default agent persona and per-turn limits.
type AgentConfig struct {
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description"`
	Instructions   string        `yaml:"instructions"`
	StarterPrompts []string      `yaml:"starter_prompts"`
	MaxToolRounds  int           `yaml:"max_tool_rounds"`
	TurnTimeout    time.Duration `yaml:"turn_timeout"`
	DocsDir        string        `yaml:"docs_dir"`
}

// ToolConfig declares a tool exposed to the model. Tools marked
// require_approval interrupt the turn for a human decision before executing.
type ToolConfig struct {
	Name            string                  `yaml:"name"`
	Description     string                  `yaml:"description"`
	ServerLabel     string                  `yaml:"server_label"`
	RequireApproval bool                    `yaml:"require_approval"`
	Parameters      map[string]ToolProperty `yaml:"parameters"`
	Required        []string                `yaml:"required"`
}

// ToolProperty describes one parameter of a tool's input schema.
type ToolProperty struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}
