package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "agentchat"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/agentchat.db"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8080"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "Assistant"
	}
	if cfg.Agent.MaxToolRounds == 0 {
		cfg.Agent.MaxToolRounds = 8
	}
	if cfg.Agent.TurnTimeout == 0 {
		cfg.Agent.TurnTimeout = 5 * time.Minute
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.API.Token == "" {
		return fmt.Errorf("api.token is required")
	}
	if envVarPattern.MatchString(cfg.API.Token) {
		matches := envVarPattern.FindStringSubmatch(cfg.API.Token)
		if len(matches) > 1 {
			return fmt.Errorf("api.token: environment variable ${%s} is not set", matches[1])
		}
	}
	if cfg.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %q", cfg.LLM.Provider)
	}
	if envVarPattern.MatchString(cfg.LLM.APIKey) {
		matches := envVarPattern.FindStringSubmatch(cfg.LLM.APIKey)
		if len(matches) > 1 {
			return fmt.Errorf("llm.api_key: environment variable ${%s} is not set", matches[1])
		}
	}
	if cfg.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}
	if cfg.Agent.MaxToolRounds <= 0 {
		return fmt.Errorf("agent.max_tool_rounds must be positive")
	}
	seen := map[string]bool{}
	for _, tool := range cfg.Tools {
		if tool.Name == "" {
			return fmt.Errorf("tools: every tool needs a name")
		}
		if seen[tool.Name] {
			return fmt.Errorf("tools: duplicate tool name %q", tool.Name)
		}
		seen[tool.Name] = true
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
