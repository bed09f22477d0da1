package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// MCP server transport types.
const (
	ClientTypeSSE            = "sse"
	ClientTypeStreamableHTTP = "streamable_http"
	ClientTypeStdio          = "stdio"
)

// Config holds the application configuration.
type Config struct {
	LLM        LLMConfig         `mapstructure:"llm"`
	History    HistoryConfig     `mapstructure:"history"`
	Search     SearchConfig      `mapstructure:"search"`
	Log        LogConfig         `mapstructure:"log"`
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
}

// LLMConfig holds the LLM endpoint configuration.
type LLMConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	SystemPrompt   string `mapstructure:"system_prompt"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HistoryConfig holds the persistence configuration.
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`

	// ContextMessages is the number of non-system messages included in the
	// window sent to the model. Denominated in messages, not turns: a tool
	// round consumes 4+ slots, so heavy tool use evicts older turns faster.
	ContextMessages int `mapstructure:"context_messages"`

	ListLimit    int `mapstructure:"list_limit"`
	HistoryLimit int `mapstructure:"history_limit"`
}

// SearchConfig holds the web search configuration.
type SearchConfig struct {
	Provider   string        `mapstructure:"provider"`
	MaxResults int           `mapstructure:"max_results"`
	SearXNG    SearXNGConfig `mapstructure:"searxng"`
	Brave      BraveConfig   `mapstructure:"brave"`

	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SearXNGConfig holds the SearXNG provider configuration.
type SearXNGConfig struct {
	URL string `mapstructure:"url"`
}

// BraveConfig holds the Brave Search provider configuration.
type BraveConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MCPServerConfig describes one MCP server to attach tools from.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    string            `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// Load loads the configuration from config.yaml, or from the file named by
// the CONFIG_PATH environment variable if set. The OPENAI_API_KEY
// environment variable overrides llm.api_key when present.
func Load() (*Config, error) {
	v := viper.New()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_seconds", 90)
	v.SetDefault("history.db_path", "chat_memory.db")
	v.SetDefault("history.context_messages", 24)
	v.SetDefault("history.list_limit", 20)
	v.SetDefault("history.history_limit", 200)
	v.SetDefault("search.provider", "searxng")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.timeout_seconds", 15)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}

	return &config, nil
}
