package llm

import (
	"github.com/comigor/chatmem/internal/config"
	"github.com/sashabaranov/go-openai"
)

// NewClient creates a new OpenAI-compatible client.
func NewClient(cfg config.LLMConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(clientConfig)
}
