package llm_client

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Backend    string
	Model      string
	ChatModel  string
	OllamaHost string
	MaxTokens  int
	Timeout    time.Duration
}

// ChatMessage is one turn of history sent when streaming a reply.
type ChatMessage struct {
	Role    string
	Content string
}

type Provider interface {
	Init(cfg Config) error
	Name() string
	AllowedModelOrDefault(model string) string
	GenerateJSON(ctx context.Context, prompt, model string, schema any) (string, error)
	Stream(ctx context.Context, history []ChatMessage, model string, onChunk func(string) error) error
}

// NewProvider builds and initializes the provider named by cfg.Backend.
func NewProvider(cfg Config) (Provider, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "gemini"
	}
	var p Provider
	switch backend {
	case "ollama":
		p = &ollamaProvider{}
	case "gemini":
		p = &geminiProvider{}
	case "anthropic":
		p = &anthropicProvider{}
	default:
		return nil, fmt.Errorf("unsupported LLM backend: %s", backend)
	}
	if err := p.Init(cfg); err != nil {
		return nil, err
	}
	return p, nil
}
