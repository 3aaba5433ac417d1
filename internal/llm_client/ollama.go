package llm_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

type ollamaProvider struct {
	client    *api.Client
	model     string
	chatModel string
}

const ollamaDefault = "phi4:latest"

func (p *ollamaProvider) Init(cfg Config) error {
	if host := strings.TrimSpace(cfg.OllamaHost); host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return fmt.Errorf("ollama: bad host %q: %w", host, err)
		}
		p.client = api.NewClient(u, http.DefaultClient)
	} else {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return fmt.Errorf("ollama client init: %w", err)
		}
		p.client = c
	}
	p.model = ollamaDefault
	if strings.TrimSpace(cfg.Model) != "" {
		p.model = cfg.Model
	}
	p.chatModel = p.model
	if strings.TrimSpace(cfg.ChatModel) != "" {
		p.chatModel = cfg.ChatModel
	}
	return nil
}

func (p *ollamaProvider) Name() string { return "ollama" }

func (p *ollamaProvider) AllowedModelOrDefault(model string) string {
	m := strings.TrimSpace(model)
	if m == "" {
		if p.model != "" {
			return p.model
		}
		return ollamaDefault
	}
	return m
}

func (p *ollamaProvider) GenerateJSON(ctx context.Context, prompt, model string, schema any) (string, error) {
	if p.client == nil {
		return "", ErrNotInitialized
	}
	// Pass the schema when given, else plain "json" mode.
	var format json.RawMessage
	if schema != nil {
		b, err := json.Marshal(schema)
		if err != nil {
			return "", fmt.Errorf("ollama marshal schema: %w", err)
		}
		format = b
	} else {
		format = json.RawMessage(`"json"`)
	}

	stream := false
	req := &api.GenerateRequest{
		Model:  p.AllowedModelOrDefault(model),
		Prompt: prompt + "\n\nReturn ONLY strict JSON. No extra text.",
		Format: format,
		Stream: &stream,
	}
	var out strings.Builder
	if err := p.client.Generate(ctx, req, func(gr api.GenerateResponse) error {
		out.WriteString(gr.Response)
		return nil
	}); err != nil {
		return "", fmt.Errorf("ollama generate json: %w", err)
	}
	return out.String(), nil
}

func (p *ollamaProvider) Stream(ctx context.Context, history []ChatMessage, model string, onChunk func(string) error) error {
	if p.client == nil {
		return ErrNotInitialized
	}
	if model == "" {
		model = p.chatModel
	}
	msgs := make([]api.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}
	stream := true
	req := &api.ChatRequest{
		Model:    p.AllowedModelOrDefault(model),
		Messages: msgs,
		Stream:   &stream,
	}
	if err := p.client.Chat(ctx, req, func(cr api.ChatResponse) error {
		if cr.Message.Content == "" {
			return nil
		}
		return onChunk(cr.Message.Content)
	}); err != nil {
		return fmt.Errorf("ollama chat: %w", err)
	}
	return nil
}
