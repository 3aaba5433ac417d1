package llm_client

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

type geminiProvider struct {
	client    *genai.Client
	model     string
	chatModel string
}

const geminiDefault = "gemini-2.0-flash"

func (p *geminiProvider) Init(cfg Config) error {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}
	c, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("gemini client init: %w", err)
	}
	p.client = c
	p.model = p.AllowedModelOrDefault(cfg.Model)
	p.chatModel = p.model
	if strings.TrimSpace(cfg.ChatModel) != "" {
		p.chatModel = p.AllowedModelOrDefault(cfg.ChatModel)
	}
	return nil
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) AllowedModelOrDefault(model string) string {
	m := strings.TrimSpace(model)
	if m == "" {
		if p.model != "" {
			return p.model
		}
		return geminiDefault
	}
	if !strings.HasPrefix(strings.ToLower(m), "gemini-") {
		return geminiDefault
	}
	return m
}

func (p *geminiProvider) GenerateJSON(ctx context.Context, prompt, model string, schema any) (string, error) {
	if p.client == nil {
		return "", ErrNotInitialized
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if schema != nil {
		cfg.ResponseJsonSchema = schema
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.AllowedModelOrDefault(model), genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate json: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini: empty json response")
	}
	return text, nil
}

func (p *geminiProvider) Stream(ctx context.Context, history []ChatMessage, model string, onChunk func(string) error) error {
	if p.client == nil {
		return ErrNotInitialized
	}
	if model == "" {
		model = p.chatModel
	}
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.AllowedModelOrDefault(model), contents, nil) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if chunk := resp.Text(); chunk != "" {
			if err := onChunk(chunk); err != nil {
				return err
			}
		}
	}
	return nil
}
