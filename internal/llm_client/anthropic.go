package llm_client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicProvider struct {
	client    anthropic.Client
	ready     bool
	model     string
	chatModel string
	maxTokens int64
}

const anthropicDefault = "claude-3-5-haiku-latest"

func (p *anthropicProvider) Init(cfg Config) error {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	p.client = anthropic.NewClient(option.WithAPIKey(apiKey))
	p.ready = true
	p.model = p.AllowedModelOrDefault(cfg.Model)
	p.chatModel = p.model
	if strings.TrimSpace(cfg.ChatModel) != "" {
		p.chatModel = cfg.ChatModel
	}
	p.maxTokens = 2000
	if cfg.MaxTokens > 0 {
		p.maxTokens = int64(cfg.MaxTokens)
	}
	return nil
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) AllowedModelOrDefault(model string) string {
	m := strings.TrimSpace(model)
	if m == "" {
		if p.model != "" {
			return p.model
		}
		return anthropicDefault
	}
	return m
}

func (p *anthropicProvider) generate(ctx context.Context, prompt, model string) (string, error) {
	if !p.ready {
		return "", ErrNotInitialized
	}
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.AllowedModelOrDefault(model)),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("anthropic: empty response")
	}
	return strings.TrimSpace(out.String()), nil
}

// GenerateJSON inlines the schema in the prompt; the messages API has no JSON mode.
func (p *anthropicProvider) GenerateJSON(ctx context.Context, prompt, model string, schema any) (string, error) {
	var sb strings.Builder
	sb.WriteString(prompt)
	if schema != nil {
		b, err := json.Marshal(schema)
		if err != nil {
			return "", fmt.Errorf("anthropic marshal schema: %w", err)
		}
		sb.WriteString("\n\nThe JSON must validate against this JSON schema:\n")
		sb.Write(b)
	}
	sb.WriteString("\n\nReturn ONLY strict JSON. No extra text.")
	return p.generate(ctx, sb.String(), model)
}

func (p *anthropicProvider) Stream(ctx context.Context, history []ChatMessage, model string, onChunk func(string) error) error {
	if !p.ready {
		return ErrNotInitialized
	}
	if model == "" {
		model = p.chatModel
	}
	msgs := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		if m.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	stream := p.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.AllowedModelOrDefault(model)),
		MaxTokens: p.maxTokens,
		Messages:  msgs,
	})
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}
		delta := event.AsContentBlockDelta()
		if d, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
			if err := onChunk(d.Text); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}
