// Package llmtest provides a scripted llm_client.Provider for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"ongoal/internal/llm_client"
)

// Rule answers prompts containing Match. Rules are checked in order.
type Rule struct {
	Match    string
	Response string
	Err      error
	// Gate, when set, blocks the call until it is closed or the context ends.
	Gate chan struct{}
}

type Provider struct {
	mu      sync.Mutex
	rules   []Rule
	prompts []string
	Chunks  []string
	// Fallback is returned when no rule matches.
	Fallback string
}

func New(rules ...Rule) *Provider {
	return &Provider{rules: rules, Fallback: "{}"}
}

func (p *Provider) On(match, response string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, Rule{Match: match, Response: response})
	return p
}

func (p *Provider) Add(r Rule) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, r)
	return p
}

// Prompts returns every prompt received so far.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// Calls counts prompts containing match.
func (p *Provider) Calls(match string) int {
	n := 0
	for _, pr := range p.Prompts() {
		if strings.Contains(pr, match) {
			n++
		}
	}
	return n
}

func (p *Provider) Init(llm_client.Config) error          { return nil }
func (p *Provider) Name() string                          { return "fake" }
func (p *Provider) AllowedModelOrDefault(m string) string { return "fake-model" }

func (p *Provider) generate(ctx context.Context, prompt, model string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	var rule *Rule
	for i := range p.rules {
		if strings.Contains(prompt, p.rules[i].Match) {
			r := p.rules[i]
			rule = &r
			break
		}
	}
	fallback := p.Fallback
	p.mu.Unlock()

	if rule == nil {
		return fallback, nil
	}
	if rule.Gate != nil {
		select {
		case <-rule.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if rule.Err != nil {
		return "", rule.Err
	}
	return rule.Response, nil
}

func (p *Provider) GenerateJSON(ctx context.Context, prompt, model string, schema any) (string, error) {
	return p.generate(ctx, prompt, model)
}

func (p *Provider) Stream(ctx context.Context, history []llm_client.ChatMessage, model string, onChunk func(string) error) error {
	p.mu.Lock()
	chunks := append([]string(nil), p.Chunks...)
	p.mu.Unlock()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}
