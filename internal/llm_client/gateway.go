package llm_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Second

// Validator lets decoded results reject shapes that unmarshal but make no sense.
type Validator interface {
	Validate() error
}

// Gateway is the single choke point for model calls made by the pipeline.
type Gateway struct {
	provider Provider
	timeout  time.Duration
}

// NewGateway accepts a nil provider; every call then fails as unavailable.
func NewGateway(p Provider, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{provider: p, timeout: timeout}
}

func (g *Gateway) Available() bool {
	return g != nil && g.provider != nil
}

func (g *Gateway) Backend() string {
	if !g.Available() {
		return ""
	}
	return g.provider.Name()
}

func (g *Gateway) Model() string {
	if !g.Available() {
		return ""
	}
	return g.provider.AllowedModelOrDefault("")
}

// Complete sends prompt, waits at most the gateway timeout and decodes the
// JSON answer into out. All failures are *GatewayError.
func (g *Gateway) Complete(ctx context.Context, prompt string, schema any, out any) error {
	if !g.Available() {
		return &GatewayError{Kind: KindUnavailable, Err: ErrNotInitialized}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.provider.GenerateJSON(callCtx, prompt, "", schema)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return &GatewayError{Kind: KindTimeout, Err: err}
		}
		return &GatewayError{Kind: KindUnavailable, Err: err}
	}

	clean := ExtractJSON(raw)
	if clean == "" {
		return &GatewayError{Kind: KindUnparsable, Err: fmt.Errorf("no JSON object in response"), Raw: raw}
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return &GatewayError{Kind: KindUnparsable, Err: err, Raw: raw}
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &GatewayError{Kind: KindUnparsable, Err: err, Raw: raw}
		}
	}
	return nil
}

// Stream produces a conversational reply chunk by chunk. No gateway timeout
// applies; the caller's context bounds it.
func (g *Gateway) Stream(ctx context.Context, history []ChatMessage, onChunk func(string) error) error {
	if !g.Available() {
		return &GatewayError{Kind: KindUnavailable, Err: ErrNotInitialized}
	}
	if err := g.provider.Stream(ctx, history, "", onChunk); err != nil {
		return &GatewayError{Kind: KindUnavailable, Err: err}
	}
	return nil
}

// ExtractJSON strips markdown fences and returns the outermost {...} span.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
