package llm_client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ongoal/internal/llm_client"
	"ongoal/internal/llm_client/llmtest"
)

type answer struct {
	Value string `json:"value"`
}

type strictAnswer struct {
	Value string `json:"value"`
}

func (a *strictAnswer) Validate() error {
	if a.Value == "" {
		return errors.New("value is required")
	}
	return nil
}

func TestExtractJSON(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain object", raw: `{"value":"x"}`, want: `{"value":"x"}`},
		{name: "fenced", raw: "```json\n{\"value\":\"x\"}\n```", want: `{"value":"x"}`},
		{name: "surrounding prose", raw: "Sure! {\"a\":{\"b\":1}} hope that helps", want: `{"a":{"b":1}}`},
		{name: "no object", raw: "I cannot help with that", want: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := llm_client.ExtractJSON(tc.raw); got != tc.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestGatewayComplete(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	p := llmtest.New(
		llmtest.Rule{Match: "ok", Response: "```json\n{\"value\":\"done\"}\n```"},
		llmtest.Rule{Match: "garbage", Response: "not json at all"},
		llmtest.Rule{Match: "empty", Response: `{"value":""}`},
		llmtest.Rule{Match: "down", Err: errors.New("connection refused")},
		llmtest.Rule{Match: "slow", Gate: gate},
	)
	gw := llm_client.NewGateway(p, 50*time.Millisecond)

	var a answer
	if err := gw.Complete(context.Background(), "ok", nil, &a); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if a.Value != "done" {
		t.Errorf("Expected decoded value 'done', got %q", a.Value)
	}

	testCases := []struct {
		prompt string
		out    any
		want   llm_client.ErrorKind
	}{
		{prompt: "garbage", out: &answer{}, want: llm_client.KindUnparsable},
		{prompt: "empty", out: &strictAnswer{}, want: llm_client.KindUnparsable},
		{prompt: "down", out: &answer{}, want: llm_client.KindUnavailable},
		{prompt: "slow", out: &answer{}, want: llm_client.KindTimeout},
	}
	for _, tc := range testCases {
		t.Run(tc.prompt, func(t *testing.T) {
			err := gw.Complete(context.Background(), tc.prompt, nil, tc.out)
			if got := llm_client.KindOf(err); got != tc.want {
				t.Errorf("Expected kind %q, got %q (err=%v)", tc.want, got, err)
			}
		})
	}
}

func TestGatewayWithoutProvider(t *testing.T) {
	gw := llm_client.NewGateway(nil, time.Second)
	if gw.Available() {
		t.Fatalf("Expected gateway without provider to be unavailable")
	}
	err := gw.Complete(context.Background(), "x", nil, &answer{})
	if llm_client.KindOf(err) != llm_client.KindUnavailable {
		t.Errorf("Expected GatewayUnavailable, got %v", err)
	}
	if !errors.Is(err, llm_client.ErrNotInitialized) {
		t.Errorf("Expected error to wrap ErrNotInitialized, got %v", err)
	}
}

func TestGatewayStream(t *testing.T) {
	p := llmtest.New()
	p.Chunks = []string{"Hel", "lo"}
	gw := llm_client.NewGateway(p, time.Second)

	var got string
	err := gw.Stream(context.Background(), []llm_client.ChatMessage{{Role: "user", Content: "hi"}}, func(s string) error {
		got += s
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "Hello" {
		t.Errorf("Expected streamed text 'Hello', got %q", got)
	}
}
