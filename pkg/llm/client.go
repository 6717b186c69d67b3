// Package llm wraps the model provider used by the synthesis stage. A
// stub backend keeps the pipeline fully functional when no API key is
// configured, mirroring the rest of the system's degrade-gracefully
// posture.
package llm

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client generates a short completion for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
	model  string
}

// NewClient creates a Client backed by the SDK. When apiKey is empty a
// stub client is returned instead.
func NewClient(apiKey, model string) Client {
	if apiKey == "" {
		return NewStub()
	}
	if model == "" {
		model = "claude-haiku-4-5-20251001"
	}
	return &sdkClient{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *sdkClient) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 256,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "llm: create message")
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

// Stub is the fallback backend used in tests and keyless deployments.
type Stub struct{}

// NewStub returns a Client that echoes a marker plus the prompt head.
func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) Generate(ctx context.Context, prompt string) (string, error) {
	if len(prompt) > 80 {
		prompt = prompt[:80]
	}
	return "[stubbed] " + prompt, nil
}
