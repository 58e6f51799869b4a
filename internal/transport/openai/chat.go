package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatClient streams chat completions from an OpenAI-compatible API.
type ChatClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewChatClient creates a streaming chat client.
func NewChatClient(cfg *Config, model string) *ChatClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &ChatClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: cfg.Logger,
	}
}

// StreamChat sends a system+user prompt pair and invokes onDelta for every
// content chunk as it arrives. Returns when the stream is drained, the
// context is canceled, or onDelta returns an error.
func (c *ChatClient) StreamChat(
	ctx context.Context, system, user string, onDelta func(delta string) error,
) error {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Stream: true,
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("create chat stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("chat stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := onDelta(delta); err != nil {
			return fmt.Errorf("deliver chat delta: %w", err)
		}
	}
}
