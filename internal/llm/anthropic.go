package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

type anthropicClient struct {
	client anthropic.Client
	logger *zap.Logger
}

func newAnthropic(apiKey string, logger *zap.Logger) *anthropicClient {
	return &anthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger,
	}
}

func (c *anthropicClient) Name() string { return ProviderAnthropic }

func (c *anthropicClient) params(msgs []Message, opts Options) anthropic.MessageNewParams {
	system, rest := splitSystem(msgs)

	converted := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			converted = append(converted, anthropic.NewAssistantMessage(block))
		} else {
			converted = append(converted, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		MaxTokens: maxTokens,
		Messages:  converted,
	}
	if system != "" {
		p.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature >= 0 {
		p.Temperature = anthropic.Float(opts.Temperature)
	}
	return p
}

func (c *anthropicClient) GenerateChat(ctx context.Context, msgs []Message, opts Options) (string, error) {
	resp, err := c.client.Messages.New(ctx, c.params(msgs, opts))
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (c *anthropicClient) StreamChat(ctx context.Context, msgs []Message, opts Options, fn func(string) error) error {
	stream := c.client.Messages.NewStreaming(ctx, c.params(msgs, opts))
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					if err := fn(delta.Text); err != nil {
						return err
					}
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}
