package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"
)

// openAIClient serves both the hosted OpenAI API and any OpenAI-compatible
// server (vLLM) through a base URL override.
type openAIClient struct {
	name   string
	client openai.Client
	logger *zap.Logger
}

func newOpenAI(name, apiKey, baseURL string, logger *zap.Logger) *openAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openAIClient{
		name:   name,
		client: openai.NewClient(opts...),
		logger: logger,
	}
}

func (c *openAIClient) Name() string { return c.name }

func (c *openAIClient) params(msgs []Message, opts Options) openai.ChatCompletionNewParams {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			converted = append(converted, openai.SystemMessage(m.Content))
		case "assistant":
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}

	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(opts.Model),
		Messages: converted,
	}
	if opts.Temperature >= 0 {
		p.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		p.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	return p
}

func (c *openAIClient) GenerateChat(ctx context.Context, msgs []Message, opts Options) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(msgs, opts))
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s completion: empty choices", c.name)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) StreamChat(ctx context.Context, msgs []Message, opts Options, fn func(string) error) error {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(msgs, opts))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if token := chunk.Choices[0].Delta.Content; token != "" {
			if err := fn(token); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("%s stream: %w", c.name, err)
	}
	return nil
}
