package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/config"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Options tunes a single generation call. Temperature 0 is sent to the
// provider as an explicit deterministic setting; a negative value keeps
// the provider default.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client generates text from chat messages.
type Client interface {
	// Name identifies the provider ("openai", "anthropic", ...).
	Name() string
	// GenerateChat runs the messages through the model and returns the
	// full completion.
	GenerateChat(ctx context.Context, msgs []Message, opts Options) (string, error)
}

// Streamer is the optional streaming capability. Providers that cannot
// stream simply do not implement it; callers fall back to GenerateChat.
type Streamer interface {
	// StreamChat invokes fn for every token as it arrives. A non-nil
	// error from fn aborts the stream.
	StreamChat(ctx context.Context, msgs []Message, opts Options, fn func(token string) error) error
}

// Supported provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderVLLM      = "vllm"
)

// New builds the provider client named by cfg.LLMProvider.
func New(cfg *config.Config, logger *zap.Logger) (Client, error) {
	switch cfg.LLMProvider {
	case ProviderOpenAI:
		return newOpenAI(ProviderOpenAI, cfg.OpenAIAPIKey, "", logger), nil
	case ProviderVLLM:
		// vLLM serves the OpenAI chat API; key is ignored by the server.
		return newOpenAI(ProviderVLLM, "unused", cfg.VLLMBaseURL+"/v1", logger), nil
	case ProviderAnthropic:
		return newAnthropic(cfg.AnthropicAPIKey, logger), nil
	case ProviderOllama:
		return newOllama(cfg.OllamaBaseURL, logger), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
}

// splitSystem separates the leading system messages from the conversation.
// Anthropic and some local servers take the system prompt out of band.
func splitSystem(msgs []Message) (system string, rest []Message) {
	for i, m := range msgs {
		if m.Role != "system" {
			return system, msgs[i:]
		}
		if system != "" {
			system += "\n"
		}
		system += m.Content
	}
	return system, nil
}
