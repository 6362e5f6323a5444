package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/nanoclaw/internal/config"
	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// ErrNoProvider is returned when no model provider is configured or the
// configured one is unknown.
var ErrNoProvider = errors.New("no model provider")

// GeminiBaseURL is the OpenAI-compatible endpoint used for Gemini models.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes one model call. It must not retry.
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest is the model-facing context for one call.
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Messages     []session.Message
	Tools        []toolexecutor.ToolDescriptor
	Temperature  float64
	MaxTokens    int
}

// LLMResponse is a model reply. Requests is empty for a final answer.
type LLMResponse struct {
	Content    string
	Requests   []toolexecutor.ActionRequest
	StopReason string
	Usage      *TokenUsage
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ProviderFactory builds providers from model configuration.
type ProviderFactory struct{}

// NewProvider creates the provider named by cfg.Provider.
func (f *ProviderFactory) NewProvider(cfg config.ModelConfig) (LLMProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case "gemini":
		return NewGeminiProvider(cfg.APIKey, cfg.BaseURL), nil
	case "":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrNoProvider, cfg.Provider)
	}
}

// toolSchema returns the JSON schema of desc split into the parts provider
// SDKs ask for.
func toolSchema(desc toolexecutor.ToolDescriptor) (properties interface{}, required []string) {
	schema := desc.InputSchema()
	properties = schema["properties"]
	if properties == nil {
		properties = map[string]interface{}{}
	}
	switch req := schema["required"].(type) {
	case []string:
		required = append(required, req...)
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return properties, required
}
