package llm

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/m4xw311/atshell/config"
	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/session"
	"github.com/m4xw311/atshell/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
// Chat sends the whole conversation plus the tools the model may call and
// returns one assistant message: text, tool calls, or both. Failures are
// marked with errors.ErrProvider.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error)
}

// NewClient builds the client named by cfg.LLMClient.
func NewClient(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	switch cfg.LLMClient {
	case "openai":
		key, err := apiKey(cfg, "OPENAI_API_KEY", true)
		if err != nil {
			return nil, err
		}
		return NewOpenAILLMClient(cfg.Model, key, cfg.BaseURL, true), nil
	case "lmstudio":
		key, _ := apiKey(cfg, "LMSTUDIO_API_KEY", false)
		if key == "" {
			key = "lm-studio"
		}
		return NewOpenAILLMClient(cfg.Model, key, cfg.BaseURL, false), nil
	case "anthropic":
		key, err := apiKey(cfg, "ANTHROPIC_API_KEY", true)
		if err != nil {
			return nil, err
		}
		return NewAnthropicLLMClient(cfg.Model, key, cfg.BaseURL), nil
	case "gemini":
		key, err := apiKey(cfg, "GEMINI_API_KEY", true)
		if err != nil {
			return nil, err
		}
		return NewGeminiLLMClient(ctx, cfg.Model, key)
	case "bedrock":
		return NewBedrockLLMClient(ctx, cfg.Model)
	case "mock":
		return &MockLLMClient{}, nil
	default:
		return nil, errors.Mark(errors.New("unknown llm client %q", cfg.LLMClient), errors.ErrInvocation)
	}
}

// apiKey reads the key from cfg.APIKeyEnv, or from fallbackEnv when no
// variable is configured.
func apiKey(cfg *config.Config, fallbackEnv string, required bool) (string, error) {
	env := cfg.APIKeyEnv
	if env == "" {
		env = fallbackEnv
	}
	key := os.Getenv(env)
	if key == "" && required {
		return "", errors.Mark(errors.New("%s environment variable not set", env), errors.ErrProvider)
	}
	return key, nil
}

// MockLLMClient replays Replies in order and records every conversation it
// is sent. Once Replies runs out it echoes the last message back.
type MockLLMClient struct {
	mu      sync.Mutex
	Replies []session.Message
	// Err, when set, is returned by every call instead of a reply.
	Err   error
	Calls [][]session.Message
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, append([]session.Message(nil), messages...))
	if err := ctx.Err(); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "mock chat cancelled"), errors.ErrProvider)
	}
	if m.Err != nil {
		return nil, errors.Mark(m.Err, errors.ErrProvider)
	}
	if len(m.Replies) > 0 {
		reply := m.Replies[0]
		m.Replies = m.Replies[1:]
		return &reply, nil
	}

	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return &session.Message{
		Role:    session.RoleAssistant,
		Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", last),
	}, nil
}

// Received returns the conversations sent so far.
func (m *MockLLMClient) Received() [][]session.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]session.Message(nil), m.Calls...)
}

// schemaParts splits a tool's JSON schema into the pieces the provider SDKs
// take separately.
func schemaParts(t tools.Tool) (properties map[string]any, required []string) {
	params := t.Parameters()
	properties, _ = params["properties"].(map[string]any)
	if properties == nil {
		properties = map[string]any{}
	}
	switch r := params["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return properties, required
}
