package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/session"
	"github.com/m4xw311/atshell/tools"
)

const anthropicMaxTokens = 4096

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
func NewAnthropicLLMClient(modelName, apiKey, baseURL string) *AnthropicLLMClient {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(options...)

	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
	}
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		Messages:  anthropicMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	for _, toolParam := range convertToolsToAnthropicTools(availableTools) {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to send message to Anthropic"), errors.ErrProvider)
	}

	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropicMessages converts our internal message format to
// Anthropic's. System and developer messages are joined into the system
// prompt. Consecutive messages of the same role are merged, since the API
// wants user and assistant turns to alternate.
func convertMessagesToAnthropicMessages(messages []session.Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var system []string

	add := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(anthropicMessages); n > 0 && anthropicMessages[n-1].Role == role {
			anthropicMessages[n-1].Content = append(anthropicMessages[n-1].Content, blocks...)
			return
		}
		anthropicMessages = append(anthropicMessages, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem, session.RoleDeveloper:
			if msg.HasText() {
				system = append(system, msg.Content)
			}
		case session.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.HasText() {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			add(anthropic.MessageParamRoleAssistant, blocks...)
		case session.RoleTool:
			if msg.IsToolResult() {
				add(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
			} else if msg.HasText() {
				add(anthropic.MessageParamRoleAssistant, anthropic.NewTextBlock("Tool: "+msg.Content))
			}
		default:
			if msg.HasText() {
				add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(msg.Content))
			}
		}
	}

	return anthropicMessages, strings.Join(system, "\n\n")
}

// convertToolsToAnthropicTools converts our Tool interface to Anthropic's tool format.
func convertToolsToAnthropicTools(ts []tools.Tool) []anthropic.ToolParam {
	var anthropicTools []anthropic.ToolParam
	for _, t := range ts {
		properties, required := schemaParts(t)
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an Anthropic API response into our internal session.Message format.
func processAnthropicResponse(resp *anthropic.Message) (*session.Message, error) {
	msg := &session.Message{Role: session.RoleAssistant}
	var text []string

	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			text = append(text, c.Text)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(c.Input) > 0 {
				if err := json.Unmarshal(c.Input, &args); err != nil {
					return nil, errors.Mark(errors.Wrapf(err, "failed to unmarshal tool call input"), errors.ErrProvider)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:   c.ID,
				Name: c.Name,
				Args: args,
			})
		}
	}
	msg.Content = strings.Join(text, "")
	return msg, nil
}
