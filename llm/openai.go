package llm

import (
	"context"
	"encoding/json"

	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/session"
	"github.com/m4xw311/atshell/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API and for
// compatible local servers such as LM Studio.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
	// developerRole is false for servers that only know system messages.
	developerRole bool
}

// NewOpenAILLMClient creates a new OpenAILLMClient. An empty baseURL keeps
// the SDK default, which itself honours OPENAI_BASE_URL.
func NewOpenAILLMClient(modelName, apiKey, baseURL string, developerRole bool) *OpenAILLMClient {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	// The &c is required, dn not replace and just use c
	return &OpenAILLMClient{client: &c, model: modelName, developerRole: developerRole}
}

// Chat sends a chat request to OpenAI and converts the response into our internal session.Message format.
func (o *OpenAILLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	chatMessages, err := convertMessagesToOpenaiContent(messages, o.developerRole)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: chatMessages,
		Tools:    convertToolsToOpenAITools(availableTools),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to send message to OpenAI"), errors.ErrProvider)
	}

	return processOpenaiResponse(resp)
}

// processOpenaiResponse converts an OpenAI API response into our internal session.Message format.
func processOpenaiResponse(resp *openai.ChatCompletion) (*session.Message, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.Mark(errors.New("OpenAI returned no choices"), errors.ErrProvider)
	}

	choice := resp.Choices[0].Message
	msg := &session.Message{Role: session.RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		toolArgs := map[string]any{}
		// Arguments are a JSON string; we expect it to be a flat map of arguments.
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &toolArgs); err != nil {
				return nil, errors.Mark(errors.Wrapf(err, "failed to unmarshal arguments of %s", tc.Function.Name), errors.ErrProvider)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: toolArgs,
		})
	}
	return msg, nil
}

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
func convertMessagesToOpenaiContent(messages []session.Message, developerRole bool) ([]openai.ChatCompletionMessageParamUnion, error) {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleDeveloper:
			if developerRole {
				chatMessages = append(chatMessages, openai.DeveloperMessage(msg.Content))
			} else {
				chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
			}
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				argsBytes, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, errors.Wrapf(err, "could not marshal arguments of %s", tc.Name)
				}
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleTool:
			if msg.IsToolResult() {
				chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCallID))
				continue
			}
			// A tool line loaded from history has no call to answer.
			chatMessages = append(chatMessages, openai.AssistantMessage("Tool: "+msg.Content))
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages, nil
}

// convertToolsToOpenAITools converts our Tool interface to the OpenAI Tool format.
func convertToolsToOpenAITools(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		toolParam := openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(t.Parameters()),
		})
		openAITools = append(openAITools, toolParam)
	}
	return openAITools
}
