package llm

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/session"
	"github.com/m4xw311/atshell/tools"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	model *genai.GenerativeModel
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
func NewGeminiLLMClient(ctx context.Context, modelName, apiKey string) (*GeminiLLMClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to create genai client"), errors.ErrProvider)
	}

	return &GeminiLLMClient{
		model: client.GenerativeModel(modelName),
	}, nil
}

// Chat sends a chat request to the Gemini API.
func (g *GeminiLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	history, system := convertMessagesToGeminiContent(messages)
	if len(history) == 0 {
		return nil, errors.Mark(errors.New("nothing to send to Gemini"), errors.ErrProvider)
	}

	g.model.Tools = convertToolsToGeminiTools(availableTools)
	g.model.SystemInstruction = nil
	if system != "" {
		g.model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := g.model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to send message to Gemini"), errors.ErrProvider)
	}

	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts our internal message format to
// Gemini's. Tool results travel back as function responses in a user turn.
func convertMessagesToGeminiContent(messages []session.Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system []string

	add := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem, session.RoleDeveloper:
			if msg.HasText() {
				system = append(system, msg.Content)
			}
		case session.RoleAssistant:
			var parts []genai.Part
			if msg.HasText() {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			add("model", parts...)
		case session.RoleTool:
			if msg.IsToolResult() {
				response := map[string]any{"output": msg.Content}
				if msg.IsError {
					response = map[string]any{"error": msg.Content}
				}
				add("user", genai.FunctionResponse{Name: msg.ToolName, Response: response})
			} else if msg.HasText() {
				add("model", genai.Text("Tool: "+msg.Content))
			}
		default:
			if msg.HasText() {
				add("user", genai.Text(msg.Content))
			}
		}
	}
	return contents, strings.Join(system, "\n\n")
}

// convertToolsToGeminiTools converts our Tool interface to Gemini's FunctionDeclaration format.
func convertToolsToGeminiTools(ts []tools.Tool) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, tool := range ts {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  geminiSchema(tool.Parameters()),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// geminiSchema translates the JSON schema subset our tools use.
func geminiSchema(s map[string]any) *genai.Schema {
	out := &genai.Schema{}
	switch s["type"] {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	}
	if d, ok := s["description"].(string); ok {
		out.Description = d
	}
	if items, ok := s["items"].(map[string]any); ok {
		out.Items = geminiSchema(items)
	}
	if props, ok := s["properties"].(map[string]any); ok {
		out.Properties = map[string]*genai.Schema{}
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				out.Properties[name] = geminiSchema(pm)
			}
		}
	}
	if req, ok := s["required"].([]string); ok {
		out.Required = req
	}
	return out
}

// processGeminiResponse converts a Gemini API response into our internal session.Message format.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*session.Message, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.Mark(errors.New("received an empty response from Gemini"), errors.ErrProvider)
	}

	msg := &session.Message{Role: session.RoleAssistant}
	var text []string
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text = append(text, string(v))
		case genai.FunctionCall:
			args := v.Args
			if args == nil {
				args = map[string]any{}
			}
			// Gemini does not number its calls, so results are matched by a local ID.
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:   "call_" + uuid.NewString(),
				Name: v.Name,
				Args: args,
			})
		default:
			return nil, errors.Mark(errors.New("unsupported part type in Gemini response: %T", v), errors.ErrProvider)
		}
	}
	msg.Content = strings.Join(text, "")
	return msg, nil
}
