package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/session"
	"github.com/m4xw311/atshell/tools"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// bedrockInvoker is the part of the Bedrock runtime client the agent uses.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  bedrockInvoker
	modelID string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to load AWS config"), errors.ErrProvider)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		// Custom endpoint, useful for testing.
		if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &BedrockLLMClient{
		client:  client,
		modelID: modelID,
	}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	requestBody, err := createBedrockRequest(messages, availableTools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Bedrock request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to invoke Bedrock model"), errors.ErrProvider)
	}

	return processBedrockResponse(resp.Body)
}

// bedrockRequest is the Messages API body as Bedrock expects it: no model
// field, and the API version in the body instead of a header.
type bedrockRequest struct {
	AnthropicVersion string                   `json:"anthropic_version"`
	MaxTokens        int                      `json:"max_tokens"`
	System           string                   `json:"system,omitempty"`
	Messages         []anthropic.MessageParam `json:"messages"`
	Tools            []anthropic.ToolParam    `json:"tools,omitempty"`
}

// createBedrockRequest builds the request body. Message and tool conversion
// is shared with the direct Anthropic client.
func createBedrockRequest(messages []session.Message, availableTools []tools.Tool) ([]byte, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicMessages(messages)
	return json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        anthropicMaxTokens,
		System:           systemPrompt,
		Messages:         anthropicMessages,
		Tools:            convertToolsToAnthropicTools(availableTools),
	})
}

// processBedrockResponse converts a Bedrock API response into our internal session.Message format.
func processBedrockResponse(body []byte) (*session.Message, error) {
	var envelope struct {
		Type  string `json:"type"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to unmarshal Bedrock response"), errors.ErrProvider)
	}
	if envelope.Error != nil {
		return nil, errors.Mark(errors.New("Bedrock API error (%s): %s", envelope.Error.Type, envelope.Error.Message), errors.ErrProvider)
	}

	var resp anthropic.Message
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to unmarshal Bedrock response"), errors.ErrProvider)
	}
	return processAnthropicResponse(&resp)
}
