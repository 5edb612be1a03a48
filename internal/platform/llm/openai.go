package llm

import (
	"context"
	"errors"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient calls the OpenAI chat completion API, or any service that
// speaks the same protocol when a base URL is given.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient constructs a client bound to apiKey. An empty baseURL keeps
// the library default.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Complete sends the system instruction and the prompt as two messages and
// returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: wireTemperature(req.Temperature),
	})
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return "", &CompletionError{Kind: MalformedResponse, Message: "response contained no choices"}
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", &CompletionError{Kind: MalformedResponse, Message: "first choice has no text content"}
	}
	return text, nil
}

// wireTemperature keeps a zero temperature on the wire. The request field is
// omitempty, and an omitted temperature means the API default of 1.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func classifyOpenAI(err error) *CompletionError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &CompletionError{Kind: kindForStatus(apiErr.HTTPStatusCode), Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &CompletionError{Kind: kindForStatus(reqErr.HTTPStatusCode), Message: reqErr.HTTPStatus, Err: err}
	}
	return transportError(err)
}
