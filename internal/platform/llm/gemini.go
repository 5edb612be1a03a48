package llm

import (
	"context"
	"errors"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiClient calls the Gemini API through the official genai client.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

func NewGeminiClient(ctx context.Context, apiKey, model, baseURL string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, &CompletionError{Kind: Unknown, Message: "create gemini client", Err: err}
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		genai.Text(req.UserPrompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
			Temperature:       genai.Ptr(req.Temperature),
		},
	)
	if err != nil {
		return "", classifyGemini(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &CompletionError{Kind: MalformedResponse, Message: "response contained no text candidate"}
	}
	return text, nil
}

func classifyGemini(err error) *CompletionError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := kindForStatus(apiErr.Code)
		// Gemini reports a bad key as 400 INVALID_ARGUMENT.
		if kind == Unknown && strings.Contains(apiErr.Message, "API key") {
			kind = AuthenticationFailed
		}
		return &CompletionError{Kind: kind, Message: apiErr.Message, Err: err}
	}
	return transportError(err)
}
