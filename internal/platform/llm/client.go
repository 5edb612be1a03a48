// Package llm adapts hosted chat-completion services to a single blocking
// call: one system instruction plus one user prompt in, raw text out.
//
// Failures are always returned as *CompletionError so callers can branch on
// the Kind. Nothing in this package retries.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Request is one completion call.
type Request struct {
	SystemInstruction string
	UserPrompt        string
	Temperature       float32
}

// Client sends a prompt to a completion service and returns the first
// candidate's text verbatim.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc is an adapter to allow the use of ordinary functions as Clients.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f(ctx, req).
func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// WithTimeout bounds every call made through c. A zero timeout returns c
// unchanged.
func WithTimeout(c Client, timeout time.Duration) Client {
	if timeout <= 0 {
		return c
	}
	return ClientFunc(func(ctx context.Context, req Request) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.Complete(ctx, req)
	})
}

// Settings describes how sessions reach the completion service. The API key
// is not part of it; keys arrive per session at runtime.
type Settings struct {
	Provider string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// Factory builds a Client bound to a single credential.
type Factory interface {
	NewClient(ctx context.Context, apiKey string) (Client, error)
}

// FactoryFunc is an adapter to allow the use of ordinary functions as Factories.
type FactoryFunc func(ctx context.Context, apiKey string) (Client, error)

// NewClient calls f(ctx, apiKey).
func (f FactoryFunc) NewClient(ctx context.Context, apiKey string) (Client, error) {
	return f(ctx, apiKey)
}

// NewFactory returns a Factory for the configured provider. Every client it
// builds is wrapped with the configured timeout.
func NewFactory(s Settings) (Factory, error) {
	var build func(ctx context.Context, apiKey string) (Client, error)
	switch s.Provider {
	case "openai", "":
		build = func(_ context.Context, apiKey string) (Client, error) {
			return NewOpenAIClient(apiKey, s.Model, s.BaseURL), nil
		}
	case "gemini":
		build = func(ctx context.Context, apiKey string) (Client, error) {
			return NewGeminiClient(ctx, apiKey, s.Model, s.BaseURL)
		}
	default:
		return nil, fmt.Errorf("unknown completion provider %q", s.Provider)
	}

	return FactoryFunc(func(ctx context.Context, apiKey string) (Client, error) {
		if apiKey == "" {
			return nil, &CompletionError{Kind: AuthenticationFailed, Message: "api key is required"}
		}
		c, err := build(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return WithTimeout(c, s.Timeout), nil
	}), nil
}
