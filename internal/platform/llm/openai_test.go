package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model       string  `json:"model"`
	Temperature *float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newOpenAIServer(t *testing.T, status int, body string, seen *capturedRequest, auth *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		if auth != nil {
			*auth = r.Header.Get("Authorization")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_Complete(t *testing.T) {
	var seen capturedRequest
	var auth string
	srv := newOpenAIServer(t, http.StatusOK,
		`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"S: cough\nO: afebrile"}}]}`,
		&seen, &auth)

	c := NewOpenAIClient("sk-test", "gpt-4o", srv.URL+"/v1")
	text, err := c.Complete(context.Background(), Request{
		SystemInstruction: "system text",
		UserPrompt:        "user text",
		Temperature:       0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "S: cough\nO: afebrile", text)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o", seen.Model)
	require.NotNil(t, seen.Temperature)
	assert.InDelta(t, 0.5, *seen.Temperature, 0.0001)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "system text", seen.Messages[0].Content)
	assert.Equal(t, "user", seen.Messages[1].Role)
	assert.Equal(t, "user text", seen.Messages[1].Content)
}

func TestOpenAIClient_ZeroTemperatureIsSent(t *testing.T) {
	var seen capturedRequest
	srv := newOpenAIServer(t, http.StatusOK,
		`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"note"}}]}`,
		&seen, nil)

	c := NewOpenAIClient("sk-test", "gpt-4o", srv.URL+"/v1")
	_, err := c.Complete(context.Background(), Request{UserPrompt: "user text", Temperature: 0})
	require.NoError(t, err)

	require.NotNil(t, seen.Temperature, "temperature must be present in the request body")
	assert.InDelta(t, 0, *seen.Temperature, 1e-6)
}

func TestOpenAIClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, AuthenticationFailed},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests"}}`, RateLimited},
		{"bad gateway without json", http.StatusBadGateway, `upstream down`, NetworkFailure},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, Unknown},
		{"no choices", http.StatusOK, `{"id":"x","choices":[]}`, MalformedResponse},
		{"empty content", http.StatusOK, `{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"  "}}]}`, MalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOpenAIServer(t, tt.status, tt.body, nil, nil)
			c := NewOpenAIClient("sk-test", "gpt-4o", srv.URL+"/v1")

			_, err := c.Complete(context.Background(), Request{UserPrompt: "p"})
			require.Error(t, err)

			var ce *CompletionError
			require.True(t, errors.As(err, &ce), "expected *CompletionError, got %T", err)
			assert.Equal(t, tt.want, ce.Kind)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestOpenAIClient_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOpenAIClient("sk-test", "gpt-4o", url+"/v1")
	_, err := c.Complete(context.Background(), Request{UserPrompt: "p"})
	require.Error(t, err)
	assert.Equal(t, NetworkFailure, KindOf(err))
}

func TestWithTimeout_DeadlineIsNetworkFailure(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := WithTimeout(NewOpenAIClient("sk-test", "gpt-4o", srv.URL+"/v1"), 50*time.Millisecond)
	_, err := c.Complete(context.Background(), Request{UserPrompt: "p"})
	require.Error(t, err)

	var ce *CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, NetworkFailure, ce.Kind)
	assert.True(t, ce.Timeout())
}

func TestNewFactory(t *testing.T) {
	_, err := NewFactory(Settings{Provider: "llama"})
	require.Error(t, err)

	f, err := NewFactory(Settings{Provider: "openai", Model: "gpt-4o", Timeout: time.Second})
	require.NoError(t, err)

	_, err = f.NewClient(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, AuthenticationFailed, KindOf(err))

	c, err := f.NewClient(context.Background(), "sk-test")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestKindOf_NonCompletionError(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, Unknown, KindOf(nil))
}

func TestCompletionError_Message(t *testing.T) {
	err := &CompletionError{Kind: RateLimited, Err: errors.New("slow down")}
	assert.Equal(t, "completion rate_limited: slow down", err.Error())
	assert.ErrorIs(t, err, err.Err)
}
