package llm

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	genai "google.golang.org/genai"
)

func TestClassifyGemini(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"permission denied", genai.APIError{Code: http.StatusForbidden, Message: "denied"}, AuthenticationFailed},
		{"bad key", genai.APIError{Code: http.StatusBadRequest, Message: "API key not valid. Please pass a valid API key."}, AuthenticationFailed},
		{"quota", genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"}, RateLimited},
		{"unavailable", genai.APIError{Code: http.StatusServiceUnavailable}, NetworkFailure},
		{"other", errors.New("boom"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := classifyGemini(tt.err)
			assert.Equal(t, tt.want, ce.Kind)
			assert.Equal(t, tt.err, ce.Err)
		})
	}
}
