package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnthropicForTest(t *testing.T) Connector {
	t.Helper()
	c, err := NewAnthropicConnector(testConnectorConfig())
	require.NoError(t, err)
	return c
}

func TestAnthropicConnector_Generate(t *testing.T) {
	var gotPath string
	var gotHeaders http.Header
	var gotBody anthropicRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"content": [{"type": "text", "text": "func Sort(a []int) {}"}],
			"usage": {"input_tokens": 12, "output_tokens": 34}
		}`)
	}))
	defer server.Close()

	c := newAnthropicForTest(t)
	result, err := c.Generate(context.Background(), &Request{
		TaskID:   "task-1",
		TaskType: "code",
		Payload: map[string]interface{}{
			"prompt": "write a sort function",
			"system": "you are a Go expert",
		},
		Endpoint: server.URL,
		APIKey:   "test-key-123",
	})

	require.NoError(t, err)
	assert.Equal(t, "func Sort(a []int) {}", result.Output)
	assert.Equal(t, 46, result.TokensUsed)

	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "test-key-123", gotHeaders.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, gotHeaders.Get("anthropic-version"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))

	assert.Equal(t, anthropicDefaultModel, gotBody.Model)
	assert.Equal(t, anthropicMaxTokens, gotBody.MaxTokens)
	assert.Equal(t, "you are a Go expert", gotBody.System)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	assert.Equal(t, "write a sort function", gotBody.Messages[0].Content)
}

func TestAnthropicConnector_ModelOverride(t *testing.T) {
	var gotBody anthropicRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "ok"}], "usage": {"input_tokens": 1, "output_tokens": 1}}`)
	}))
	defer server.Close()

	c := newAnthropicForTest(t)
	_, err := c.Generate(context.Background(), &Request{
		TaskType: "prompt",
		Payload:  map[string]interface{}{"prompt": "hi", "model": "claude-3-haiku-20240307"},
		Endpoint: server.URL,
	})

	require.NoError(t, err)
	assert.Equal(t, "claude-3-haiku-20240307", gotBody.Model)
}

func TestAnthropicConnector_SkipsNonTextBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"content": [
				{"type": "tool_use", "text": ""},
				{"type": "text", "text": "the answer"}
			],
			"usage": {"input_tokens": 5, "output_tokens": 5}
		}`)
	}))
	defer server.Close()

	c := newAnthropicForTest(t)
	result, err := c.Generate(context.Background(), &Request{
		TaskType: "prompt",
		Payload:  map[string]interface{}{"prompt": "hi"},
		Endpoint: server.URL,
	})

	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Output)
}

func TestAnthropicConnector_ErrorClassification(t *testing.T) {
	testCases := []struct {
		name           string
		status         int
		body           string
		expectedKind   FailureKind
		expectedReason string
	}{
		{
			name:           "invalid key",
			status:         http.StatusUnauthorized,
			body:           `{"error": {"type": "authentication_error", "message": "invalid x-api-key"}}`,
			expectedKind:   FailureAuth,
			expectedReason: "authentication_error",
		},
		{
			name:           "forbidden",
			status:         http.StatusForbidden,
			body:           `{"error": {"type": "permission_error", "message": "no access"}}`,
			expectedKind:   FailureAuth,
			expectedReason: "permission_error",
		},
		{
			name:           "rate limited",
			status:         http.StatusTooManyRequests,
			body:           `{"error": {"type": "rate_limit_error", "message": "too many requests"}}`,
			expectedKind:   FailureRateLimit,
			expectedReason: "rate_limit_error",
		},
		{
			name:           "overloaded",
			status:         529,
			body:           `{"error": {"type": "overloaded_error", "message": "overloaded"}}`,
			expectedKind:   FailureServer,
			expectedReason: "overloaded_error",
		},
		{
			name:           "internal error",
			status:         http.StatusInternalServerError,
			body:           `{"error": {"type": "api_error", "message": "boom"}}`,
			expectedKind:   FailureServer,
			expectedReason: "api_error",
		},
		{
			name:           "bad request",
			status:         http.StatusBadRequest,
			body:           `{"error": {"type": "invalid_request_error", "message": "max_tokens too large"}}`,
			expectedKind:   FailureBadRequest,
			expectedReason: "invalid_request_error",
		},
		{
			name:         "unparseable error body",
			status:       http.StatusBadGateway,
			body:         `upstream gateway choked`,
			expectedKind: FailureServer,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			c := newAnthropicForTest(t)
			result, err := c.Generate(context.Background(), &Request{
				TaskType: "code",
				Payload:  map[string]interface{}{"prompt": "hi"},
				Endpoint: server.URL,
			})

			assert.Nil(t, result)
			f, ok := AsFailure(err)
			require.True(t, ok, "expected a classified failure, got %v", err)
			assert.Equal(t, tc.expectedKind, f.Kind)
			assert.Equal(t, tc.expectedReason, f.Reason)
			assert.Equal(t, "anthropic", f.Provider)
		})
	}
}

func TestAnthropicConnector_RejectsImageTasks(t *testing.T) {
	c := newAnthropicForTest(t)

	for _, taskType := range []string{"image", "people_image"} {
		_, err := c.Generate(context.Background(), &Request{
			TaskType: taskType,
			Payload:  map[string]interface{}{"prompt": "a sunset"},
		})

		f, ok := AsFailure(err)
		require.True(t, ok)
		assert.Equal(t, FailureBadRequest, f.Kind)
		assert.Contains(t, f.Message, "not supported")
	}
}

func TestAnthropicConnector_EmptyPrompt(t *testing.T) {
	c := newAnthropicForTest(t)

	_, err := c.Generate(context.Background(), &Request{
		TaskType: "code",
		Payload:  map[string]interface{}{},
	})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, FailureBadRequest, f.Kind)
	assert.Equal(t, "payload has no prompt", f.Message)
}

func TestAnthropicConnector_NoTextContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content": [], "usage": {"input_tokens": 1, "output_tokens": 0}}`)
	}))
	defer server.Close()

	c := newAnthropicForTest(t)
	_, err := c.Generate(context.Background(), &Request{
		TaskType: "prompt",
		Payload:  map[string]interface{}{"prompt": "hi"},
		Endpoint: server.URL,
	})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, FailureServer, f.Kind)
}

func TestAnthropicConnector_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "late"}]}`)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := newAnthropicForTest(t)
	_, err := c.Generate(ctx, &Request{
		TaskType: "prompt",
		Payload:  map[string]interface{}{"prompt": "hi"},
		Endpoint: server.URL,
	})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, FailureTimeout, f.Kind)
	assert.True(t, IsTimeout(err))
}
