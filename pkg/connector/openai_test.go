package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIForTest(t *testing.T) Connector {
	t.Helper()
	c, err := NewOpenAIConnector(testConnectorConfig())
	require.NoError(t, err)
	return c
}

func TestOpenAIConnector_GenerateText(t *testing.T) {
	var gotPath string
	var gotAuth string
	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	c := newOpenAIForTest(t)
	result, err := c.Generate(context.Background(), &Request{
		TaskID:   "task-1",
		TaskType: "prompt",
		Payload: map[string]interface{}{
			"prompt": "say hello",
			"system": "be brief",
		},
		Endpoint: server.URL + "/v1",
		APIKey:   "sk-test-key",
	})

	require.NoError(t, err)
	assert.Equal(t, "hello there", result.Output)
	assert.Equal(t, 15, result.TokensUsed)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test-key", gotAuth)
	assert.Equal(t, defaultChatModel, gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "be brief", gotBody.Messages[0].Content)
	assert.Equal(t, "user", gotBody.Messages[1].Role)
	assert.Equal(t, "say hello", gotBody.Messages[1].Content)
}

func TestOpenAIConnector_GenerateImage(t *testing.T) {
	for _, taskType := range []string{"image", "people_image"} {
		t.Run(taskType, func(t *testing.T) {
			var gotPath string
			var gotBody struct {
				Prompt         string `json:"prompt"`
				Model          string `json:"model"`
				N              int    `json:"n"`
				Size           string `json:"size"`
				ResponseFormat string `json:"response_format"`
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"created": 1, "data": [{"url": "https://img.example/out.png"}]}`)
			}))
			defer server.Close()

			c := newOpenAIForTest(t)
			result, err := c.Generate(context.Background(), &Request{
				TaskType: taskType,
				Payload:  map[string]interface{}{"prompt": "a lighthouse at dusk"},
				Endpoint: server.URL + "/v1",
				APIKey:   "sk-test-key",
			})

			require.NoError(t, err)
			assert.Equal(t, "https://img.example/out.png", result.Output)
			// Image endpoints report no usage, the caller keeps the estimate.
			assert.Equal(t, 0, result.TokensUsed)

			assert.Equal(t, "/v1/images/generations", gotPath)
			assert.Equal(t, "a lighthouse at dusk", gotBody.Prompt)
			assert.Equal(t, defaultImageModel, gotBody.Model)
			assert.Equal(t, 1, gotBody.N)
			assert.Equal(t, "1024x1024", gotBody.Size)
			assert.Equal(t, "url", gotBody.ResponseFormat)
		})
	}
}

func TestOpenAIConnector_ErrorClassification(t *testing.T) {
	testCases := []struct {
		name           string
		status         int
		body           string
		expectedKind   FailureKind
		expectedReason string
	}{
		{
			name:           "invalid key prefers code over type",
			status:         http.StatusUnauthorized,
			body:           `{"error": {"message": "Incorrect API key provided: sk-bad", "type": "invalid_request_error", "code": "invalid_api_key"}}`,
			expectedKind:   FailureAuth,
			expectedReason: "invalid_api_key",
		},
		{
			name:           "quota exhausted",
			status:         http.StatusTooManyRequests,
			body:           `{"error": {"message": "You exceeded your current quota", "type": "insufficient_quota", "code": "insufficient_quota"}}`,
			expectedKind:   FailureRateLimit,
			expectedReason: "insufficient_quota",
		},
		{
			name:           "server error falls back to type",
			status:         http.StatusInternalServerError,
			body:           `{"error": {"message": "The server had an error", "type": "api_error"}}`,
			expectedKind:   FailureServer,
			expectedReason: "api_error",
		},
		{
			name:           "context too large",
			status:         http.StatusBadRequest,
			body:           `{"error": {"message": "maximum context length exceeded", "type": "invalid_request_error", "code": "context_length_exceeded"}}`,
			expectedKind:   FailureBadRequest,
			expectedReason: "context_length_exceeded",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			c := newOpenAIForTest(t)
			result, err := c.Generate(context.Background(), &Request{
				TaskType: "prompt",
				Payload:  map[string]interface{}{"prompt": "hi"},
				Endpoint: server.URL + "/v1",
				APIKey:   "sk-test-key",
			})

			assert.Nil(t, result)
			f, ok := AsFailure(err)
			require.True(t, ok, "expected a classified failure, got %v", err)
			assert.Equal(t, tc.expectedKind, f.Kind)
			assert.Equal(t, tc.expectedReason, f.Reason)
			assert.Equal(t, "openai", f.Provider)
		})
	}
}

func TestOpenAIConnector_UnparseableErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>upstream died</html>")
	}))
	defer server.Close()

	c := newOpenAIForTest(t)
	_, err := c.Generate(context.Background(), &Request{
		TaskType: "prompt",
		Payload:  map[string]interface{}{"prompt": "hi"},
		Endpoint: server.URL + "/v1",
		APIKey:   "sk-test-key",
	})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, FailureServer, f.Kind)
}

func TestOpenAIConnector_EmptyPrompt(t *testing.T) {
	c := newOpenAIForTest(t)

	for _, taskType := range []string{"prompt", "image"} {
		_, err := c.Generate(context.Background(), &Request{
			TaskType: taskType,
			Payload:  map[string]interface{}{},
		})

		f, ok := AsFailure(err)
		require.True(t, ok)
		assert.Equal(t, FailureBadRequest, f.Kind)
		assert.Equal(t, "payload has no prompt", f.Message)
	}
}

func TestOpenAIConnector_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "chatcmpl-2", "object": "chat.completion", "choices": [], "usage": {"total_tokens": 3}}`)
	}))
	defer server.Close()

	c := newOpenAIForTest(t)
	_, err := c.Generate(context.Background(), &Request{
		TaskType: "prompt",
		Payload:  map[string]interface{}{"prompt": "hi"},
		Endpoint: server.URL + "/v1",
		APIKey:   "sk-test-key",
	})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, FailureServer, f.Kind)
}
