package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"genrouter/pkg/config"
)

const (
	defaultChatModel  = openai.GPT4oMini
	defaultImageModel = openai.CreateImageModelDallE3
)

// OpenAIConnector serves OpenAI-compatible APIs. Image task types go
// through the images endpoint, everything else through chat completions.
// Image responses report no token usage, so callers keep the estimate.
type OpenAIConnector struct {
	httpClient *http.Client
}

// NewOpenAIConnector creates the OpenAI adapter
func NewOpenAIConnector(cfg *config.Config) (Connector, error) {
	timeout := time.Duration(cfg.Queue.DispatchTimeout) * time.Second
	return &OpenAIConnector{
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the adapter's registry name
func (c *OpenAIConnector) Name() string {
	return "openai"
}

// Generate executes one generation request
func (c *OpenAIConnector) Generate(ctx context.Context, req *Request) (*Result, error) {
	oclient := openai.DefaultConfig(req.APIKey)
	if req.Endpoint != "" {
		oclient.BaseURL = req.Endpoint
	}
	oclient.HTTPClient = c.httpClient
	client := openai.NewClientWithConfig(oclient)

	switch req.TaskType {
	case "image", "people_image":
		return c.generateImage(ctx, client, req)
	default:
		return c.generateText(ctx, client, req)
	}
}

func (c *OpenAIConnector) generateText(ctx context.Context, client *openai.Client, req *Request) (*Result, error) {
	prompt := promptFrom(req)
	if prompt == "" {
		return nil, &Failure{Kind: FailureBadRequest, Provider: c.Name(), Message: "payload has no prompt"}
	}

	model := payloadString(req.Payload, "model")
	if model == "" {
		model = defaultChatModel
	}

	messages := []openai.ChatCompletionMessage{}
	if system := payloadString(req.Payload, "system"); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, c.classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &Failure{Kind: FailureServer, Provider: c.Name(), Message: "response contains no choices"}
	}

	return &Result{
		Output:     resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func (c *OpenAIConnector) generateImage(ctx context.Context, client *openai.Client, req *Request) (*Result, error) {
	prompt := promptFrom(req)
	if prompt == "" {
		return nil, &Failure{Kind: FailureBadRequest, Provider: c.Name(), Message: "payload has no prompt"}
	}

	model := payloadString(req.Payload, "model")
	if model == "" {
		model = defaultImageModel
	}

	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, c.classify(err)
	}

	if len(resp.Data) == 0 {
		return nil, &Failure{Kind: FailureServer, Provider: c.Name(), Message: "response contains no images"}
	}

	return &Result{Output: resp.Data[0].URL}, nil
}

// classify maps go-openai errors onto failure kinds.
func (c *OpenAIConnector) classify(err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, Provider: c.Name(), Message: err.Error()}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		// The code ("invalid_api_key") is more specific than the type
		// ("invalid_request_error"), so it wins when present.
		reason := ""
		if apiErr.Code != nil {
			reason = fmt.Sprintf("%v", apiErr.Code)
		}
		if reason == "" || reason == "<nil>" {
			reason = apiErr.Type
		}
		f := &Failure{Provider: c.Name(), Reason: reason, Message: apiErr.Message}
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			f.Kind = FailureAuth
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			f.Kind = FailureRateLimit
		case apiErr.HTTPStatusCode >= 500:
			f.Kind = FailureServer
		case apiErr.HTTPStatusCode >= 400:
			f.Kind = FailureBadRequest
		default:
			f.Kind = FailureUnknown
		}
		return f
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		kind := FailureNetwork
		if reqErr.HTTPStatusCode >= 500 {
			kind = FailureServer
		}
		return &Failure{Kind: kind, Provider: c.Name(), Message: reqErr.Error()}
	}

	return &Failure{Kind: FailureNetwork, Provider: c.Name(), Message: err.Error()}
}
