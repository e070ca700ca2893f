package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"genrouter/pkg/config"
)

const (
	anthropicDefaultEndpoint = "https://api.anthropic.com"
	anthropicVersion         = "2023-06-01"
	anthropicDefaultModel    = "claude-3-5-sonnet-20241022"
	anthropicMaxTokens       = 4096
)

// AnthropicConnector serves Anthropic-style message APIs. Text task types
// only; the competency map keeps image work away from it.
type AnthropicConnector struct {
	httpClient *http.Client
}

// NewAnthropicConnector creates the Anthropic adapter
func NewAnthropicConnector(cfg *config.Config) (Connector, error) {
	timeout := time.Duration(cfg.Queue.DispatchTimeout) * time.Second
	return &AnthropicConnector{
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the adapter's registry name
func (c *AnthropicConnector) Name() string {
	return "anthropic"
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate executes one generation request
func (c *AnthropicConnector) Generate(ctx context.Context, req *Request) (*Result, error) {
	switch req.TaskType {
	case "image", "people_image":
		return nil, &Failure{Kind: FailureBadRequest, Provider: c.Name(),
			Message: fmt.Sprintf("task type %s is not supported by this connector", req.TaskType)}
	}

	prompt := promptFrom(req)
	if prompt == "" {
		return nil, &Failure{Kind: FailureBadRequest, Provider: c.Name(), Message: "payload has no prompt"}
	}

	model := payloadString(req.Payload, "model")
	if model == "" {
		model = anthropicDefaultModel
	}

	body := anthropicRequest{
		Model:     model,
		MaxTokens: anthropicMaxTokens,
		System:    payloadString(req.Payload, "system"),
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Failure{Kind: FailureBadRequest, Provider: c.Name(), Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = anthropicDefaultEndpoint
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/messages", bytes.NewBuffer(payload))
	if err != nil {
		return nil, &Failure{Kind: FailureBadRequest, Provider: c.Name(), Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isHTTPTimeout(err) {
			return nil, &Failure{Kind: FailureTimeout, Provider: c.Name(), Message: err.Error()}
		}
		return nil, &Failure{Kind: FailureNetwork, Provider: c.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Failure{Kind: FailureNetwork, Provider: c.Name(), Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(resp.StatusCode, raw)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Failure{Kind: FailureServer, Provider: c.Name(), Message: fmt.Sprintf("failed to parse response: %v", err)}
	}

	output := ""
	for _, block := range parsed.Content {
		if block.Type == "text" {
			output = block.Text
			break
		}
	}
	if output == "" {
		return nil, &Failure{Kind: FailureServer, Provider: c.Name(), Message: "response contains no text content"}
	}

	return &Result{
		Output:     output,
		TokensUsed: parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}, nil
}

func (c *AnthropicConnector) classifyStatus(status int, raw []byte) *Failure {
	var errResp anthropicErrorResponse
	_ = json.Unmarshal(raw, &errResp)

	reason := errResp.Error.Type
	message := errResp.Error.Message
	if message == "" {
		message = string(raw)
	}

	f := &Failure{Provider: c.Name(), Reason: reason, Message: message}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		f.Kind = FailureAuth
	case status == http.StatusTooManyRequests:
		f.Kind = FailureRateLimit
	case status >= 500:
		f.Kind = FailureServer
	case status >= 400:
		f.Kind = FailureBadRequest
	default:
		f.Kind = FailureUnknown
	}
	return f
}
