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

// ManusConnector serves agent-style task APIs that take a free-form
// description and run asynchronous work behind a synchronous endpoint.
// These APIs do not report token usage, so usage is approximated as twice
// the description length.
type ManusConnector struct {
	httpClient *http.Client
}

// NewManusConnector creates the manus adapter
func NewManusConnector(cfg *config.Config) (Connector, error) {
	timeout := time.Duration(cfg.Queue.DispatchTimeout) * time.Second
	return &ManusConnector{
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the adapter's registry name
func (c *ManusConnector) Name() string {
	return "manus"
}

type manusRequest struct {
	TaskType    string                 `json:"task_type"`
	Description string                 `json:"description"`
	Options     map[string]interface{} `json:"options,omitempty"`
}

type manusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

// Generate executes one generation request
func (c *ManusConnector) Generate(ctx context.Context, req *Request) (*Result, error) {
	description := promptFrom(req)
	if description == "" {
		return nil, &Failure{Kind: FailureBadRequest, Provider: c.Name(), Message: "payload has no description"}
	}

	if req.Endpoint == "" {
		return nil, &Failure{Kind: FailureBadRequest, Provider: c.Name(), Message: "provider has no endpoint configured"}
	}

	body := manusRequest{
		TaskType:    req.TaskType,
		Description: description,
	}
	if opts, ok := req.Payload["options"].(map[string]interface{}); ok {
		body.Options = opts
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Failure{Kind: FailureBadRequest, Provider: c.Name(), Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint+"/v1/tasks", bytes.NewBuffer(payload))
	if err != nil {
		return nil, &Failure{Kind: FailureBadRequest, Provider: c.Name(), Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

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

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.classifyStatus(resp.StatusCode, raw)
	}

	var parsed manusResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Failure{Kind: FailureServer, Provider: c.Name(), Message: fmt.Sprintf("failed to parse response: %v", err)}
	}

	if parsed.Status == "failed" || parsed.Error != "" {
		return nil, &Failure{Kind: FailureServer, Provider: c.Name(), Reason: parsed.Status, Message: parsed.Error}
	}

	return &Result{
		Output:     parsed.Output,
		TokensUsed: 2 * len(description),
	}, nil
}

func (c *ManusConnector) classifyStatus(status int, raw []byte) *Failure {
	var parsed manusResponse
	_ = json.Unmarshal(raw, &parsed)

	message := parsed.Error
	if message == "" {
		message = string(raw)
	}

	f := &Failure{Provider: c.Name(), Message: message}
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
