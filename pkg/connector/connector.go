// Package connector adapts third-party content-generation APIs behind a
// uniform dispatch interface. Adapters register themselves by name; the
// provider record in the database selects which adapter serves it.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Request carries one dispatch attempt to a provider. Endpoint and APIKey
// come from the provider and account records; the payload is the task's
// payload verbatim.
type Request struct {
	TaskID   string
	TaskType string
	Payload  map[string]interface{}
	Endpoint string
	APIKey   string
}

// Result is a provider's successful response. TokensUsed is zero when the
// provider does not report usage; the caller falls back to the estimate.
type Result struct {
	Output     string
	TokensUsed int
}

// Connector executes generation requests against one provider API family.
type Connector interface {
	// Name returns the adapter's registry name.
	Name() string
	// Generate runs one request to completion. Errors are *Failure values
	// classified by kind.
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// FailureKind classifies connector errors for retry decisions and
// user-facing sanitization.
type FailureKind string

const (
	FailureAuth       FailureKind = "AUTH_FAILED"
	FailureRateLimit  FailureKind = "RATE_LIMITED"
	FailureBadRequest FailureKind = "BAD_REQUEST"
	FailureTimeout    FailureKind = "TIMEOUT"
	FailureServer     FailureKind = "SERVER_ERROR"
	FailureNetwork    FailureKind = "NETWORK_ERROR"
	FailureUnknown    FailureKind = "UNKNOWN"
)

// Failure is a classified connector error. Reason carries the provider's
// own error label when one exists; Message is the raw detail and may
// contain sensitive material, so it must pass through the sanitizer before
// reaching task records or clients.
type Failure struct {
	Kind     FailureKind
	Provider string
	Reason   string
	Message  string
}

func (f *Failure) Error() string {
	if f.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", f.Kind, f.Reason, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Timeout reports whether the failure was a timeout.
func (f *Failure) Timeout() bool {
	return f.Kind == FailureTimeout
}

// AsFailure unwraps err into a *Failure if it is one.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsTimeout reports whether err is a timeout failure, directly or wrapped.
func IsTimeout(err error) bool {
	if f, ok := AsFailure(err); ok {
		return f.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// isHTTPTimeout reports whether err is a client-side timeout from net/http.
func isHTTPTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// payloadString returns the first non-empty string value among the given
// payload keys.
func payloadString(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// promptFrom extracts the generation prompt from a request payload,
// accepting the common field spellings.
func promptFrom(req *Request) string {
	return payloadString(req.Payload, "prompt", "description", "content", "text")
}
