package connector

import (
	"regexp"
	"strings"
)

// Sanitizer converts provider-specific connector failures to user-friendly
// messages and removes sensitive material such as credentials before an
// error is stored on a task or returned to a client.
type Sanitizer struct {
	errorMappings     map[FailureKind]map[string]SanitizedError
	sensitivePatterns []*sensitivePattern
}

// SanitizedError is a user-friendly rendering of a connector failure.
type SanitizedError struct {
	// UserMessage is the user-friendly error message
	UserMessage string `json:"userMessage"`
	// Suggestion provides actionable advice for the user
	Suggestion string `json:"suggestion"`
	// ErrorCode is a unique code for this error type
	ErrorCode string `json:"errorCode"`
}

// sensitivePattern represents a pattern for sensitive information
type sensitivePattern struct {
	pattern     *regexp.Regexp
	replacement string
	description string
}

// AuthErrorMappings contains default mappings for AUTH_FAILED failures.
var AuthErrorMappings = map[string]SanitizedError{
	"invalid_api_key": {
		UserMessage: "Provider credentials were rejected",
		Suggestion:  "Verify the account's API key in the provider console",
		ErrorCode:   "AUTH_INVALID_KEY",
	},
	"authentication_error": {
		UserMessage: "Provider authentication failed",
		Suggestion:  "Verify the account's API key is current",
		ErrorCode:   "AUTH_ERROR",
	},
	"permission_error": {
		UserMessage: "Provider denied access to the requested resource",
		Suggestion:  "Check the account's permissions and subscription plan",
		ErrorCode:   "AUTH_PERMISSION",
	},
	"account_deactivated": {
		UserMessage: "Provider account is deactivated",
		Suggestion:  "Contact the provider to restore the account",
		ErrorCode:   "AUTH_DEACTIVATED",
	},

	// Generic fallback
	"default": {
		UserMessage: "Provider authentication failed",
		Suggestion:  "Verify the account credentials",
		ErrorCode:   "AUTH_FAILED",
	},
}

// RateLimitErrorMappings contains default mappings for RATE_LIMITED failures.
var RateLimitErrorMappings = map[string]SanitizedError{
	"insufficient_quota": {
		UserMessage: "Provider quota exhausted",
		Suggestion:  "Raise the account's quota or wait for the next billing cycle",
		ErrorCode:   "RATE_QUOTA",
	},
	"rate_limit_error": {
		UserMessage: "Provider rate limit hit",
		Suggestion:  "The task will be retried, consider adding more accounts",
		ErrorCode:   "RATE_LIMITED",
	},
	"rate_limit_exceeded": {
		UserMessage: "Provider rate limit hit",
		Suggestion:  "The task will be retried, consider adding more accounts",
		ErrorCode:   "RATE_LIMITED",
	},

	// Generic fallback
	"default": {
		UserMessage: "Provider rate limit hit",
		Suggestion:  "Please try again later",
		ErrorCode:   "RATE_LIMITED",
	},
}

// BadRequestErrorMappings contains default mappings for BAD_REQUEST failures.
var BadRequestErrorMappings = map[string]SanitizedError{
	"context_length_exceeded": {
		UserMessage: "Request exceeds the model's context window",
		Suggestion:  "Reduce the content length or split the task",
		ErrorCode:   "REQ_TOO_LARGE",
	},
	"content_policy_violation": {
		UserMessage: "Request was blocked by the provider's content policy",
		Suggestion:  "Adjust the prompt content",
		ErrorCode:   "REQ_POLICY",
	},
	"content_filter": {
		UserMessage: "Request was blocked by the provider's content filter",
		Suggestion:  "Adjust the prompt content",
		ErrorCode:   "REQ_FILTERED",
	},
	"model_not_found": {
		UserMessage: "Requested model is not available on this provider",
		Suggestion:  "Check the model name in the task payload",
		ErrorCode:   "REQ_BAD_MODEL",
	},
	"invalid_request_error": {
		UserMessage: "Provider rejected the request format",
		Suggestion:  "Check the task payload fields",
		ErrorCode:   "REQ_INVALID",
	},

	// Generic fallback
	"default": {
		UserMessage: "Provider rejected the request",
		Suggestion:  "Check the task payload",
		ErrorCode:   "REQ_REJECTED",
	},
}

// TimeoutErrorMappings contains default mappings for TIMEOUT failures.
var TimeoutErrorMappings = map[string]SanitizedError{
	"default": {
		UserMessage: "Provider did not answer in time",
		Suggestion:  "The task will be routed to another provider",
		ErrorCode:   "TIMEOUT",
	},
}

// ServerErrorMappings contains default mappings for SERVER_ERROR failures.
var ServerErrorMappings = map[string]SanitizedError{
	"overloaded_error": {
		UserMessage: "Provider is overloaded",
		Suggestion:  "The task will be retried on another provider",
		ErrorCode:   "SERVER_OVERLOADED",
	},
	"api_error": {
		UserMessage: "Provider internal error",
		Suggestion:  "The task will be retried",
		ErrorCode:   "SERVER_API_ERROR",
	},

	// Generic fallback
	"default": {
		UserMessage: "Provider failed to process the request",
		Suggestion:  "The task will be retried",
		ErrorCode:   "SERVER_ERROR",
	},
}

// NetworkErrorMappings contains default mappings for NETWORK_ERROR failures.
var NetworkErrorMappings = map[string]SanitizedError{
	"default": {
		UserMessage: "Could not reach the provider",
		Suggestion:  "Check the provider endpoint configuration",
		ErrorCode:   "NETWORK_ERROR",
	},
}

// UnknownErrorMappings contains default mappings for UNKNOWN failures.
var UnknownErrorMappings = map[string]SanitizedError{
	"default": {
		UserMessage: "Unknown provider error",
		Suggestion:  "Contact support if the task keeps failing",
		ErrorCode:   "UNKNOWN_ERROR",
	},
}

// NewSanitizer creates a Sanitizer with default error mappings.
func NewSanitizer() *Sanitizer {
	s := &Sanitizer{
		errorMappings:     make(map[FailureKind]map[string]SanitizedError),
		sensitivePatterns: buildDefaultSensitivePatterns(),
	}

	s.errorMappings[FailureAuth] = AuthErrorMappings
	s.errorMappings[FailureRateLimit] = RateLimitErrorMappings
	s.errorMappings[FailureBadRequest] = BadRequestErrorMappings
	s.errorMappings[FailureTimeout] = TimeoutErrorMappings
	s.errorMappings[FailureServer] = ServerErrorMappings
	s.errorMappings[FailureNetwork] = NetworkErrorMappings
	s.errorMappings[FailureUnknown] = UnknownErrorMappings

	return s
}

// buildDefaultSensitivePatterns builds the default patterns for sensitive
// information that may leak through provider error messages.
func buildDefaultSensitivePatterns() []*sensitivePattern {
	return []*sensitivePattern{
		// Provider API keys (sk-..., sk-ant-..., sk-proj-...)
		{
			pattern:     regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}\b`),
			replacement: "[api-key]",
			description: "secret key",
		},

		// Bearer tokens in echoed headers
		{
			pattern:     regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{8,}`),
			replacement: "Bearer [redacted]",
			description: "bearer token",
		},

		// x-api-key header values
		{
			pattern:     regexp.MustCompile(`(?i)\bx-api-key[=:]\s*\S+`),
			replacement: "x-api-key=[redacted]",
			description: "api key header",
		},

		// URLs carrying credentials
		{
			pattern:     regexp.MustCompile(`https?://[^:/\s]+:[^@\s]+@[a-zA-Z0-9][-a-zA-Z0-9_.]*`),
			replacement: "[url-with-credentials]",
			description: "URL with embedded credentials",
		},

		// Provider organization identifiers
		{
			pattern:     regexp.MustCompile(`\borg-[A-Za-z0-9]{8,}\b`),
			replacement: "[org-id]",
			description: "organization ID",
		},

		// Billing contact emails in quota errors
		{
			pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			replacement: "[email]",
			description: "email address",
		},

		// Internal IP addresses (IPv4 private ranges)
		{
			pattern:     regexp.MustCompile(`\b10\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
			replacement: "[internal-ip]",
			description: "10.x.x.x private IP",
		},
		{
			pattern:     regexp.MustCompile(`\b172\.(1[6-9]|2[0-9]|3[0-1])\.\d{1,3}\.\d{1,3}\b`),
			replacement: "[internal-ip]",
			description: "172.16-31.x.x private IP",
		},
		{
			pattern:     regexp.MustCompile(`\b192\.168\.\d{1,3}\.\d{1,3}\b`),
			replacement: "[internal-ip]",
			description: "192.168.x.x private IP",
		},

		// Request IDs provider support tells users to quote; useless to
		// our clients and traceable, so they go too
		{
			pattern:     regexp.MustCompile(`\breq_[A-Za-z0-9]{8,}\b`),
			replacement: "[request-id]",
			description: "provider request ID",
		},
	}
}

// Sanitize converts a connector failure to a user-friendly message by kind
// and reason. Lookup order: exact reason, case-insensitive reason, partial
// reason, partial message, then the kind's default.
func (s *Sanitizer) Sanitize(kind FailureKind, reason, message string) *SanitizedError {
	mappings, ok := s.errorMappings[kind]
	if !ok {
		mappings = s.errorMappings[FailureUnknown]
	}

	if sanitized, ok := mappings[reason]; ok {
		return &sanitized
	}

	reasonLower := strings.ToLower(reason)
	for key, sanitized := range mappings {
		if strings.ToLower(key) == reasonLower {
			return &sanitized
		}
	}

	if reasonLower != "" {
		for key, sanitized := range mappings {
			if key != "default" && strings.Contains(reasonLower, strings.ToLower(key)) {
				return &sanitized
			}
		}
	}

	messageLower := strings.ToLower(message)
	for key, sanitized := range mappings {
		if key != "default" && strings.Contains(messageLower, strings.ToLower(key)) {
			return &sanitized
		}
	}

	if defaultErr, ok := mappings["default"]; ok {
		return &defaultErr
	}

	// Ultimate fallback
	return &SanitizedError{
		UserMessage: "An error occurred",
		Suggestion:  "Please contact technical support",
		ErrorCode:   "ERROR",
	}
}

// SanitizeSensitiveInfo removes credentials and other sensitive material
// from a message.
func (s *Sanitizer) SanitizeSensitiveInfo(message string) string {
	if message == "" {
		return message
	}

	result := message
	for _, sp := range s.sensitivePatterns {
		result = sp.pattern.ReplaceAllString(result, sp.replacement)
	}

	return result
}

// SanitizeFailure renders a connector failure as the text stored on task
// and assignment records: mapped message plus suggestion, never the raw
// provider detail.
func (s *Sanitizer) SanitizeFailure(f *Failure) string {
	if f == nil {
		return ""
	}
	sanitized := s.Sanitize(f.Kind, f.Reason, f.Message)
	return sanitized.UserMessage + ". " + sanitized.Suggestion
}

// AddErrorMapping adds a custom error mapping for a failure kind and reason.
func (s *Sanitizer) AddErrorMapping(kind FailureKind, reason string, sanitized SanitizedError) {
	if _, ok := s.errorMappings[kind]; !ok {
		s.errorMappings[kind] = make(map[string]SanitizedError)
	}
	s.errorMappings[kind][reason] = sanitized
}

// AddSensitivePattern adds a custom sensitive pattern for redaction.
func (s *Sanitizer) AddSensitivePattern(pattern *regexp.Regexp, replacement, description string) {
	s.sensitivePatterns = append(s.sensitivePatterns, &sensitivePattern{
		pattern:     pattern,
		replacement: replacement,
		description: description,
	})
}
