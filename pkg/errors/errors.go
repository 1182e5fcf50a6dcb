// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for webrana.
// Every failure that crosses a component boundary (provider, safety gate,
// sandbox, skill) is a *WebranaError carrying a stable code.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode classifies errors for monitoring, recovery and user display.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeConfig indicates invalid or inconsistent configuration.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeCancelled indicates the caller cancelled the run.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeMaxIterations indicates the iteration budget was exhausted.
	CodeMaxIterations ErrorCode = "MAX_ITERATIONS"

	// CodeProviderTransport indicates a retryable model provider failure
	// (network, 429, 5xx).
	CodeProviderTransport ErrorCode = "PROVIDER_TRANSPORT"

	// CodeProviderProtocol indicates a malformed provider stream. Fatal.
	CodeProviderProtocol ErrorCode = "PROVIDER_PROTOCOL"

	// CodeSanitizationRejected indicates the sanitizer refused the arguments.
	CodeSanitizationRejected ErrorCode = "SANITIZATION_REJECTED"

	// CodePermissionDenied indicates a missing capability or a policy deny.
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// CodeRateLimit indicates the operation class bucket is empty.
	CodeRateLimit ErrorCode = "RATE_LIMIT_EXCEEDED"

	// CodeConfirmationDeclined indicates the user refused the action.
	CodeConfirmationDeclined ErrorCode = "CONFIRMATION_DECLINED"

	// CodeSandboxTrap indicates a plugin fault inside the sandbox.
	CodeSandboxTrap ErrorCode = "SANDBOX_TRAP"

	// CodeSkillExecution indicates a skill-internal failure.
	CodeSkillExecution ErrorCode = "SKILL_EXECUTION_ERROR"
)

// WebranaError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type WebranaError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	// RetryAt is the earliest time a rate-limited operation may succeed.
	RetryAt time.Time
	// Risk is the risk level label attached by the safety gate, if any.
	Risk       string
	StatusCode int
}

// Error implements the error interface.
func (e *WebranaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *WebranaError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *WebranaError) MarshalJSON() ([]byte, error) {
	out := struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Risk        string                 `json:"risk,omitempty"`
		RetryAt     *time.Time             `json:"retry_at,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Recoverable: e.Recoverable,
		Risk:        e.Risk,
		Context:     e.Context,
		Attributes:  e.Attributes,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	if !e.RetryAt.IsZero() {
		t := e.RetryAt
		out.RetryAt = &t
	}
	return json.Marshal(out)
}

// New creates a new WebranaError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *WebranaError {
	return &WebranaError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Attributes:  make(map[string]string),
		Recoverable: code == CodeProviderTransport,
		StatusCode:  codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *WebranaError) WithContext(key string, value interface{}) *WebranaError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *WebranaError) WithAttribute(key, value string) *WebranaError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *WebranaError) WithRecoverable(recoverable bool) *WebranaError {
	e.Recoverable = recoverable
	return e
}

// WithRetryAt records the earliest retry time.
func (e *WebranaError) WithRetryAt(at time.Time) *WebranaError {
	e.RetryAt = at
	return e
}

// WithRisk labels the error with the risk level of the refused call.
func (e *WebranaError) WithRisk(risk string) *WebranaError {
	e.Risk = risk
	return e
}

// AsWebranaError attempts to convert an error to a WebranaError.
// Returns the error as WebranaError if one is in the chain, or wraps it otherwise.
func AsWebranaError(err error) *WebranaError {
	if err == nil {
		return nil
	}
	var we *WebranaError
	if stderrors.As(err, &we) {
		return we
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first WebranaError in the chain, or
// CodeInternal for foreign errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var we *WebranaError
	if stderrors.As(err, &we) {
		return we.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *WebranaError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// ReasonClass is the short user-facing class of a failure, used so the
// user can tell "the plugin crashed" from "this was blocked for safety".
func (e *WebranaError) ReasonClass() string {
	switch e.Code {
	case CodeSanitizationRejected, CodePermissionDenied, CodeConfirmationDeclined:
		return "blocked"
	case CodeRateLimit:
		return "rate_limited"
	case CodeSandboxTrap:
		return "plugin_fault"
	case CodeSkillExecution, CodeNotFound, CodeInvalidInput:
		return "skill_failed"
	case CodeTimeout:
		return "timeout"
	case CodeProviderTransport, CodeProviderProtocol:
		return "provider"
	default:
		return "internal"
	}
}

func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodePermissionDenied, CodeConfirmationDeclined:
		return 403
	case CodeInvalidInput, CodeSanitizationRejected, CodeConfig:
		return 400
	case CodeTimeout:
		return 408
	case CodeRateLimit:
		return 429
	case CodeProviderTransport:
		return 503
	case CodeProviderProtocol:
		return 502
	default:
		return 500
	}
}
