// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/webrana/webrana/pkg/errors"
)

// Process exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitSecrets   = 3
	exitTruncated = 4
)

// CLIError wraps WebranaError with a hint and the process exit code.
type CLIError struct {
	*errors.WebranaError
	Hint     string
	ExitCode int
}

// NewCLIError creates a new CLI error.
func NewCLIError(we *errors.WebranaError, hint string, exitCode int) *CLIError {
	return &CLIError{WebranaError: we, Hint: hint, ExitCode: exitCode}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.WebranaError == nil {
		return "unknown error"
	}
	msg := e.WebranaError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error.
func (e *CLIError) Unwrap() error {
	if e.WebranaError == nil {
		return nil
	}
	return e.WebranaError
}

// PrintError writes the error in text or JSON form.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		payload := map[string]any{"error": map[string]any{
			"code":    e.Code,
			"message": e.Message,
			"hint":    e.Hint,
		}}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, e.Message)
	if cause := e.Unwrap(); cause != nil {
		if inner := errors.AsWebranaError(cause).Err; inner != nil {
			fmt.Fprintf(w, "  Cause: %v\n", inner)
		}
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// NewUsageError reports a malformed command line.
func NewUsageError(reason string) *CLIError {
	we := errors.New(errors.CodeInvalidInput, reason, nil)
	return NewCLIError(we, "run 'webrana help' for usage information", exitUsage)
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	we := errors.AsWebranaError(err)
	if we.Code != errors.CodeConfig && we.Code != errors.CodeInvalidInput {
		we = errors.New(errors.CodeConfig, "configuration error", err)
	}
	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(we, hint, exitError)
}

// NewMissingKeyError reports a provider with no API key.
func NewMissingKeyError(provider, envName string) *CLIError {
	we := errors.New(errors.CodeConfig, "no API key configured for "+provider, nil).
		WithContext("provider", provider)
	hint := "run 'webrana config set-key " + provider + "'"
	if envName != "" {
		hint += " or export " + envName
	}
	return NewCLIError(we, hint, exitError)
}

// NewSecretsFoundError is returned by scan --fail-on-secrets.
func NewSecretsFoundError(n int) *CLIError {
	we := errors.New(errors.CodeInvalidInput, fmt.Sprintf("%d secrets found", n), nil)
	return NewCLIError(we, "remove the secrets or move them to a secret manager", exitSecrets)
}

// WrapRunError maps a terminal orchestrator error onto an exit code.
func WrapRunError(err error) *CLIError {
	we := errors.AsWebranaError(err)
	switch we.Code {
	case errors.CodeMaxIterations:
		return NewCLIError(we, "raise --max-iterations or split the task", exitTruncated)
	case errors.CodeProviderTransport:
		return NewCLIError(we, "check network access and provider status; transport failures were retried", exitError)
	case errors.CodeProviderProtocol:
		return NewCLIError(we, "the provider returned a malformed stream; try another model", exitError)
	case errors.CodeCancelled:
		return NewCLIError(we, "", exitError)
	case errors.CodeConfig:
		return NewCLIError(we, "run 'webrana config show' to inspect the effective configuration", exitError)
	default:
		return NewCLIError(we, "", exitError)
	}
}

// toCLIError classifies any error returned by a command.
func toCLIError(err error) *CLIError {
	var ce *CLIError
	if stderrors.As(err, &ce) {
		return ce
	}
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "accepts ", "requires ", "invalid argument", "flag needs an argument"} {
		if strings.HasPrefix(msg, prefix) {
			return NewUsageError(msg)
		}
	}
	return WrapRunError(err)
}
