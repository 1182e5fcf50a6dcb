// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/llm"
)

// WrapProviderError attaches model context to a provider failure. Typed
// errors keep their code; anything else is classified first.
func WrapProviderError(err error, model string, iteration int) *errors.WebranaError {
	if err == nil {
		return nil
	}
	we := errors.AsWebranaError(llm.ClassifyError(err))
	return we.
		WithContext("model", model).
		WithContext("iteration", iteration).
		WithAttribute("gen_ai.request.model", model)
}

// NewMaxIterationsError reports an exhausted tool cycle budget.
func NewMaxIterationsError(maxIterations int) *errors.WebranaError {
	return errors.New(errors.CodeMaxIterations, "run stopped after reaching the iteration limit", nil).
		WithContext("max_iterations", maxIterations).
		WithRecoverable(false)
}

// WrapCancelled reports a run stopped by its caller.
func WrapCancelled(err error, iteration int) *errors.WebranaError {
	if errors.IsCode(err, errors.CodeCancelled) {
		return errors.AsWebranaError(err).WithContext("iteration", iteration)
	}
	return errors.New(errors.CodeCancelled, "run cancelled", err).
		WithContext("iteration", iteration)
}

// NewInvalidInputError creates a new invalid input error.
func NewInvalidInputError(msg string) *errors.WebranaError {
	return errors.New(errors.CodeInvalidInput, msg, nil).
		WithRecoverable(false)
}
