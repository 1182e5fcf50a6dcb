package agent

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/webrana/webrana/pkg/errors"
)

func TestWrapProviderError(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantCode        errors.ErrorCode
		wantRecoverable bool
	}{
		{"nil error", nil, "", false},
		{"typed protocol error", errors.New(errors.CodeProviderProtocol, "bad stream", nil), errors.CodeProviderProtocol, false},
		{"overloaded", stderrors.New("529 overloaded"), errors.CodeProviderTransport, true},
		{"bad key", stderrors.New("invalid api key"), errors.CodeProviderTransport, false},
		{"cancelled", context.Canceled, errors.CodeCancelled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			we := WrapProviderError(tt.err, "claude", 2)
			if tt.err == nil {
				if we != nil {
					t.Errorf("WrapProviderError() = %v, want nil", we)
				}
				return
			}
			if we == nil {
				t.Fatalf("WrapProviderError() = nil")
			}
			if we.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", we.Code, tt.wantCode)
			}
			if we.Recoverable != tt.wantRecoverable {
				t.Errorf("Recoverable = %v, want %v", we.Recoverable, tt.wantRecoverable)
			}
			if we.Context["model"] != "claude" || we.Context["iteration"] != 2 {
				t.Errorf("Context = %v", we.Context)
			}
		})
	}
}

func TestNewMaxIterationsError(t *testing.T) {
	we := NewMaxIterationsError(3)
	if we.Code != errors.CodeMaxIterations || we.Recoverable {
		t.Fatalf("got %+v", we)
	}
	if we.Context["max_iterations"] != 3 {
		t.Errorf("Context = %v", we.Context)
	}
}

func TestWrapCancelled(t *testing.T) {
	typed := errors.New(errors.CodeCancelled, "stream cancelled", context.Canceled)
	if got := WrapCancelled(typed, 1); got != typed {
		t.Errorf("typed cancellation was rewrapped")
	}
	got := WrapCancelled(context.Canceled, 4)
	if got.Code != errors.CodeCancelled || !stderrors.Is(got, context.Canceled) {
		t.Errorf("got %+v", got)
	}
	if got.Context["iteration"] != 4 {
		t.Errorf("Context = %v", got.Context)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateAwaitingModel:  "awaiting_model",
		StateModelResponded: "model_responded",
		StateExecutingTools: "executing_tools",
		StateTerminated:     "terminated",
		State(42):           "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
