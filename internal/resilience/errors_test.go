package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError("fill_initial_fields", errors.New("page slow"), 0)
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
	if err.Error() != "fill_initial_fields: page slow" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError("submit", errors.New("rate limited"), 429)
	wrapped := fmt.Errorf("portal call failed: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	if IsTransient(errors.New("CPF inválido")) {
		t.Error("validation error should not be transient")
	}
}

func TestIsTransient_Canceled(t *testing.T) {
	if IsTransient(fmt.Errorf("wait: %w", context.Canceled)) {
		t.Error("cancellation must not be retried")
	}
}

func TestIsTransient_DeadlineExceeded(t *testing.T) {
	if !IsTransient(fmt.Errorf("wait visible #cpf_beneficiario: %w", context.DeadlineExceeded)) {
		t.Error("step deadline should be transient")
	}
}

func TestIsTransient_ConnectionReset(t *testing.T) {
	if !IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)) {
		t.Error("expected ECONNRESET to be transient")
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.OpError{Op: "read", Err: &timeoutErr{}}
	if !IsTransient(err) {
		t.Error("expected network timeout to be transient")
	}
}

type timeoutErr struct{}

func (e *timeoutErr) Error() string   { return "timeout" }
func (e *timeoutErr) Timeout() bool   { return true }
func (e *timeoutErr) Temporary() bool { return true }

func TestIsTransient_BrowserPatterns(t *testing.T) {
	patterns := []string{
		"could not find node with given id",
		"websocket: close 1006 (abnormal closure)",
		"Execution context was destroyed",
		"element not interactable",
	}
	for _, p := range patterns {
		if !IsTransient(errors.New(p)) {
			t.Errorf("expected %q to be transient", p)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 404, 409, 500} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to not be transient", code)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError("", inner, 0)
	if !errors.Is(te, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
	if te.Error() != "root cause" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
