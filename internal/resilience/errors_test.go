package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("server overloaded"), 503)
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("rate limited"), 429)
	wrapped := fmt.Errorf("api call failed: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_StatusCoder(t *testing.T) {
	if !IsTransient(statusErr(502)) {
		t.Error("502 should be transient")
	}
	if IsTransient(statusErr(404)) {
		t.Error("404 should not be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	if IsTransient(errors.New("invalid input: missing field")) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_ConnectionErrors(t *testing.T) {
	for _, errno := range []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		err := fmt.Errorf("dial tcp: %w", errno)
		if !IsTransient(err) {
			t.Errorf("%v should be transient", errno)
		}
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsTransient(err) {
		t.Error("network timeout should be transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	for _, p := range []string{"connection reset by peer", "broken pipe", "TLS handshake timeout", "i/o timeout", "unexpected EOF"} {
		if !IsTransient(errors.New(p)) {
			t.Errorf("expected %q to be transient", p)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to be transient", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 405, 409, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to NOT be transient", code)
		}
	}
}

func TestIsClientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{statusErr(400), true},
		{statusErr(404), true},
		{fmt.Errorf("wrapped: %w", statusErr(410)), true},
		{statusErr(429), false},
		{statusErr(500), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsClientError(tt.err); got != tt.want {
			t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	if !errors.Is(te, inner) {
		t.Error("TransientError.Unwrap should return the inner error")
	}
	if te.HTTPStatus() != 500 {
		t.Errorf("expected StatusCode 500, got %d", te.HTTPStatus())
	}
	if te.Error() != "root cause" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
