package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
)

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"net timeout", fmt.Errorf("execute request: %w", timeoutErr{}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"other", errors.New("tls: bad certificate"), false},
		{"already classified", StatusError(418, "teapot"), false},
	}
	for _, tc := range tests {
		got := classifyTransportError(tc.err)
		var pe *Error
		if !errors.As(got, &pe) {
			t.Fatalf("%s: expected *Error, got %T", tc.name, got)
		}
		if IsTransient(got) != tc.transient {
			t.Errorf("%s: transient=%v want %v", tc.name, IsTransient(got), tc.transient)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	if got := StatusError(502, "bad gateway").Error(); got != "API error (status 502): bad gateway" {
		t.Errorf("unexpected status message %q", got)
	}
	e := &Error{Kind: KindTransient, Err: io.EOF}
	if !errors.Is(e, io.EOF) {
		t.Error("expected Unwrap to expose cause")
	}
	if KindTransient.String() != "transient" || KindTerminal.String() != "terminal" {
		t.Error("unexpected kind strings")
	}
}
