package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind classifies a provider failure for the retry policy.
type Kind int

const (
	// KindTerminal failures are returned immediately (4xx, bad payloads).
	KindTerminal Kind = iota
	// KindTransient failures are retried (timeouts, resets, 5xx).
	KindTransient
)

func (k Kind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "terminal"
}

// Error is a classified provider failure. StatusCode and Body are set when
// the upstream answered with a non-200 status.
type Error struct {
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s error", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a provider error worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindTransient
}

// StatusError classifies an HTTP status. 5xx is transient, everything else
// is terminal.
func StatusError(status int, body string) *Error {
	kind := KindTerminal
	if status >= 500 {
		kind = KindTransient
	}
	return &Error{Kind: kind, StatusCode: status, Body: body}
}

// classifyTransportError turns a raw transport error into an *Error.
// Errors that are already classified pass through unchanged.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if isTransientNetErr(err) {
		return &Error{Kind: KindTransient, Err: err}
	}
	return &Error{Kind: KindTerminal, Err: err}
}

func isTransientNetErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
