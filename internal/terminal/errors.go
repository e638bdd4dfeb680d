package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// ErrorKind classifies session failures. None of them are retried here.
type ErrorKind string

const (
	AuthenticationFailure ErrorKind = "AuthenticationFailure"
	TransportReset        ErrorKind = "TransportReset"
	ProtocolError         ErrorKind = "ProtocolError"
	Timeout               ErrorKind = "Timeout"
	UnsupportedTransport  ErrorKind = "UnsupportedTransport"
	Unknown               ErrorKind = "Unknown"
)

// ErrNotConnected is returned by sends and resizes outside the connected state.
var ErrNotConnected = errors.New("session not connected")

// Error is a categorized session failure. Err keeps the original cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the category of err. Errors that are not *Error are
// classified from their shape: deadlines become Timeout, resets and closed
// connections become TransportReset.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	if isReset(err) {
		return TransportReset
	}
	return Unknown
}

// classify wraps err with its category unless it already carries one.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return newError(KindOf(err), op, err)
}

func isReset(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return true
	}
	return strings.Contains(err.Error(), "connection reset by peer")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
