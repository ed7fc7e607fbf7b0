package join

import (
	"errors"
	"fmt"
	"time"
)

// Failure kinds. Test with errors.Is against a JoinStatus error.
var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrTransferIntegrity = errors.New("transfer integrity error")
	ErrIO                = errors.New("i/o failure")
	ErrInstall           = errors.New("module installation failed")
	ErrTimeout           = errors.New("server timeout")
	ErrConnectionLost    = errors.New("connection lost")
)

const downloadError = "Module download error"

// Error is a handshake failure. Error() is the message shown to the user.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func protocolError(format string, args ...any) *Error {
	return &Error{Kind: ErrProtocolViolation, Message: fmt.Sprintf(format, args...)}
}

func integrityError(cause error, format string, args ...any) *Error {
	return &Error{Kind: ErrTransferIntegrity, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func ioError(cause error, message string) *Error {
	return &Error{Kind: ErrIO, Message: message, Cause: cause}
}

func installError(cause error, format string, args ...any) *Error {
	return &Error{Kind: ErrInstall, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func timeoutError(threshold time.Duration) *Error {
	return &Error{
		Kind:    ErrTimeout,
		Message: "Server stopped responding.",
		Cause:   fmt.Errorf("no message for %s", threshold),
	}
}
