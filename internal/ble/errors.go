package ble

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a command did not produce a response.
type ErrorKind int

const (
	NotReady ErrorKind = iota
	Busy
	Timeout
	UnknownCharacteristic
	UnknownService
	IncorrectResponse
	EmptyValue
	Nack
	TransportError
)

func (k ErrorKind) String() string {
	switch k {
	case NotReady:
		return "notReady"
	case Busy:
		return "busy"
	case Timeout:
		return "timeout"
	case UnknownCharacteristic:
		return "unknownCharacteristic"
	case UnknownService:
		return "unknownService"
	case IncorrectResponse:
		return "incorrectResponse"
	case EmptyValue:
		return "emptyValue"
	case Nack:
		return "nack"
	case TransportError:
		return "transportError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Sentinels for errors.Is. They match any CommandError of the same kind.
var (
	ErrNotReady              = &CommandError{Kind: NotReady}
	ErrBusy                  = &CommandError{Kind: Busy}
	ErrTimeout               = &CommandError{Kind: Timeout}
	ErrUnknownCharacteristic = &CommandError{Kind: UnknownCharacteristic}
	ErrUnknownService        = &CommandError{Kind: UnknownService}
	ErrIncorrectResponse     = &CommandError{Kind: IncorrectResponse}
	ErrEmptyValue            = &CommandError{Kind: EmptyValue}
	ErrNack                  = &CommandError{Kind: Nack}
	ErrTransport             = &CommandError{Kind: TransportError}
)

// CommandError is returned by Session.Send.
type CommandError struct {
	Kind           ErrorKind
	Command        string
	Characteristic UUID
	// NackCode is the device error code for Nack errors.
	NackCode byte
	// Response holds the bytes received so far, if any.
	Response []byte
	Err      error
}

func (e *CommandError) Error() string {
	msg := "ble: " + e.Kind.String()
	if e.Command != "" {
		msg += " (" + e.Command + ")"
	}
	if e.Kind == Nack {
		msg += fmt.Sprintf(": code 0x%02x", e.NackCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Is matches on Kind so callers can test against the package sentinels.
func (e *CommandError) Is(target error) bool {
	t, ok := target.(*CommandError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether sending the same command again may succeed.
func (e *CommandError) Retryable() bool {
	switch e.Kind {
	case Timeout, Busy, TransportError:
		return true
	}
	return false
}

// KindOf returns the kind of a CommandError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsRetryable reports whether err is a retryable CommandError.
func IsRetryable(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Retryable()
}
