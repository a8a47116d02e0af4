package pumpevent

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies why a single record failed to decode.
type DecodeErrorKind int

const (
	EmptyBuffer DecodeErrorKind = iota + 1
	TruncatedRecord
	InvalidTimestamp
)

func (k DecodeErrorKind) String() string {
	switch k {
	case EmptyBuffer:
		return "empty buffer"
	case TruncatedRecord:
		return "truncated record"
	case InvalidTimestamp:
		return "invalid timestamp"
	default:
		return "unknown decode error"
	}
}

// Sentinels for errors.Is.
var (
	ErrEmptyBuffer      = &DecodeError{Kind: EmptyBuffer}
	ErrTruncatedRecord  = &DecodeError{Kind: TruncatedRecord}
	ErrInvalidTimestamp = &DecodeError{Kind: InvalidTimestamp}
	ErrPageCRC          = errors.New("history page crc mismatch")
	ErrPageLength       = errors.New("history page has wrong length")
)

// DecodeError fails one record. Other records are unaffected.
type DecodeError struct {
	Kind   DecodeErrorKind
	Tag    Tag
	Offset int
	Need   int
	Have   int
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case TruncatedRecord:
		if e.Need > 0 {
			return fmt.Sprintf("decode %s: truncated record: need %d bytes, have %d", e.Tag, e.Need, e.Have)
		}
		return fmt.Sprintf("decode %s: truncated record at offset %d", e.Tag, e.Offset)
	case InvalidTimestamp:
		return fmt.Sprintf("decode %s: invalid timestamp at offset %d", e.Tag, e.Offset)
	default:
		return fmt.Sprintf("decode: %s", e.Kind)
	}
}

// Is matches on Kind so callers can test against the sentinels.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

// PageError reports where page parsing stopped.
type PageError struct {
	Offset int
	Err    error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("history page offset %d: %v", e.Offset, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}
