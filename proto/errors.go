package proto

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors wrapped by ProtocolError.
var (
	// ErrReservedPrefix is returned when a length prefix starts with a reserved bit pattern.
	ErrReservedPrefix = errors.New("reserved length prefix")
	// ErrTruncated is returned when the stream ends inside a word or sentence.
	ErrTruncated = errors.New("truncated stream")
	// ErrWordTooLarge is returned when a received word exceeds the decoder limit.
	ErrWordTooLarge = errors.New("word too large")
	// ErrSentenceTooLarge is returned when a received sentence exceeds the decoder limit.
	ErrSentenceTooLarge = errors.New("sentence too large")
)

// EncodingError reports caller supplied data that cannot be represented on the wire.
type EncodingError struct {
	Length int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("proto: word length %d exceeds maximum %d", e.Length, MaxWordLength)
}

// ProtocolError reports malformed bytes received from the remote side.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Op == "" {
		return "proto: " + e.Err.Error()
	}
	return "proto: " + e.Op + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Cause supports errors.Cause from github.com/pkg/errors.
func (e *ProtocolError) Cause() error {
	return e.Err
}

func protocolError(op string, err error) error {
	return &ProtocolError{Op: op, Err: err}
}
