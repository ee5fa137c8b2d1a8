package routeros

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/Zereker/routeros/proto"
)

// Errors returned by client operations.
var (
	// ErrConnectionClosed is returned when operating on a closing or closed connection.
	ErrConnectionClosed = errors.New("routeros: connection closed")
	// ErrInvalidCommand is returned for command paths that cannot be sent.
	ErrInvalidCommand = errors.New("routeros: invalid command")
	// ErrCancelled is the terminal error of a call whose cancellation was confirmed.
	ErrCancelled = errors.New("routeros: request cancelled")
	// ErrUnknownReply is wrapped by a ProtocolError when a sentence starts with an unknown marker.
	ErrUnknownReply = errors.New("unknown reply marker")
	// ErrUnknownTag is returned when cancelling a tag that is not outstanding.
	ErrUnknownTag = errors.New("routeros: unknown tag")
	// ErrNilTransport is returned by NewClient when no transport is given.
	ErrNilTransport = errors.New("routeros: nil transport")
)

// EncodingError reports a request that cannot be represented on the wire.
type EncodingError = proto.EncodingError

// ProtocolError reports malformed data received from the device.
type ProtocolError = proto.ProtocolError

// TagConflictError is returned when a tag is reused while a call with the
// same tag is still outstanding. An empty Tag means a second untagged call.
type TagConflictError struct {
	Tag string
}

func (e *TagConflictError) Error() string {
	if e.Tag == "" {
		return "routeros: an untagged request is already outstanding"
	}
	return fmt.Sprintf("routeros: tag %q is already outstanding", e.Tag)
}

// TrapError is a failure reported by the device with a !trap reply.
type TrapError struct {
	Response *Response
}

// Category returns the numeric trap category, or -1 when the device sent none.
func (e *TrapError) Category() int {
	v, ok := e.Response.Lookup("category")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// Message returns the trap message.
func (e *TrapError) Message() string {
	return e.Response.Get("message")
}

func (e *TrapError) Error() string {
	return "routeros: trap: " + e.Message()
}

// FatalError is the terminal error of every call pending when the device
// sent a !fatal reply.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return "routeros: fatal: " + e.Message
}

// AnomalyError describes data the client tolerated while reading replies.
type AnomalyError struct {
	Reason string
	Word   string
	Tag    string
}

func (e *AnomalyError) Error() string {
	if e.Word == "" {
		return "routeros: " + e.Reason
	}
	return fmt.Sprintf("routeros: %s: %q", e.Reason, e.Word)
}
