package routeros

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// CallState is the lifecycle state of one request.
type CallState int32

const (
	// CallPending is waiting for replies.
	CallPending CallState = iota
	// CallCompleted received its terminal reply.
	CallCompleted
	// CallCancelled was cancelled; its replies are discarded.
	CallCancelled
	// CallFailed ended with a connection level error.
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallCompleted:
		return "completed"
	case CallCancelled:
		return "cancelled"
	case CallFailed:
		return "failed"
	default:
		return "CallState(" + strconv.Itoa(int(s)) + ")"
	}
}

// ResponseFunc receives the replies of an asynchronous request.
type ResponseFunc func(resp *Response)

// Call is an outstanding request. It is owned by the client from the moment
// it is sent until it reaches a terminal state.
type Call struct {
	client  *Client
	tag     string
	command string
	fn      ResponseFunc
	done    chan struct{}
	started time.Time

	mu       sync.Mutex
	state    CallState
	finished bool
	replies  Responses
	err      error
}

func newCall(client *Client, tag, command string, fn ResponseFunc) *Call {
	return &Call{
		client:  client,
		tag:     tag,
		command: command,
		fn:      fn,
		done:    make(chan struct{}),
		started: time.Now(),
	}
}

// Tag returns the tag the request was sent with, synthesized or not.
// It is empty for an untagged request.
func (call *Call) Tag() string {
	return call.tag
}

// Done is closed when the call reaches a terminal state.
func (call *Call) Done() <-chan struct{} {
	return call.done
}

// State returns the current state.
func (call *Call) State() CallState {
	call.mu.Lock()
	defer call.mu.Unlock()
	return call.state
}

// Err returns ErrCancelled after a confirmed cancellation, the connection
// error of a failed call, and nil otherwise.
func (call *Call) Err() error {
	call.mu.Lock()
	defer call.mu.Unlock()
	return call.err
}

// Responses returns the replies received so far.
func (call *Call) Responses() Responses {
	call.mu.Lock()
	defer call.mu.Unlock()
	out := make(Responses, len(call.replies))
	copy(out, call.replies)
	return out
}

// Result returns the replies and the terminal error.
func (call *Call) Result() (Responses, error) {
	call.mu.Lock()
	defer call.mu.Unlock()
	out := make(Responses, len(call.replies))
	copy(out, call.replies)
	return out, call.err
}

// Wait blocks until the call ends or ctx is done. Unlike SendSync it does
// not cancel the request when ctx ends.
func (call *Call) Wait(ctx context.Context) (Responses, error) {
	select {
	case <-call.done:
		return call.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel asks the device to stop the request.
func (call *Call) Cancel(ctx context.Context) error {
	return call.client.cancelCall(ctx, call)
}

func (call *Call) markCancelled() bool {
	call.mu.Lock()
	defer call.mu.Unlock()

	if call.state != CallPending {
		return false
	}
	call.state = CallCancelled
	return true
}

// unmarkCancelled returns a call whose /cancel was never queued to
// CallPending so the cancel can be retried.
func (call *Call) unmarkCancelled() {
	call.mu.Lock()
	defer call.mu.Unlock()

	if call.state == CallCancelled && !call.finished {
		call.state = CallPending
	}
}

// deliver handles one reply. It is only called from the read loop, which
// keeps the replies of a tag in wire order.
func (call *Call) deliver(resp *Response) {
	call.mu.Lock()
	if call.state != CallPending {
		confirmed := call.state == CallCancelled && resp.Kind == ReplyDone && !call.finished
		if confirmed {
			call.finished = true
			call.err = ErrCancelled
		}
		call.mu.Unlock()
		if confirmed {
			call.end(CallCancelled)
		}
		return
	}

	call.replies = append(call.replies, resp)
	terminal := resp.Kind == ReplyDone
	if terminal {
		call.state = CallCompleted
		call.finished = true
	}
	call.mu.Unlock()

	if call.fn != nil {
		call.fn(resp)
	}
	if terminal {
		call.end(CallCompleted)
	}
}

// fail ends the call with a connection level error.
func (call *Call) fail(err error) {
	call.mu.Lock()
	if call.finished {
		call.mu.Unlock()
		return
	}
	call.finished = true
	call.state = CallFailed
	call.err = err
	call.mu.Unlock()

	call.end(CallFailed)
}

// end releases waiters. It runs once per call.
func (call *Call) end(state CallState) {
	call.client.opts.metrics.requestEnded(call.command, state, call.started)
	close(call.done)
}
