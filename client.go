// Package routeros provides a client for the RouterOS API.
// It multiplexes many concurrently outstanding, tagged requests over one
// connection and supports blocking and cancellable asynchronous requests.
package routeros

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/routeros/proto"
)

// ConnState is the lifecycle state of a client connection.
type ConnState int32

const (
	// ConnOpen accepts new requests.
	ConnOpen ConnState = iota
	// ConnClosing rejects new requests while pending calls are failed.
	ConnClosing
	// ConnClosed is terminal.
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnOpen:
		return "open"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	default:
		return "ConnState(" + strconv.Itoa(int(s)) + ")"
	}
}

// Default configuration values.
const (
	// defaultBufferSize is the default size of the outgoing queue.
	defaultBufferSize = 16
	// defaultWriteTimeout is the default deadline of a single write.
	defaultWriteTimeout = 30 * time.Second
)

// Client owns one connection to a device. One goroutine reads replies and
// routes them to calls by tag; another writes queued sentences. Any number
// of goroutines may send and cancel concurrently.
type Client struct {
	id      string
	rwc     io.ReadWriteCloser
	decoder *proto.Decoder
	logger  Logger

	opts options

	sendMsg chan []byte
	closing chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	mu      sync.Mutex
	state   ConnState
	err     error
	pending map[string]*Call
	nextTag uint64
}

// NewClient starts a client on an established transport. The client takes
// ownership of rwc and closes it when the connection ends.
func NewClient(rwc io.ReadWriteCloser, opt ...Option) (*Client, error) {
	if rwc == nil {
		return nil, ErrNilTransport
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	c := &Client{
		id:  uuid.NewString(),
		rwc: rwc,
		decoder: proto.NewDecoderLimits(rwc, proto.Limits{
			MaxWordBytes:     opts.maxWordSize,
			MaxSentenceBytes: opts.maxSentenceSize,
		}),
		logger:  opts.logger,
		opts:    opts,
		sendMsg: make(chan []byte, opts.bufferSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[string]*Call),
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)

	return c, nil
}

// checkOptions sets default values for client options.
func checkOptions(opts *options) {
	defaults := proto.DefaultLimits()

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxWordSize <= 0 {
		opts.maxWordSize = defaults.MaxWordBytes
	}

	if opts.maxSentenceSize <= 0 {
		opts.maxSentenceSize = defaults.MaxSentenceBytes
	}

	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Continue }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// ID returns the identifier used for this connection in log records.
func (c *Client) ID() string {
	return c.id
}

// Addr returns the remote address when the transport is a net.Conn.
func (c *Client) Addr() net.Addr {
	if conn, ok := c.rwc.(net.Conn); ok {
		return conn.RemoteAddr()
	}
	return nil
}

// State returns the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsClosed returns true once the connection stopped accepting requests.
func (c *Client) IsClosed() bool {
	return c.State() != ConnOpen
}

// Done is closed when the connection reached ConnClosed and every pending
// call has been completed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the connection down. Pending calls fail with
// ErrConnectionClosed. Safe to call multiple times.
func (c *Client) Close() error {
	c.beginClose(ErrConnectionClosed)
	c.cancel()
	<-c.done
	return nil
}

// SendSync sends req and blocks until its terminal reply. A !trap is a normal
// outcome available through Responses.Err. When ctx ends first the request is
// cancelled on the device and ctx.Err() is returned.
func (c *Client) SendSync(ctx context.Context, req *Request) (Responses, error) {
	call, err := c.send(ctx, req, nil, false)
	if err != nil {
		return nil, err
	}

	select {
	case <-call.done:
		return call.Result()
	case <-ctx.Done():
		select {
		case <-call.done:
			return call.Result()
		default:
		}
		c.abandon(call)
		return nil, ctx.Err()
	}
}

// SendAsync sends req and returns without waiting. fn, if not nil, is called
// on the reader goroutine for every reply of the request in wire order, the
// terminal one included; it must not block. The returned call reports
// completion through Done.
func (c *Client) SendAsync(ctx context.Context, req *Request, fn ResponseFunc) (*Call, error) {
	return c.send(ctx, req, fn, false)
}

// Cancel asks the device to stop the request with the given tag. Replies
// arriving afterwards are discarded; the call completes with ErrCancelled
// once the device confirms.
func (c *Client) Cancel(ctx context.Context, tag string) error {
	c.mu.Lock()
	call, ok := c.pending[tag]
	state := c.state
	c.mu.Unlock()

	if !ok {
		if state != ConnOpen {
			return ErrConnectionClosed
		}
		return errors.Wrapf(ErrUnknownTag, "%q", tag)
	}
	return c.cancelCall(ctx, call)
}

func (c *Client) cancelCall(ctx context.Context, call *Call) error {
	if !call.markCancelled() {
		return nil
	}

	req := NewRequest("/cancel")
	if call.tag != "" {
		req.SetArgument("tag", call.tag)
	}
	_, err := c.send(ctx, req, c.logCancelReply(call.tag), true)
	if err != nil {
		call.unmarkCancelled()
		return err
	}

	c.logger.Debug("request cancelled", "conn_id", c.id, "tag", call.tag)
	return nil
}

func (c *Client) logCancelReply(target string) ResponseFunc {
	return func(resp *Response) {
		if resp.Kind == ReplyTrap {
			c.logger.Debug("cancel rejected", "conn_id", c.id, "tag", target,
				"message", resp.Get("message"))
		}
	}
}

// abandon cancels a call whose synchronous caller gave up waiting, so it
// does not stay registered without anybody consuming its replies. The
// cancel waits for room in the outgoing queue until the call ends or the
// connection closes.
func (c *Client) abandon(call *Call) {
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			select {
			case <-call.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		err := c.cancelCall(ctx, call)
		if err != nil && !errors.Is(err, ErrConnectionClosed) && !errors.Is(err, context.Canceled) {
			c.logger.Warn("cancel after timeout failed", "conn_id", c.id, "tag", call.tag, "error", err)
		}
	}()
}

func (c *Client) send(ctx context.Context, req *Request, fn ResponseFunc, internal bool) (*Call, error) {
	if req == nil {
		return nil, errors.Wrap(ErrInvalidCommand, "nil request")
	}

	words, err := req.Words("")
	if err != nil {
		return nil, err
	}

	call, err := c.register(req.Tag(), words[0], fn, internal)
	if err != nil {
		return nil, err
	}
	if call.tag != "" {
		words = append(words, ".tag="+call.tag)
	}

	data, err := proto.EncodeSentence(words)
	if err != nil {
		c.unregister(call)
		return nil, err
	}

	if err := c.enqueue(ctx, data); err != nil {
		c.unregister(call)
		return nil, err
	}

	c.logger.Debug("request queued", "conn_id", c.id, "command", words[0], "tag", call.tag)
	return call, nil
}

// register creates the call for a new request. Internal requests always get
// a synthesized tag so they never occupy the untagged slot.
func (c *Client) register(tag, command string, fn ResponseFunc, internal bool) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ConnOpen {
		return nil, ErrConnectionClosed
	}

	if tag == "" && (internal || !c.opts.untagged) {
		tag = c.synthesizeTag()
	}
	if _, busy := c.pending[tag]; busy {
		return nil, &TagConflictError{Tag: tag}
	}

	call := newCall(c, tag, command, fn)
	c.pending[tag] = call
	c.opts.metrics.requestSent(command)
	return call, nil
}

// synthesizeTag returns the next free numeric tag. c.mu must be held.
func (c *Client) synthesizeTag() string {
	for {
		c.nextTag++
		tag := strconv.FormatUint(c.nextTag, 10)
		if _, busy := c.pending[tag]; !busy {
			return tag
		}
	}
}

func (c *Client) unregister(call *Call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[call.tag] == call {
		delete(c.pending, call.tag)
		c.opts.metrics.requestEnded(call.command, CallFailed, call.started)
	}
}

func (c *Client) enqueue(ctx context.Context, data []byte) error {
	select {
	case c.sendMsg <- data:
		return nil
	case <-c.closing:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run supervises the read and write loops and tears the connection down
// when either of them stops.
func (c *Client) run(ctx context.Context) {
	c.logger.Info("connection established", "conn_id", c.id, "addr", c.Addr())
	c.logger.Debug("connection options", "conn_id", c.id,
		"buffer_size", c.opts.bufferSize,
		"max_word_size", c.opts.maxWordSize,
		"max_sentence_size", c.opts.maxSentenceSize,
		"write_timeout", c.opts.writeTimeout,
		"untagged", c.opts.untagged)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	group.Go(func() error {
		<-child.Done()
		c.beginClose(ErrConnectionClosed)
		_ = c.rwc.Close()
		return nil
	})

	_ = group.Wait()
	c.finish()
}

// beginClose moves an open connection to ConnClosing and records why.
func (c *Client) beginClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ConnOpen {
		return
	}
	c.state = ConnClosing
	c.err = err
	close(c.closing)
}

// finish fails every call still pending and marks the connection closed.
func (c *Client) finish() {
	c.mu.Lock()
	err := c.err
	calls := c.pending
	c.pending = make(map[string]*Call)
	c.state = ConnClosed
	c.mu.Unlock()

	for _, call := range calls {
		call.fail(err)
	}

	if errors.Is(err, ErrConnectionClosed) {
		c.logger.Info("connection closed", "conn_id", c.id, "pending", len(calls))
	} else {
		c.logger.Info("connection closed with error", "conn_id", c.id, "pending", len(calls), "error", err)
	}
	c.opts.metrics.connectionClosed(err)
	close(c.done)
}

// abort records err as the connection's terminal error and returns it.
func (c *Client) abort(err error) error {
	c.beginClose(err)
	return err
}

// anomaly reports tolerated malformed input and returns what to do about it.
func (c *Client) anomaly(err error) ErrorAction {
	c.logger.Warn("protocol anomaly", "conn_id", c.id, "error", err)
	return c.opts.onError(err)
}

// readLoop is the only reader of the transport. It decodes sentences and
// routes each reply to the call registered for its tag.
func (c *Client) readLoop(ctx context.Context) error {
	for {
		words, err := c.decoder.ReadSentence()
		if err != nil {
			return c.abort(c.readError(err))
		}

		if len(words) == 0 {
			if c.anomaly(&AnomalyError{Reason: "empty sentence"}) == Disconnect {
				return c.abort(&ProtocolError{Op: "read sentence", Err: errors.New("empty sentence")})
			}
			continue
		}

		var malformed []string
		resp, err := parseResponse(words, func(word string) {
			malformed = append(malformed, word)
		})
		if err != nil {
			return c.abort(err)
		}
		for _, word := range malformed {
			anomaly := &AnomalyError{Reason: "malformed attribute", Word: word, Tag: resp.Tag}
			if c.anomaly(anomaly) == Disconnect {
				return c.abort(anomaly)
			}
		}

		if err := c.dispatch(resp); err != nil {
			return c.abort(err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) readError(err error) error {
	var protoErr *ProtocolError
	switch {
	case errors.As(err, &protoErr):
		return err
	case errors.Is(err, io.EOF):
		return errors.WithMessage(ErrConnectionClosed, "closed by remote")
	default:
		return errors.Wrap(err, "routeros: read")
	}
}

// dispatch delivers a reply to its call. A !fatal reply ends the connection.
func (c *Client) dispatch(resp *Response) error {
	c.logger.Debug("reply received", "conn_id", c.id, "kind", resp.Kind, "tag", resp.Tag)
	c.opts.metrics.replyReceived(resp.Kind)

	if resp.Kind == ReplyFatal {
		return &FatalError{Message: resp.Get("message")}
	}

	c.mu.Lock()
	call, ok := c.pending[resp.Tag]
	if ok && resp.Kind == ReplyDone {
		delete(c.pending, resp.Tag)
	}
	c.mu.Unlock()

	if !ok {
		anomaly := &AnomalyError{Reason: "reply for unknown tag", Tag: resp.Tag}
		if c.anomaly(anomaly) == Disconnect {
			return anomaly
		}
		return nil
	}

	call.deliver(resp)
	return nil
}

// writeLoop writes queued sentences in order. It is the only writer of the
// transport, so sentences are never interleaved.
func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return c.abort(errors.Wrap(err, "routeros: write"))
			}
		}
	}
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// write sends data to the transport, with a deadline when supported.
func (c *Client) write(data []byte) error {
	if d, ok := c.rwc.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	}

	_, err := c.rwc.Write(data)
	if err != nil {
		c.logger.Debug("write error", "conn_id", c.id, "error", err)
	}
	return err
}
