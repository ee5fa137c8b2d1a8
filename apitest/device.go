package apitest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Zereker/routeros/proto"
)

// Command is a request received by the device.
type Command struct {
	Path  string
	Args  map[string]string
	Query []string
	Tag   string
	Words []string
}

// Arg returns an argument value, or "" when absent.
func (c *Command) Arg(name string) string {
	return c.Args[name]
}

// HasArg reports whether the argument was sent.
func (c *Command) HasArg(name string) bool {
	_, ok := c.Args[name]
	return ok
}

func parseCommand(words []string) Command {
	cmd := Command{
		Path:  words[0],
		Args:  make(map[string]string),
		Words: words,
	}
	for _, w := range words[1:] {
		switch {
		case strings.HasPrefix(w, ".tag="):
			cmd.Tag = w[len(".tag="):]
		case strings.HasPrefix(w, "="):
			name, value, _ := strings.Cut(w[1:], "=")
			cmd.Args[name] = value
		case strings.HasPrefix(w, "?"):
			cmd.Query = append(cmd.Query, w)
		}
	}
	return cmd
}

// Trap makes the device answer a command with !trap followed by !done.
type Trap struct {
	Category int
	Message  string
}

func (t *Trap) Error() string {
	return fmt.Sprintf("trap %d: %s", t.Category, t.Message)
}

// Fatal makes the device answer with !fatal and drop the connection.
type Fatal struct {
	Message string
}

func (f *Fatal) Error() string {
	return "fatal: " + f.Message
}

// CommandFunc serves one command. It runs in its own goroutine and must
// return once ctx is done (the command was cancelled or the client left).
// Returning nil ends the command with !done; a *Trap or any other error
// with !trap and !done; a *Fatal with !fatal.
type CommandFunc func(ctx context.Context, cmd *Command, w *ReplyWriter) error

// ReplyWriter writes replies of one command, tagging them as needed.
type ReplyWriter struct {
	session *session
	tag     string
	done    []string
}

// Re writes a !re reply with name/value pairs.
func (w *ReplyWriter) Re(pairs ...string) error {
	return w.session.write(w.tag, "!re", pairs...)
}

// Empty writes an !empty reply.
func (w *ReplyWriter) Empty() error {
	return w.session.write(w.tag, "!empty")
}

// Raw writes words as they are, followed by the tag.
func (w *ReplyWriter) Raw(words ...string) error {
	if w.tag != "" {
		words = append(words, ".tag="+w.tag)
	}
	return w.session.writeWords(words)
}

// DoneWith sets name/value pairs sent with the final !done.
func (w *ReplyWriter) DoneWith(pairs ...string) {
	w.done = append(w.done, pairs...)
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithCredentials makes /login require the given user and password.
func WithCredentials(username, password string) DeviceOption {
	return func(d *Device) {
		d.username = username
		d.password = password
	}
}

// WithChallengeLogin makes /login use the pre-6.43 challenge exchange with
// the given hex challenge.
func WithChallengeLogin(challenge string) DeviceOption {
	return func(d *Device) {
		d.challenge = challenge
	}
}

// WithLogger sets the device logger.
func WithLogger(logger zerolog.Logger) DeviceOption {
	return func(d *Device) {
		d.logger = logger
	}
}

// Device is a scriptable fake router. It answers /login, /cancel and /quit
// itself and dispatches every other command to registered handlers.
type Device struct {
	username  string
	password  string
	challenge string
	logger    zerolog.Logger

	mu       sync.Mutex
	handlers map[string]CommandFunc
	received []Command
}

// NewDevice returns a device without command handlers.
func NewDevice(opts ...DeviceOption) *Device {
	d := &Device{
		logger:   zerolog.Nop(),
		handlers: make(map[string]CommandFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleCommand registers fn for a command path.
func (d *Device) HandleCommand(path string, fn CommandFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[path] = fn
}

// Commands returns the commands received so far, in order.
func (d *Device) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Command, len(d.received))
	copy(out, d.received)
	return out
}

// CommandsFor returns the received commands with the given path.
func (d *Device) CommandsFor(path string) []Command {
	var out []Command
	for _, cmd := range d.Commands() {
		if cmd.Path == path {
			out = append(out, cmd)
		}
	}
	return out
}

func (d *Device) handler(path string) CommandFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[path]
}

func (d *Device) record(cmd Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, cmd)
}

// Handle implements Handler.
func (d *Device) Handle(conn *net.TCPConn) {
	d.ServeConn(conn)
}

// ServeConn speaks the protocol on rwc until the peer leaves or /quit is
// received. It closes rwc before returning.
func (d *Device) ServeConn(rwc io.ReadWriteCloser) {
	s := &session{
		device:  d,
		rwc:     rwc,
		encoder: proto.NewEncoder(rwc),
		running: make(map[string]context.CancelFunc),
	}
	s.serve()
}

// session is one client connection to the device.
type session struct {
	device  *Device
	rwc     io.ReadWriteCloser
	encoder *proto.Encoder

	writeMu sync.Mutex
	closed  bool

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func (s *session) serve() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.wg.Wait()
		s.close()
	}()

	decoder := proto.NewDecoder(s.rwc)
	for {
		words, err := decoder.ReadSentence()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.device.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if len(words) == 0 {
			continue
		}

		cmd := parseCommand(words)
		s.device.record(cmd)
		s.device.logger.Debug().Str("command", cmd.Path).Str("tag", cmd.Tag).Msg("command received")

		switch cmd.Path {
		case "/quit":
			_ = s.writeWords([]string{"!fatal", "session terminated on request"})
			return
		case "/cancel":
			s.cancel(&cmd)
		case "/login":
			s.login(&cmd)
		default:
			s.start(ctx, &cmd)
		}
	}
}

func (s *session) start(parent context.Context, cmd *Command) {
	fn := s.device.handler(cmd.Path)
	if fn == nil {
		s.finish(cmd.Tag, &Trap{Message: "no such command prefix"}, nil)
		return
	}

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.running[cmd.Tag] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		w := &ReplyWriter{session: s, tag: cmd.Tag}
		err := fn(ctx, cmd, w)

		s.mu.Lock()
		delete(s.running, cmd.Tag)
		s.mu.Unlock()

		if parent.Err() != nil {
			return
		}
		if ctx.Err() != nil {
			err = &Trap{Category: 2, Message: "interrupted"}
		}

		var fatal *Fatal
		if errors.As(err, &fatal) {
			_ = s.writeWords([]string{"!fatal", fatal.Message})
			s.close()
			return
		}
		s.finish(cmd.Tag, err, w.done)
	}()
}

// finish ends a command with an optional trap and the final !done.
func (s *session) finish(tag string, err error, done []string) {
	if err != nil {
		var trap *Trap
		if !errors.As(err, &trap) {
			trap = &Trap{Message: err.Error()}
		}
		pairs := []string{"message", trap.Message}
		if trap.Category > 0 {
			pairs = append([]string{"category", fmt.Sprint(trap.Category)}, pairs...)
		}
		_ = s.write(tag, "!trap", pairs...)
	}
	_ = s.write(tag, "!done", done...)
}

func (s *session) cancel(cmd *Command) {
	s.mu.Lock()
	var targets []context.CancelFunc
	if cmd.HasArg("tag") {
		if fn, ok := s.running[cmd.Arg("tag")]; ok {
			targets = append(targets, fn)
		}
	} else {
		for _, fn := range s.running {
			targets = append(targets, fn)
		}
	}
	s.mu.Unlock()

	if cmd.HasArg("tag") && len(targets) == 0 {
		s.finish(cmd.Tag, &Trap{Category: 2, Message: "unknown command tag"}, nil)
		return
	}
	for _, fn := range targets {
		fn()
	}
	s.finish(cmd.Tag, nil, nil)
}

func (s *session) login(cmd *Command) {
	d := s.device

	if d.challenge != "" && !cmd.HasArg("response") {
		s.finish(cmd.Tag, nil, []string{"ret", d.challenge})
		return
	}

	ok := d.username == "" || cmd.Arg("name") == d.username
	if ok && d.username != "" {
		if d.challenge != "" {
			ok = cmd.Arg("response") == challengeResponse(d.password, d.challenge)
		} else {
			ok = cmd.Arg("password") == d.password
		}
	}

	if !ok {
		s.finish(cmd.Tag, &Trap{Message: "invalid user name or password (6)"}, nil)
		return
	}
	s.finish(cmd.Tag, nil, nil)
}

func challengeResponse(password, challenge string) string {
	raw, _ := hex.DecodeString(challenge)
	h := md5.New()
	h.Write([]byte{0})
	h.Write([]byte(password))
	h.Write(raw)
	return "00" + hex.EncodeToString(h.Sum(nil))
}

func (s *session) write(tag, marker string, pairs ...string) error {
	words := []string{marker}
	for i := 0; i+1 < len(pairs); i += 2 {
		words = append(words, "="+pairs[i]+"="+pairs[i+1])
	}
	if tag != "" {
		words = append(words, ".tag="+tag)
	}
	return s.writeWords(words)
}

func (s *session) writeWords(words []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return net.ErrClosed
	}
	return s.encoder.WriteSentence(words)
}

func (s *session) close() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	_ = s.rwc.Close()
}
