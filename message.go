package routeros

import (
	"strings"

	"github.com/pkg/errors"
)

// ReplyKind identifies the reply marker carried by the first word of a
// received sentence.
type ReplyKind int

// Reply kinds. The set is closed: any other marker is a protocol error.
const (
	// ReplyData is a !re sentence carrying one item of data.
	ReplyData ReplyKind = iota + 1
	// ReplyTrap is a !trap sentence reporting a failed command.
	ReplyTrap
	// ReplyDone is the !done sentence ending a request.
	ReplyDone
	// ReplyFatal is a !fatal sentence; the device closes the connection after it.
	ReplyFatal
	// ReplyEmpty is a !empty sentence sent for a listing without items.
	ReplyEmpty
)

var replyMarkers = map[string]ReplyKind{
	"!re":    ReplyData,
	"!trap":  ReplyTrap,
	"!done":  ReplyDone,
	"!fatal": ReplyFatal,
	"!empty": ReplyEmpty,
}

// ParseReplyKind maps a reply marker to its kind.
func ParseReplyKind(word string) (ReplyKind, error) {
	kind, ok := replyMarkers[word]
	if !ok {
		return 0, &ProtocolError{Op: "parse reply", Err: errors.Wrapf(ErrUnknownReply, "%q", word)}
	}
	return kind, nil
}

// String returns the wire marker of the kind.
func (k ReplyKind) String() string {
	switch k {
	case ReplyData:
		return "!re"
	case ReplyTrap:
		return "!trap"
	case ReplyDone:
		return "!done"
	case ReplyFatal:
		return "!fatal"
	case ReplyEmpty:
		return "!empty"
	default:
		return "!unknown"
	}
}

// Terminal reports whether the kind ends a request.
func (k ReplyKind) Terminal() bool {
	return k == ReplyDone || k == ReplyFatal
}

// Attribute is one name/value pair of a request or response.
type Attribute struct {
	Name  string
	Value string
}

// attributes is an ordered mapping without duplicate names.
type attributes struct {
	list  []Attribute
	index map[string]int
}

func (a *attributes) set(name, value string) {
	if i, ok := a.index[name]; ok {
		a.list[i].Value = value
		return
	}
	if a.index == nil {
		a.index = make(map[string]int)
	}
	a.index[name] = len(a.list)
	a.list = append(a.list, Attribute{Name: name, Value: value})
}

func (a *attributes) lookup(name string) (string, bool) {
	i, ok := a.index[name]
	if !ok {
		return "", false
	}
	return a.list[i].Value, true
}

func (a *attributes) remove(name string) {
	i, ok := a.index[name]
	if !ok {
		return
	}
	a.list = append(a.list[:i], a.list[i+1:]...)
	delete(a.index, name)
	for j := i; j < len(a.list); j++ {
		a.index[a.list[j].Name] = j
	}
}

func (a *attributes) all() []Attribute {
	out := make([]Attribute, len(a.list))
	copy(out, a.list)
	return out
}

// Query is a predicate tree attached to a request. Words returns its
// serialized form, each word starting with '?'.
type Query interface {
	Words() []string
}

// Request is a command sent to the device.
type Request struct {
	command string
	args    attributes
	flags   map[string]bool
	query   Query
	tag     string
}

// NewRequest creates a request for command. Pairs are name/value arguments;
// a trailing name without value becomes a flag.
func NewRequest(command string, pairs ...string) *Request {
	r := &Request{command: command}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.SetArgument(pairs[i], pairs[i+1])
	}
	if len(pairs)%2 == 1 {
		r.SetFlag(pairs[len(pairs)-1])
	}
	return r
}

// Command returns the command path as given.
func (r *Request) Command() string {
	return r.command
}

// SetArgument sets an argument, replacing the value of an existing one in place.
func (r *Request) SetArgument(name, value string) *Request {
	r.args.set(name, value)
	delete(r.flags, name)
	return r
}

// SetFlag adds an argument without value, sent as "=name". An empty value
// set with SetArgument is sent as "=name=".
func (r *Request) SetFlag(name string) *Request {
	r.args.set(name, "")
	if r.flags == nil {
		r.flags = make(map[string]bool)
	}
	r.flags[name] = true
	return r
}

// RemoveArgument removes an argument.
func (r *Request) RemoveArgument(name string) *Request {
	r.args.remove(name)
	delete(r.flags, name)
	return r
}

// Argument returns the value of an argument.
func (r *Request) Argument(name string) (string, bool) {
	return r.args.lookup(name)
}

// Arguments returns the arguments in insertion order.
func (r *Request) Arguments() []Attribute {
	return r.args.all()
}

// SetQuery attaches a query. A nil query removes it.
func (r *Request) SetQuery(q Query) *Request {
	r.query = q
	return r
}

// Query returns the attached query, if any.
func (r *Request) Query() Query {
	return r.query
}

// SetTag sets the tag used to correlate replies. An empty tag lets the
// client decide.
func (r *Request) SetTag(tag string) *Request {
	r.tag = tag
	return r
}

// Tag returns the caller supplied tag.
func (r *Request) Tag() string {
	return r.tag
}

// Words serializes the request into a sentence carrying tag.
func (r *Request) Words(tag string) ([]string, error) {
	command, err := NormalizeCommand(r.command)
	if err != nil {
		return nil, err
	}

	words := make([]string, 0, 2+len(r.args.list))
	words = append(words, command)
	for _, a := range r.args.list {
		if a.Name == "" || strings.Contains(a.Name, "=") {
			return nil, errors.Errorf("routeros: invalid argument name %q", a.Name)
		}
		if r.flags[a.Name] {
			words = append(words, "="+a.Name)
			continue
		}
		words = append(words, "="+a.Name+"="+a.Value)
	}
	if r.query != nil {
		words = append(words, r.query.Words()...)
	}
	if tag != "" {
		words = append(words, ".tag="+tag)
	}
	return words, nil
}

// NormalizeCommand validates a command path and returns its API form.
// CLI syntax with spaces ("/ip address print") is accepted.
func NormalizeCommand(command string) (string, error) {
	command = strings.TrimSpace(command)
	if !strings.HasPrefix(command, "/") {
		return "", errors.Wrapf(ErrInvalidCommand, "%q must be absolute", command)
	}

	var segments []string
	if strings.ContainsAny(command, " \t") {
		segments = strings.FieldsFunc(command[1:], func(r rune) bool {
			return r == ' ' || r == '\t' || r == '/'
		})
	} else {
		segments = strings.Split(command[1:], "/")
	}

	for _, s := range segments {
		switch s {
		case "":
			return "", errors.Wrapf(ErrInvalidCommand, "%q has an empty segment", command)
		case "..", ".":
			return "", errors.Wrapf(ErrInvalidCommand, "%q is relative", command)
		}
	}
	if len(segments) == 0 {
		return "", errors.Wrapf(ErrInvalidCommand, "%q has no command", command)
	}
	return "/" + strings.Join(segments, "/"), nil
}

// Response is one reply sentence received from the device.
type Response struct {
	Kind ReplyKind
	Tag  string

	props attributes
}

// ParseResponse builds a response from a received sentence. Attribute words
// without '=' are skipped.
func ParseResponse(words []string) (*Response, error) {
	return parseResponse(words, nil)
}

func parseResponse(words []string, anomaly func(word string)) (*Response, error) {
	if len(words) == 0 {
		return nil, &ProtocolError{Op: "parse reply", Err: errors.Wrap(ErrUnknownReply, "empty sentence")}
	}
	kind, err := ParseReplyKind(words[0])
	if err != nil {
		return nil, err
	}

	resp := &Response{Kind: kind}
	for _, w := range words[1:] {
		switch {
		case strings.HasPrefix(w, ".tag="):
			resp.Tag = w[len(".tag="):]
		case strings.HasPrefix(w, "="):
			name, value, ok := strings.Cut(w[1:], "=")
			if !ok || name == "" {
				if anomaly != nil {
					anomaly(w)
				}
				continue
			}
			resp.props.set(name, value)
		case kind == ReplyFatal:
			// the reason follows !fatal as a bare word
			resp.props.set("message", w)
		default:
			if anomaly != nil {
				anomaly(w)
			}
		}
	}
	return resp, nil
}

// Get returns the value of a property, or "" when absent.
func (r *Response) Get(name string) string {
	v, _ := r.props.lookup(name)
	return v
}

// Lookup returns the value of a property and whether it was present.
func (r *Response) Lookup(name string) (string, bool) {
	return r.props.lookup(name)
}

// ID returns the .id property.
func (r *Response) ID() string {
	return r.Get(".id")
}

// Properties returns the properties in wire order.
func (r *Response) Properties() []Attribute {
	return r.props.all()
}

// Map returns the properties as a map.
func (r *Response) Map() map[string]string {
	m := make(map[string]string, len(r.props.list))
	for _, a := range r.props.list {
		m[a.Name] = a.Value
	}
	return m
}

// Words serializes the response back into a sentence.
func (r *Response) Words() []string {
	words := make([]string, 0, 2+len(r.props.list))
	words = append(words, r.Kind.String())
	for _, a := range r.props.list {
		words = append(words, "="+a.Name+"="+a.Value)
	}
	if r.Tag != "" {
		words = append(words, ".tag="+r.Tag)
	}
	return words
}

// Responses is every reply of one request in arrival order, the terminal
// reply included.
type Responses []*Response

// Data returns the !re replies.
func (rs Responses) Data() []*Response {
	return rs.OfKind(ReplyData)
}

// OfKind returns the replies of one kind.
func (rs Responses) OfKind(kind ReplyKind) []*Response {
	var out []*Response
	for _, r := range rs {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Terminal returns the reply that ended the request, or nil.
func (rs Responses) Terminal() *Response {
	if len(rs) == 0 {
		return nil
	}
	last := rs[len(rs)-1]
	if !last.Kind.Terminal() {
		return nil
	}
	return last
}

// Trap returns the first !trap reply, or nil.
func (rs Responses) Trap() *Response {
	for _, r := range rs {
		if r.Kind == ReplyTrap {
			return r
		}
	}
	return nil
}

// Err returns a *TrapError when the device reported a failure.
func (rs Responses) Err() error {
	if trap := rs.Trap(); trap != nil {
		return &TrapError{Response: trap}
	}
	return nil
}

// Get returns the first value of a property across the replies.
func (rs Responses) Get(name string) string {
	for _, r := range rs {
		if v, ok := r.Lookup(name); ok {
			return v
		}
	}
	return ""
}
