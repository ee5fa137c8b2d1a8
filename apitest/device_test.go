package apitest

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/Zereker/routeros/proto"
)

// rawClient talks to a device over a pipe without the routeros client.
type rawClient struct {
	t       *testing.T
	conn    net.Conn
	encoder *proto.Encoder
	decoder *proto.Decoder
}

func startDevice(t *testing.T, d *Device) *rawClient {
	t.Helper()
	client, server := net.Pipe()
	go d.ServeConn(server)
	t.Cleanup(func() { client.Close() })

	return &rawClient{
		t:       t,
		conn:    client,
		encoder: proto.NewEncoder(client),
		decoder: proto.NewDecoder(client),
	}
}

func (c *rawClient) send(words ...string) {
	c.t.Helper()
	if err := c.encoder.WriteSentence(words); err != nil {
		c.t.Fatalf("send %q failed: %v", words, err)
	}
}

func (c *rawClient) read() []string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	words, err := c.decoder.ReadSentence()
	if err != nil {
		c.t.Fatalf("read failed: %v", err)
	}
	return words
}

func (c *rawClient) expect(want ...string) {
	c.t.Helper()
	if got := c.read(); !reflect.DeepEqual(got, want) {
		c.t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDevice_CommandHandler(t *testing.T) {
	d := NewDevice()
	d.HandleCommand("/queue/simple/print", func(ctx context.Context, cmd *Command, w *ReplyWriter) error {
		return w.Re("name", "q1")
	})
	c := startDevice(t, d)

	c.send("/queue/simple/print", "=detail", "?name=q1", ".tag=t1")
	c.expect("!re", "=name=q1", ".tag=t1")
	c.expect("!done", ".tag=t1")

	cmds := d.Commands()
	if len(cmds) != 1 {
		t.Fatalf("recorded %d commands, want 1", len(cmds))
	}
	cmd := cmds[0]
	if cmd.Tag != "t1" || !cmd.HasArg("detail") || cmd.Arg("detail") != "" {
		t.Errorf("unexpected command %+v", cmd)
	}
	if !reflect.DeepEqual(cmd.Query, []string{"?name=q1"}) {
		t.Errorf("Query = %q", cmd.Query)
	}
}

func TestDevice_UnknownCommand(t *testing.T) {
	c := startDevice(t, NewDevice())

	c.send("/nope")
	c.expect("!trap", "=message=no such command prefix")
	c.expect("!done")
}

func TestDevice_TrapAndDoneAttributes(t *testing.T) {
	d := NewDevice()
	d.HandleCommand("/fail", func(ctx context.Context, cmd *Command, w *ReplyWriter) error {
		return &Trap{Category: 1, Message: "bad argument"}
	})
	d.HandleCommand("/add", func(ctx context.Context, cmd *Command, w *ReplyWriter) error {
		w.DoneWith("ret", "*1")
		return nil
	})
	c := startDevice(t, d)

	c.send("/fail", ".tag=a")
	c.expect("!trap", "=category=1", "=message=bad argument", ".tag=a")
	c.expect("!done", ".tag=a")

	c.send("/add", ".tag=b")
	c.expect("!done", "=ret=*1", ".tag=b")
}

func TestDevice_Cancel(t *testing.T) {
	d := NewDevice()
	started := make(chan struct{})
	d.HandleCommand("/listen", func(ctx context.Context, cmd *Command, w *ReplyWriter) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	c := startDevice(t, d)

	c.send("/listen", ".tag=l")
	<-started
	c.send("/cancel", "=tag=l", ".tag=c")

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		words := c.read()
		seen[words[0]+" "+words[len(words)-1]] = true
	}
	for _, want := range []string{"!trap .tag=l", "!done .tag=l", "!done .tag=c"} {
		if !seen[want] {
			t.Errorf("missing %q in %v", want, seen)
		}
	}
}

func TestDevice_CancelUnknownTag(t *testing.T) {
	c := startDevice(t, NewDevice())

	c.send("/cancel", "=tag=zz", ".tag=c")
	c.expect("!trap", "=category=2", "=message=unknown command tag", ".tag=c")
	c.expect("!done", ".tag=c")
}

func TestDevice_Quit(t *testing.T) {
	c := startDevice(t, NewDevice())

	c.send("/quit")
	c.expect("!fatal", "session terminated on request")
}

func TestDevice_Login(t *testing.T) {
	c := startDevice(t, NewDevice(WithCredentials("admin", "secret")))

	c.send("/login", "=name=admin", "=password=wrong")
	c.expect("!trap", "=message=invalid user name or password (6)")
	c.expect("!done")

	c.send("/login", "=name=admin", "=password=secret")
	c.expect("!done")
}

func TestDevice_ChallengeLogin(t *testing.T) {
	challenge := "0123456789abcdef0123456789abcdef"
	c := startDevice(t, NewDevice(WithCredentials("admin", "secret"), WithChallengeLogin(challenge)))

	c.send("/login", "=name=admin", "=password=secret")
	c.expect("!done", "=ret="+challenge)

	c.send("/login", "=name=admin", "=response="+challengeResponse("secret", challenge))
	c.expect("!done")
}
