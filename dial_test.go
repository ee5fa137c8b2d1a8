package routeros

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/Zereker/routeros/apitest"
)

func dialDevice(t *testing.T, device *apitest.Device, username, password string) (*Client, error) {
	t.Helper()

	server := apitest.NewTestServer(t, device)
	cfg := DefaultConfig()
	cfg.Address = server.Address()
	cfg.Username = username
	cfg.Password = password

	client, err := Dial(testContext(t), cfg, quietLogger())
	if client != nil {
		t.Cleanup(func() { client.Close() })
	}
	return client, err
}

func TestDial_Login(t *testing.T) {
	device := apitest.NewDevice(apitest.WithCredentials("admin", "secret"))
	client, err := dialDevice(t, device, "admin", "secret")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	logins := device.CommandsFor("/login")
	if len(logins) != 1 {
		t.Fatalf("sent %d logins, want 1", len(logins))
	}
	if logins[0].Arg("name") != "admin" || logins[0].Arg("password") != "secret" {
		t.Errorf("unexpected login %v", logins[0].Args)
	}
	if client.Addr() == nil || client.ID() == "" {
		t.Errorf("Addr() = %v, ID() = %q", client.Addr(), client.ID())
	}
}

func TestDial_ChallengeLogin(t *testing.T) {
	challenge := "9a4d3e9e7c1f5b3a2e0d8c6b4a291807"
	device := apitest.NewDevice(
		apitest.WithCredentials("admin", "secret"),
		apitest.WithChallengeLogin(challenge),
	)
	if _, err := dialDevice(t, device, "admin", "secret"); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	logins := device.CommandsFor("/login")
	if len(logins) != 2 {
		t.Fatalf("sent %d logins, want 2", len(logins))
	}
	want, _ := ChallengeResponse("secret", challenge)
	if logins[1].Arg("response") != want {
		t.Errorf("response = %q, want %q", logins[1].Arg("response"), want)
	}
}

func TestDial_BadCredentials(t *testing.T) {
	device := apitest.NewDevice(apitest.WithCredentials("admin", "secret"))
	client, err := dialDevice(t, device, "admin", "wrong")

	var trap *TrapError
	if !errors.As(err, &trap) {
		t.Fatalf("got %v, want *TrapError", err)
	}
	if !strings.Contains(trap.Message(), "invalid user name or password") {
		t.Errorf("Message() = %q", trap.Message())
	}
	if client != nil {
		t.Error("client returned on failed login")
	}
}

func TestDial_WithoutLogin(t *testing.T) {
	device := apitest.NewDevice()
	if _, err := dialDevice(t, device, "", ""); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if n := len(device.CommandsFor("/login")); n != 0 {
		t.Errorf("sent %d logins without a username", n)
	}
}

func TestDial_InvalidConfig(t *testing.T) {
	if _, err := Dial(context.Background(), Config{}); err == nil {
		t.Error("empty config accepted")
	}
}

func TestDial_Refused(t *testing.T) {
	server := apitest.NewTestServer(t, apitest.NewDevice())
	cfg := DefaultConfig()
	cfg.Address = server.Address()
	_ = server.Close()

	if _, err := Dial(testContext(t), cfg); err == nil {
		t.Error("dial to a closed listener succeeded")
	}
}

func TestChallengeResponse(t *testing.T) {
	got, err := ChallengeResponse("", "00000000000000000000000000000000")
	if err != nil {
		t.Fatalf("ChallengeResponse failed: %v", err)
	}
	if len(got) != 34 || !strings.HasPrefix(got, "00") {
		t.Errorf("ChallengeResponse() = %q", got)
	}

	if _, err := ChallengeResponse("secret", "not hex"); err == nil {
		t.Error("invalid challenge accepted")
	}
}

func TestLogin_EmptyPassword(t *testing.T) {
	client, p := newPipeClient(t)
	ctx := testContext(t)

	done := make(chan error, 1)
	go func() {
		done <- client.Login(ctx, "admin", "")
	}()

	p.expect("/login", "=name=admin", "=password=", ".tag=1")
	p.send("!done", ".tag=1")
	if err := <-done; err != nil {
		t.Fatalf("Login failed: %v", err)
	}
}
