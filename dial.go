package routeros

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Dial connects to the device described by cfg, wraps the connection in TLS
// when enabled and logs in when a username is configured. opts are applied
// after the options derived from cfg.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	addr := cfg.DialAddress()
	dialer := net.Dialer{Timeout: time.Duration(cfg.DialTimeout)}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "routeros: dial %s", addr)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	if cfg.TLS {
		tlsConn := tls.Client(conn, cfg.TLSConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "routeros: tls handshake with %s", addr)
		}
		conn = tlsConn
	}

	client, err := NewClient(conn, append(cfg.Options(), opts...)...)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if cfg.Username != "" {
		if err := client.Login(ctx, cfg.Username, cfg.Password); err != nil {
			client.Close()
			return nil, err
		}
	}
	return client, nil
}

// Login authenticates the session. Devices that answer the plain login with
// a challenge (firmware before 6.43) get the MD5 challenge response.
func (c *Client) Login(ctx context.Context, username, password string) error {
	replies, err := c.SendSync(ctx, NewRequest("/login", "name", username, "password", password))
	if err != nil {
		return err
	}
	if err := replies.Err(); err != nil {
		return err
	}

	challenge := replies.Get("ret")
	if challenge == "" {
		c.logger.Debug("logged in", "conn_id", c.id, "user", username)
		return nil
	}

	response, err := ChallengeResponse(password, challenge)
	if err != nil {
		return err
	}
	replies, err = c.SendSync(ctx, NewRequest("/login", "name", username, "response", response))
	if err != nil {
		return err
	}
	if err := replies.Err(); err != nil {
		return err
	}

	c.logger.Debug("logged in with challenge", "conn_id", c.id, "user", username)
	return nil
}

// ChallengeResponse computes the legacy login response for a hex challenge.
func ChallengeResponse(password, challenge string) (string, error) {
	raw, err := hex.DecodeString(challenge)
	if err != nil {
		return "", errors.Wrap(err, "routeros: invalid login challenge")
	}

	h := md5.New()
	h.Write([]byte{0})
	h.Write([]byte(password))
	h.Write(raw)
	return "00" + hex.EncodeToString(h.Sum(nil)), nil
}
