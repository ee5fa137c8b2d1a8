package routeros

import (
	"crypto/tls"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Environment variables overriding file configuration.
const (
	EnvAddress  = "ROUTEROS_ADDRESS"
	EnvUsername = "ROUTEROS_USERNAME"
	EnvPassword = "ROUTEROS_PASSWORD"
	EnvTLS      = "ROUTEROS_TLS"
)

// Default API ports.
const (
	DefaultPort    = "8728"
	DefaultTLSPort = "8729"
)

// Duration is a time.Duration written as a string ("5s") in configuration files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config describes how to reach and talk to one device.
type Config struct {
	Address            string `toml:"address"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	TLS                bool   `toml:"tls"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	ServerName         string `toml:"server_name"`

	DialTimeout  Duration `toml:"dial_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`

	// Untagged disables tag synthesis, see MultiplexOption.
	Untagged        bool  `toml:"untagged"`
	BufferSize      int   `toml:"buffer_size"`
	MaxWordSize     int   `toml:"max_word_size"`
	MaxSentenceSize int64 `toml:"max_sentence_size"`
}

// DefaultConfig returns the configuration used for unset fields.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  Duration(10 * time.Second),
		WriteTimeout: Duration(defaultWriteTimeout),
		BufferSize:   defaultBufferSize,
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig, applies environment
// overrides and validates the result. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config parse failed (%s)", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config invalid (%s)", path)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAddress)); v != "" {
		cfg.Address = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvUsername)); v != "" {
		cfg.Username = v
	}
	if v, ok := os.LookupEnv(EnvPassword); ok {
		cfg.Password = v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvTLS))); err == nil {
		cfg.TLS = v
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return errors.New("address is required")
	}
	if c.Password != "" && c.Username == "" {
		return errors.New("username is required when a password is set")
	}
	if c.DialTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.BufferSize < 0 || c.MaxWordSize < 0 || c.MaxSentenceSize < 0 {
		return errors.New("sizes must not be negative")
	}
	return nil
}

// DialAddress returns host:port, adding the default port for the transport.
func (c Config) DialAddress() string {
	addr := strings.TrimSpace(c.Address)
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	port := DefaultPort
	if c.TLS {
		port = DefaultTLSPort
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), port)
}

// TLSConfig returns the TLS settings used when TLS is enabled.
func (c Config) TLSConfig() *tls.Config {
	serverName := c.ServerName
	if serverName == "" {
		if host, _, err := net.SplitHostPort(c.DialAddress()); err == nil {
			serverName = host
		}
	}
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: c.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

// Options translates the configuration into client options.
func (c Config) Options() []Option {
	return []Option{
		BufferSizeOption(c.BufferSize),
		WordMaxSize(c.MaxWordSize),
		SentenceMaxSize(c.MaxSentenceSize),
		WriteTimeoutOption(time.Duration(c.WriteTimeout)),
		MultiplexOption(!c.Untagged),
	}
}
