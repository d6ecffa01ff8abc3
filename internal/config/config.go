// Package config loads the optional HCL configuration file.
//
// Every field is optional; anything left out takes the compiled-in default.
// Command-line flags are applied on top by the caller.
//
//	port            = 12345
//	buffer_size     = 1024
//	update_interval = "1s"
//	resolver        = "ioctl"
//	log_level       = "info"
//
//	client {
//	  server   = "127.0.0.1:12345"
//	  message  = "Hello from UDP client"
//	  interval = "1s"
//	}
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/hashicorp/hcl/hcl/ast"
	"github.com/hashicorp/hcl/hcl/scanner"
	"github.com/hashicorp/hcl/hcl/token"

	"github.com/joshuafuller/ifreply/internal/errors"
	"github.com/joshuafuller/ifreply/internal/iface"
	"github.com/joshuafuller/ifreply/internal/protocol"
)

// Config stores configuration.
type Config struct {
	Port           int    `hcl:"port"`
	BufferSize     int    `hcl:"buffer_size"`
	UpdateInterval string `hcl:"update_interval"`
	Resolver       string `hcl:"resolver"`
	LogLevel       string `hcl:"log_level"`

	Client Client `hcl:"client"`
}

// Client configures the send utility.
type Client struct {
	Server   string `hcl:"server"`
	Message  string `hcl:"message"`
	Interval string `hcl:"interval"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Port:           protocol.Port,
		BufferSize:     protocol.BufferSize,
		UpdateInterval: protocol.UpdateInterval.String(),
		LogLevel:       "info",
		Client: Client{
			Server:   protocol.ClientServer,
			Message:  protocol.ClientMessage,
			Interval: time.Second.String(),
		},
	}
}

// Load parses HCL data, fills unset fields with defaults and validates the
// result.
func Load(data []byte) (*Config, error) {
	astRoot, err := hcl.ParseBytes(data)
	if err != nil {
		return nil, &errors.ConfigError{Operation: "parse config", Err: err}
	}

	if _, ok := astRoot.Node.(*ast.ObjectList); !ok {
		return nil, &errors.ConfigError{Operation: "parse config", Details: "schema malformed"}
	}
	// The parser drops a final "key =" without a value instead of failing.
	if pos, ok := danglingAssign(data); ok {
		return nil, &errors.ConfigError{
			Operation: "parse config",
			Details:   fmt.Sprintf("At %s: missing value after '='", pos),
		}
	}

	var c Config
	if err := hcl.DecodeObject(&c, astRoot); err != nil {
		return nil, &errors.ConfigError{Operation: "decode config", Err: err}
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile loads configuration from the given file.
func LoadFile(path string) (*Config, error) {
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Operation: "read config", Err: err, Details: path}
	}
	return Load(d)
}

// danglingAssign reports the position of an assignment that is the last
// token of the input.
func danglingAssign(data []byte) (token.Pos, bool) {
	s := scanner.New(data)
	s.Error = func(token.Pos, string) {}

	var last token.Token
	for {
		tok := s.Scan()
		if tok.Type == token.EOF {
			break
		}
		if tok.Type == token.COMMENT {
			continue
		}
		last = tok
	}
	return last.Pos, last.Type == token.ASSIGN
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
	if c.UpdateInterval == "" {
		c.UpdateInterval = def.UpdateInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Client.Server == "" {
		c.Client.Server = def.Client.Server
	}
	if c.Client.Message == "" {
		c.Client.Message = def.Client.Message
	}
	if c.Client.Interval == "" {
		c.Client.Interval = def.Client.Interval
	}
}

// Validate checks every field and returns the first problem as a
// *errors.ValidationError.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &errors.ValidationError{Field: "port", Value: c.Port, Message: "must be in [0, 65535]"}
	}
	if c.BufferSize < protocol.ReplySize || c.BufferSize > protocol.MaxBufferSize {
		return &errors.ValidationError{
			Field:   "buffer_size",
			Value:   c.BufferSize,
			Message: fmt.Sprintf("must be in [%d, %d]", protocol.ReplySize, protocol.MaxBufferSize),
		}
	}
	if _, err := positiveDuration("update_interval", c.UpdateInterval); err != nil {
		return err
	}
	if _, err := iface.New(c.Resolver); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, _, err := net.SplitHostPort(c.Client.Server); err != nil {
		return &errors.ValidationError{Field: "client.server", Value: c.Client.Server, Message: err.Error()}
	}
	if _, err := positiveDuration("client.interval", c.Client.Interval); err != nil {
		return err
	}
	return nil
}

// Interval returns the parsed update_interval.
func (c *Config) Interval() (time.Duration, error) {
	return positiveDuration("update_interval", c.UpdateInterval)
}

// ClientInterval returns the parsed client.interval.
func (c *Config) ClientInterval() (time.Duration, error) {
	return positiveDuration("client.interval", c.Client.Interval)
}

// Level returns the parsed log_level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, &errors.ValidationError{Field: "log_level", Value: c.LogLevel, Message: err.Error()}
	}
	return lvl, nil
}

func positiveDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &errors.ValidationError{Field: field, Value: s, Message: err.Error()}
	}
	if d <= 0 {
		return 0, &errors.ValidationError{Field: field, Value: s, Message: "must be positive"}
	}
	return d, nil
}
