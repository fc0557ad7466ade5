package dbus

import "time"

// Defaults matching the size limits and timeouts a connection uses
// absent any Option.
const (
	DefaultReadBufferSize  = 4096
	DefaultMaxMessageSize  = MaxMessageLength
	DefaultHandlerTimeout  = 30 * time.Second
	DefaultSerialStart     = uint32(1)
	DefaultHelloTimeout    = 10 * time.Second
	DefaultAuthLineTimeout = 5 * time.Second
)

// Config controls a Conn's resource usage and pluggable behavior. The
// teacher hard-codes bus addresses and buffer sizes inline in
// Connect; per design note §9 ("global/process state... becomes an
// explicit configuration struct"), dbuscore collects all of it here,
// built with the functional-options pattern.
type Config struct {
	readBufferSize  int
	maxMessageSize  int
	handlerTimeout  time.Duration
	serialStart     uint32
	helloTimeout    time.Duration
	authLineTimeout time.Duration
	logger          *Logger
}

// Option configures a Config.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		readBufferSize:  DefaultReadBufferSize,
		maxMessageSize:  DefaultMaxMessageSize,
		handlerTimeout:  DefaultHandlerTimeout,
		serialStart:     DefaultSerialStart,
		helloTimeout:    DefaultHelloTimeout,
		authLineTimeout: DefaultAuthLineTimeout,
		logger:          defaultLogger,
	}
}

// WithReadBufferSize sets the size of the buffer used to read from
// the transport. Larger buffers trade memory for fewer read syscalls
// on large messages.
func WithReadBufferSize(size int) Option {
	return func(c *Config) { c.readBufferSize = size }
}

// WithMaxMessageSize caps the size of any single message this
// connection will accept, at or below the wire format's own 2^27
// ceiling (§3).
func WithMaxMessageSize(size int) Option {
	return func(c *Config) {
		if size > MaxMessageLength {
			size = MaxMessageLength
		}
		c.maxMessageSize = size
	}
}

// WithHandlerTimeout sets how long AddMatch waits for the bus daemon's
// reply to its AddMatch call. Bind handlers are not bounded by it:
// each runs to completion on the connection thread.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Config) { c.handlerTimeout = d }
}

// WithSerialStart sets the first serial the connection will assign,
// mainly useful for deterministic tests.
func WithSerialStart(start uint32) Option {
	return func(c *Config) {
		if start == 0 {
			start = 1
		}
		c.serialStart = start
	}
}

// WithHelloTimeout bounds how long Dial waits for the bus daemon's
// Hello reply before treating the connection as failed.
func WithHelloTimeout(d time.Duration) Option {
	return func(c *Config) { c.helloTimeout = d }
}

// WithAuthLineTimeout bounds how long the SASL handshake waits for
// each line from the peer before aborting per §4.3's failure
// semantics.
func WithAuthLineTimeout(d time.Duration) Option {
	return func(c *Config) { c.authLineTimeout = d }
}

// WithLogger redirects a connection's logging to l instead of the
// package default.
func WithLogger(l *Logger) Option {
	return func(c *Config) { c.logger = l }
}
