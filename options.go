package loomws

import (
	"io"
	"log/slog"
	"time"
)

const (
	defaultHandshakeWait = time.Second * 10
	defaultWriteWait     = time.Second * 5

	DefaultMaxMessageSize = 1 << 20 // 1MB
	DefaultReadBufferSize = 4096
)

// Options configure an Upgrader or Dialer. The zero value is usable; unset
// fields fall back to the defaults above.
type Options struct {
	// Ran when a connection finishes the handshake.
	OnConnect func(conn *Conn)
	// Ran when a connection closes.
	OnDisconnect func(conn *Conn)

	// Deadline for completing the opening handshake. Defaults to 10 seconds.
	HandshakeWait time.Duration
	// Deadline applied to each frame write. Defaults to 5 seconds.
	WriteWait time.Duration
	// Deadline applied to each message read. Zero means reads block
	// indefinitely; teardown then happens only by closing the transport.
	ReadWait time.Duration

	// Max size of an assembled inbound message, header bytes included.
	// Defaults to 1MB; -1 disables the limit.
	MaxMessageSize int
	// Max fragments per inbound message. Zero means no limit.
	MaxFragments int
	// Size of the buffered reader on the transport. Defaults to 4096.
	ReadBufferSize int

	// Optional inbound message rate limiter shared across connections.
	Limiter *RateLimiter

	// Logger for handshake and teardown events. Defaults to a discard
	// logger, matching quiet-by-default library behavior.
	Logger *slog.Logger
}

func (opt *Options) withDefaults() {
	if opt.HandshakeWait == 0 {
		opt.HandshakeWait = defaultHandshakeWait
	}
	if opt.WriteWait == 0 {
		opt.WriteWait = defaultWriteWait
	}
	if opt.MaxMessageSize == 0 {
		opt.MaxMessageSize = DefaultMaxMessageSize
	}
	if opt.ReadBufferSize == 0 {
		opt.ReadBufferSize = DefaultReadBufferSize
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}
