package loomws

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Upgrader runs the server side of the opening handshake over raw
// transports and hands back established connections.
type Upgrader struct {
	*Options
}

// NewUpgrader creates an upgrader with the given options. A nil opts gets
// the defaults.
func NewUpgrader(opts *Options) *Upgrader {
	if opts == nil {
		opts = &Options{}
	}
	opts.withDefaults()

	return &Upgrader{Options: opts}
}

// Accept performs the server handshake on c and returns the established
// connection. The header block is read up to the first CRLFCRLF; any bytes
// the client sent after it stay buffered and are consumed by the frame
// stream, so an eager client's first frame is not lost.
//
// On failure c is closed; the error never affects other connections.
func (u *Upgrader) Accept(c net.Conn) (*Conn, error) {
	_ = c.SetDeadline(time.Now().Add(u.HandshakeWait))

	br := bufio.NewReaderSize(c, u.ReadBufferSize)

	request, err := readHeaderBlock(br)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("reading upgrade request: %w", err)
	}

	response, err := ServerHandshake(request)
	if err != nil {
		u.Logger.Warn("handshake rejected",
			slog.String("remote", c.RemoteAddr().String()),
			slog.String("error", err.Error()))
		_ = c.Close()
		return nil, err
	}

	if _, err := c.Write([]byte(response)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("writing upgrade response: %w", err)
	}

	_ = c.SetDeadline(time.Time{})

	conn := newConn(c, br, u.Options, false)

	if u.Limiter != nil {
		u.Limiter.addClient(conn)
		conn.onClose = append(conn.onClose, u.Limiter.removeClient)
	}

	u.Logger.Debug("connection accepted",
		slog.String("id", conn.ID.String()),
		slog.String("remote", c.RemoteAddr().String()))

	if u.OnConnect != nil {
		u.OnConnect(conn)
	}

	return conn, nil
}

// Serve accepts connections from ln in a loop, upgrading each and running
// handler in its own goroutine. One worker per connection: the worker owns
// the transport, sequences handshake then reads and writes, and tears the
// connection down when handler returns.
//
// Serve returns when ln fails, typically because it was closed.
func (u *Upgrader) Serve(ln net.Listener, handler func(conn *Conn)) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}

		go func() {
			conn, err := u.Accept(c)
			if err != nil {
				return
			}
			defer conn.Close()
			handler(conn)
		}()
	}
}
