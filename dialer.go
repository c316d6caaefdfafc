package loomws

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Dialer runs the client side of the opening handshake.
type Dialer struct {
	*Options
}

// NewDialer creates a dialer with the given options. A nil opts gets the
// defaults.
func NewDialer(opts *Options) *Dialer {
	if opts == nil {
		opts = &Options{}
	}
	opts.withDefaults()

	return &Dialer{Options: opts}
}

// Dial connects to a ws:// URL, performs the handshake and returns the
// established connection.
//
// A fresh client key is generated per attempt. If the server's accept value
// does not match the locally derived one the connection is torn down and
// ErrInvalidHandshakeKey returned; the handshake is not retried on the same
// transport.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (*Conn, error) {
	host, port, err := splitWsURL(rawURL)
	if err != nil {
		return nil, err
	}

	var nd net.Dialer
	c, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rawURL, err)
	}

	conn, err := d.handshake(c, host, port)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	return conn, nil
}

func (d *Dialer) handshake(c net.Conn, host string, port int) (*Conn, error) {
	_ = c.SetDeadline(time.Now().Add(d.HandshakeWait))

	key, err := NewClientKey()
	if err != nil {
		return nil, fmt.Errorf("generating client key: %w", err)
	}

	if _, err := c.Write([]byte(ClientRequest(key, host, port))); err != nil {
		return nil, fmt.Errorf("writing upgrade request: %w", err)
	}

	br := bufio.NewReaderSize(c, d.ReadBufferSize)

	response, err := readHeaderBlock(br)
	if err != nil {
		return nil, fmt.Errorf("reading upgrade response: %w", err)
	}

	if err := VerifyAccept(key, response); err != nil {
		d.Logger.Warn("handshake verification failed",
			slog.String("remote", c.RemoteAddr().String()),
			slog.String("error", err.Error()))
		return nil, err
	}

	_ = c.SetDeadline(time.Time{})

	conn := newConn(c, br, d.Options, true)

	d.Logger.Debug("connection established",
		slog.String("id", conn.ID.String()),
		slog.String("remote", c.RemoteAddr().String()))

	if d.OnConnect != nil {
		d.OnConnect(conn)
	}

	return conn, nil
}

// splitWsURL extracts host and port from a ws:// URL, defaulting the port
// to 80.
func splitWsURL(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "ws" {
		return "", 0, fmt.Errorf("url scheme must be ws, got %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("url %q has no host", rawURL)
	}

	port := 80
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("parsing port: %w", err)
		}
	}

	return host, port, nil
}
