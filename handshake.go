package loomws

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// GUID is the fixed handshake constant from RFC 6455. Both roles derive the
// accept key from this single value; it must never differ between them.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	headerSecKey    = "Sec-WebSocket-Key"
	headerSecAccept = "Sec-WebSocket-Accept"
)

// AcceptKey derives the Sec-WebSocket-Accept value for a client key:
// SHA-1 of key+GUID, Base64-encoded with the standard alphabet and padding.
//
// The transform runs over the key's exact byte sequence. No trimming, no
// case folding: any normalization here produces a mismatch the peer can
// detect but the operator cannot easily diagnose.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// NewClientKey returns the Base64 encoding of 16 random bytes, a fresh
// nonce per connection. The randomness only needs to avoid collisions
// across connections; the key carries no security property.
func NewClientKey() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(nonce), nil
}

// ExtractHeader returns the value of the named header within a raw header
// block (request or response text up to the terminating CRLFCRLF).
//
// Header names match case-insensitively, per HTTP semantics. Values are
// preserved byte-exact apart from surrounding whitespace: the line is split
// on the FIRST colon only, so values containing colons survive intact.
// Returns ErrMissingHeader if no such line exists.
func ExtractHeader(block, name string) (string, error) {
	for i, line := range strings.Split(block, "\r\n") {
		// The first line is the request or status line, not a header.
		if i == 0 || line == "" {
			continue
		}
		before, after, found := strings.Cut(line, ":")
		if !found {
			return "", fmt.Errorf("%w: %q", ErrMalformedHeaderLine, line)
		}
		if strings.EqualFold(strings.TrimSpace(before), name) {
			return strings.TrimSpace(after), nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrMissingHeader, name)
}

// ServerHandshake consumes a raw upgrade request block and produces the
// complete 101 response text.
//
// The response ends exactly at the final CRLFCRLF. A single stray byte after
// it would be consumed by the peer's frame parser as the first frame byte,
// corrupting the whole binary stream.
func ServerHandshake(request string) (string, error) {
	key, err := ExtractHeader(request, headerSecKey)
	if errors.Is(err, ErrMissingHeader) {
		return "", fmt.Errorf("%w: %w", ErrMissingKeyHeader, err)
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: ")
	b.WriteString(AcceptKey(key))
	b.WriteString("\r\n\r\n")

	return b.String(), nil
}

// ClientRequest builds the upgrade request text for a client key and target
// host/port.
func ClientRequest(key, host string, port int) string {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\n")
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	b.WriteString("Sec-WebSocket-Key: ")
	b.WriteString(key)
	b.WriteString("\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	fmt.Fprintf(&b, "Host: %s:%d\r\n", host, port)
	b.WriteString("\r\n")

	return b.String()
}

// VerifyAccept checks a server's response block against the client key the
// request was built with. It independently re-derives the accept key and
// compares byte-for-byte; a mismatch means the peer does not implement the
// protocol and is fatal to the connection. The handshake is not safe to
// repeat blindly, so callers reconnect with a fresh nonce instead of
// retrying.
func VerifyAccept(clientKey, response string) error {
	accept, err := ExtractHeader(response, headerSecAccept)
	if errors.Is(err, ErrMissingHeader) {
		return fmt.Errorf("%w: %w", ErrMissingAcceptHeader, err)
	}
	if err != nil {
		return err
	}

	if accept != AcceptKey(clientKey) {
		return ErrInvalidHandshakeKey
	}

	return nil
}
