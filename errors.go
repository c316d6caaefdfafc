package loomws

import (
	"errors"
)

// FatalError marks an error as fatal to its connection. After a fatal error
// the Conn is unusable and must be closed; non-fatal errors affect only the
// current message.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func IsFatalErr(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe)
}

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

var (
	// Handshake errors.
	ErrMissingKeyHeader    = errors.New("missing Sec-WebSocket-Key header")
	ErrMissingAcceptHeader = errors.New("missing Sec-WebSocket-Accept header")
	ErrInvalidHandshakeKey = errors.New("Sec-WebSocket-Accept does not match the derived key")
	ErrMalformedHeaderLine = errors.New("malformed header line: no colon separator")
	ErrMissingHeader       = errors.New("header not present")

	// Frame errors.
	ErrIncompleteFrame       = errors.New("buffer shorter than the declared frame length")
	ErrPayloadTooLarge       = errors.New("payload length too large")
	ErrInvalidOpcode         = errors.New("invalid opcode")
	ErrInvalidFrameSeq       = errors.New("invalid frame sequence: expected continuation")
	ErrInvalidControlFrame   = errors.New("invalid control frame")
	ErrExpectedMaskedFrame   = errors.New("received unmasked frame, client frames must be masked")
	ErrUnexpectedMaskedFrame = errors.New("received masked frame, server frames must not be masked")
	ErrMessageTooLarge       = errors.New("message exceeds the configured maximum size")
	ErrTooManyFragments      = errors.New("message exceeds the configured maximum fragment count")
	ErrNonTerminalWrite      = errors.New("cannot write a non-final frame through WriteMessage")

	// Connection errors.
	ErrConnClosed        = errors.New("connection is closed")
	ErrConnNotFound      = errors.New("connection is not registered")
	ErrRateLimitExceeded = errors.New("inbound message rate limit exceeded")
)
