package loomws

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Conn is one established WebSocket connection. It owns its net.Conn
// exclusively: no other component may read or write the transport while the
// Conn is alive, and the frame sequence on it is strictly sequential.
//
// All methods are synchronous and blocking. A Conn is not safe for
// concurrent reads or concurrent writes; the owning goroutine serializes
// handshake, reads and writes itself. Closing the Conn (or its transport)
// makes the next blocking call fail and unwind.
type Conn struct {
	ID uuid.UUID

	raw      net.Conn
	br       *bufio.Reader
	opts     *Options
	log      *slog.Logger
	isClient bool

	writeMu sync.Mutex

	isClosed  atomic.Bool
	closeOnce sync.Once
	onClose   []func(conn *Conn)
}

func newConn(raw net.Conn, br *bufio.Reader, opts *Options, isClient bool) *Conn {
	return &Conn{
		ID:       uuid.New(),
		raw:      raw,
		br:       br,
		opts:     opts,
		log:      opts.Logger,
		isClient: isClient,
	}
}

// NetConn returns the underlying transport.
func (conn *Conn) NetConn() net.Conn {
	return conn.raw
}

func (conn *Conn) RemoteAddr() net.Addr {
	return conn.raw.RemoteAddr()
}

// readHeaderBlock reads raw text from r up to and including the first
// CRLFCRLF. Bytes after the terminator stay buffered in r for the frame
// stream.
func readHeaderBlock(r *bufio.Reader) (string, error) {
	var block bytes.Buffer

	for {
		line, err := r.ReadString('\n')
		block.WriteString(line)
		if err != nil {
			return block.String(), err
		}
		if line == "\r\n" {
			return block.String(), nil
		}
	}
}

// nextFrame reads and decodes exactly one frame from the stream, unmasking
// the payload in place. The buffered reader makes partial transport reads
// invisible here: each field is read fully before the next is touched.
func (conn *Conn) nextFrame() (Frame, error) {
	var frame Frame

	b, err := conn.nRead(2)
	if err != nil {
		return frame, fatal(err)
	}

	frame.FIN = b[0]&0b10000000 != 0
	frame.OPCODE = b[0] & 0b00001111
	frame.IsMasked = b[1]&0b10000000 != 0
	lengthB := int(b[1] & 0b01111111)

	if !isValidOpcode(frame.OPCODE) {
		return frame, fatal(ErrInvalidOpcode)
	}
	if !conn.isClient && !frame.IsMasked {
		return frame, fatal(ErrExpectedMaskedFrame)
	}
	if conn.isClient && frame.IsMasked {
		return frame, fatal(ErrUnexpectedMaskedFrame)
	}

	switch lengthB {
	case 126:
		b, err := conn.nRead(2)
		if err != nil {
			return frame, fatal(err)
		}
		frame.PayloadLength = int(binary.BigEndian.Uint16(b))
	case 127:
		b, err := conn.nRead(8)
		if err != nil {
			return frame, fatal(err)
		}
		length64 := binary.BigEndian.Uint64(b)
		if length64 > math.MaxInt {
			return frame, fatal(ErrPayloadTooLarge)
		}
		frame.PayloadLength = int(length64)
	default:
		frame.PayloadLength = lengthB
	}

	if conn.opts.MaxMessageSize > 0 && frame.PayloadLength > conn.opts.MaxMessageSize {
		return frame, fatal(ErrPayloadTooLarge)
	}

	if frame.IsMasked {
		key, err := conn.nRead(4)
		if err != nil {
			return frame, fatal(err)
		}
		frame.MaskingKey = make([]byte, 4)
		copy(frame.MaskingKey, key)
	}

	frame.Payload = make([]byte, frame.PayloadLength)
	if _, err := io.ReadFull(conn.br, frame.Payload); err != nil {
		return frame, fatal(err)
	}
	if frame.IsMasked {
		mask(frame.Payload, frame.MaskingKey)
	}

	return frame, nil
}

// nRead reads exactly n bytes via Peek+Discard to avoid a copy for small
// header fields. The returned slice is only valid until the next read.
func (conn *Conn) nRead(n int) ([]byte, error) {
	b, err := conn.br.Peek(n)
	if err != nil {
		return nil, err
	}

	// never fails after a successful Peek
	_, _ = conn.br.Discard(n)

	return b, nil
}

// ReadMessage blocks until a complete data message arrives and returns its
// opcode and assembled payload. Control frames encountered mid-message are
// handled transparently: pings are answered with pongs, pongs are ignored,
// and a close frame is echoed before ErrConnClosed is returned.
//
// Fragmented messages are reassembled here, above the base codec: frames
// accumulate until one carries FIN, subject to MaxMessageSize and
// MaxFragments.
func (conn *Conn) ReadMessage() (uint8, []byte, error) {
	if conn.isClosed.Load() {
		return 0, nil, fatal(ErrConnClosed)
	}

	if conn.opts.Limiter != nil && !conn.opts.Limiter.allow(conn) {
		if err := conn.opts.Limiter.onLimit(conn); err != nil {
			conn.CloseWithCode(ClosePolicyViolation, ErrRateLimitExceeded.Error())
			return 0, nil, fatal(ErrRateLimitExceeded)
		}
	}

	if conn.opts.ReadWait > 0 {
		_ = conn.raw.SetReadDeadline(time.Now().Add(conn.opts.ReadWait))
		defer conn.raw.SetReadDeadline(time.Time{})
	}

	var (
		payload   bytes.Buffer
		opcode    uint8
		started   bool
		fragments int
	)

	for {
		frame, err := conn.nextFrame()
		if err != nil {
			conn.teardown(err)
			return 0, nil, err
		}

		if frame.IsControl() {
			if err := conn.handleControl(&frame); err != nil {
				conn.teardown(err)
				return 0, nil, err
			}
			continue
		}

		switch {
		case !started && frame.OPCODE == OpcodeContinuation:
			err = fatal(ErrInvalidFrameSeq)
		case started && frame.OPCODE != OpcodeContinuation:
			err = fatal(ErrInvalidFrameSeq)
		}
		if err != nil {
			conn.CloseWithCode(CloseProtocolError, ErrInvalidFrameSeq.Error())
			return 0, nil, err
		}

		if !started {
			started = true
			opcode = frame.OPCODE
		}

		fragments++
		if conn.opts.MaxFragments > 0 && fragments > conn.opts.MaxFragments {
			conn.CloseWithCode(CloseMessageTooBig, ErrTooManyFragments.Error())
			return 0, nil, fatal(ErrTooManyFragments)
		}

		payload.Write(frame.Payload)
		if conn.opts.MaxMessageSize > 0 && payload.Len() > conn.opts.MaxMessageSize {
			conn.CloseWithCode(CloseMessageTooBig, ErrMessageTooLarge.Error())
			return 0, nil, fatal(ErrMessageTooLarge)
		}

		if frame.FIN {
			return opcode, payload.Bytes(), nil
		}
	}
}

// ReadText reads the next data message and decodes it as text, replacing
// invalid UTF-8 sequences rather than failing.
func (conn *Conn) ReadText() (string, error) {
	_, p, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(p), "�"), nil
}

func (conn *Conn) handleControl(frame *Frame) error {
	if !frame.IsValidControl() {
		conn.CloseWithCode(CloseProtocolError, ErrInvalidControlFrame.Error())
		return fatal(ErrInvalidControlFrame)
	}

	switch frame.OPCODE {
	case OpcodePing:
		return conn.writeControl(OpcodePong, frame.Payload)
	case OpcodePong:
		// unsolicited pongs are permitted and ignored
		return nil
	case OpcodeClose:
		conn.closeOnPayload(frame.Payload)
		return fatal(ErrConnClosed)
	}

	return nil
}

// closeOnPayload echoes a peer's close frame, validating its code and
// reason per the protocol before reusing them.
func (conn *Conn) closeOnPayload(payload []byte) {
	if len(payload) == 0 {
		conn.CloseWithCode(CloseNormalClosure, "")
		return
	}
	if len(payload) < 2 {
		conn.CloseWithCode(CloseProtocolError, "invalid close frame payload")
		return
	}

	code := binary.BigEndian.Uint16(payload[:2])
	if !IsValidCloseCode(code) {
		conn.CloseWithCode(CloseProtocolError, "invalid close code")
		return
	}
	if !utf8.Valid(payload[2:]) {
		conn.CloseWithCode(CloseProtocolError, "invalid utf8 close reason")
		return
	}

	conn.CloseWithCode(code, string(payload[2:]))
}

// WriteMessage sends one complete data message as a single terminal frame.
// FIN is always set: a frame without it is a fragment peers will hold open.
// Client connections mask the payload with a fresh key; server connections
// never mask.
func (conn *Conn) WriteMessage(opcode uint8, payload []byte) error {
	if opcode != OpcodeText && opcode != OpcodeBinary {
		return ErrInvalidOpcode
	}
	return conn.writeFrame(opcode, payload)
}

// WriteText sends s as a single text message.
func (conn *Conn) WriteText(s string) error {
	return conn.writeFrame(OpcodeText, []byte(s))
}

func (conn *Conn) writeControl(opcode uint8, payload []byte) error {
	if len(payload) > MaxControlFramePayload {
		return ErrInvalidControlFrame
	}
	return conn.writeFrame(opcode, payload)
}

// Ping sends a ping frame. The peer's pong is consumed by the read loop.
func (conn *Conn) Ping() error {
	return conn.writeControl(OpcodePing, nil)
}

func (conn *Conn) writeFrame(opcode uint8, payload []byte) error {
	if conn.isClosed.Load() {
		return fatal(ErrConnClosed)
	}

	frame, err := NewFrame(true, opcode, conn.isClient, payload)
	if err != nil {
		return fatal(err)
	}

	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()

	if conn.opts.WriteWait > 0 {
		_ = conn.raw.SetWriteDeadline(time.Now().Add(conn.opts.WriteWait))
		defer conn.raw.SetWriteDeadline(time.Time{})
	}

	if _, err := conn.raw.Write(frame.Bytes()); err != nil {
		conn.teardown(err)
		return fatal(err)
	}

	return nil
}

// CloseWithCode closes the connection, sending a close frame with the given
// code and reason on a best-effort basis before releasing the transport.
func (conn *Conn) CloseWithCode(code uint16, reason string) {
	conn.closeOnce.Do(func() {
		payload := binary.BigEndian.AppendUint16(nil, code)
		payload = append(payload, reason...)
		if len(payload) > MaxControlFramePayload {
			payload = payload[:MaxControlFramePayload]
		}

		frame, err := NewFrame(true, OpcodeClose, conn.isClient, payload)
		if err == nil {
			conn.writeMu.Lock()
			_ = conn.raw.SetWriteDeadline(time.Now().Add(conn.opts.WriteWait))
			_, _ = conn.raw.Write(frame.Bytes())
			conn.writeMu.Unlock()
		}

		conn.isClosed.Store(true)
		_ = conn.raw.Close()

		conn.log.Debug("connection closed",
			slog.String("id", conn.ID.String()),
			slog.Int("code", int(code)),
			slog.String("reason", reason))

		for _, hook := range conn.onClose {
			hook(conn)
		}
		if conn.opts.OnDisconnect != nil {
			conn.opts.OnDisconnect(conn)
		}
	})
}

// Close closes the connection with a normal-closure code.
func (conn *Conn) Close() {
	conn.CloseWithCode(CloseNormalClosure, "")
}

// teardown releases the transport after a fatal stream error without
// attempting a close frame exchange.
func (conn *Conn) teardown(err error) {
	if !IsFatalErr(err) {
		return
	}
	conn.closeOnce.Do(func() {
		conn.isClosed.Store(true)
		_ = conn.raw.Close()

		conn.log.Debug("connection torn down",
			slog.String("id", conn.ID.String()),
			slog.String("error", err.Error()))

		for _, hook := range conn.onClose {
			hook(conn)
		}
		if conn.opts.OnDisconnect != nil {
			conn.opts.OnDisconnect(conn)
		}
	})
}
