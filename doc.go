// Package loomws implements the wire-level core of the WebSocket protocol
// (RFC 6455): the opening handshake that upgrades a byte stream to a
// persistent bidirectional channel, and the binary framing layer that
// carries application payloads once the handshake completes.
//
// The package is split along the protocol's own seams:
//
//   - AcceptKey and NewClientKey implement the SHA-1 + Base64 key transform
//     used as the handshake's liveness proof.
//   - ServerHandshake, ClientRequest and VerifyAccept operate on raw HTTP
//     header blocks as text; they never touch a socket.
//   - Frame, ReadFrame and Frame.Bytes encode and decode individual frames,
//     including the three payload length classes and client-side masking.
//   - Upgrader and Dialer are the server- and client-role wrappers that run
//     the handshake over a net.Conn and return a Conn for message exchange.
//
// A Conn owns its transport exclusively. All operations are synchronous and
// blocking; a connection is torn down by closing the transport, which makes
// the next blocking call fail and unwind. Bad peer input fails only that
// connection, never the process.
package loomws
