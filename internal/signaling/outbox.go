// Package signaling implements the VoiceSync rendezvous server: user and
// room registries, the message dispatcher, and the websocket listener.
//
// The server never touches media. It assigns peer IDs, groups peers into
// rooms keyed by human-readable room keys, and relays opaque negotiation
// blobs between peers so they can establish direct audio connections.
package signaling

// Outbox delivers outbound messages to a single connection. Implementations
// enqueue the message for asynchronous delivery and must not block.
//
// Send reports whether the message was accepted. A false return means the
// recipient's queue overflowed; the caller treats that recipient as
// disconnected. Fan-out to a room is best-effort per recipient, so one full
// queue never aborts delivery to the others.
type Outbox interface {
	Send(msg any) bool
}
