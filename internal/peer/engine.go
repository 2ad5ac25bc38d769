// Package peer manages the client's WebRTC mesh: one peer connection per
// remote participant, fed by a shared local audio track and delivering each
// remote's decoded audio as a channel of frames.
//
// The negotiation tie-break is fixed: existing room members initiate toward a
// newcomer, the newcomer responds. Exactly one side of every pair produces
// the opening offer, so offers never collide.
package peer

import (
	"context"
	"encoding/json"

	"github.com/voicesync/voicesync/pkg/audio"
)

// Events holds the callbacks an engine invokes as connections progress. Set
// the fields before the first Create; nil callbacks are skipped. Callbacks
// are invoked from engine goroutines and must not block.
type Events struct {
	// Signal fires when the engine produces a negotiation fragment (offer,
	// answer, or ICE candidate) that must be relayed to the named peer.
	Signal func(peerID string, data json.RawMessage)

	// Track fires when a remote audio stream arrives. The channel delivers
	// decoded PCM frames and is closed when the peer goes away.
	Track func(peerID string, frames <-chan audio.Frame)

	// Connected fires when the media path to the peer is established.
	Connected func(peerID string)

	// Disconnected fires when the connection closes or fails; the engine has
	// already removed its entry for the peer.
	Disconnected func(peerID string)

	// Error fires on non-fatal engine errors. The session logs these and
	// keeps running.
	Error func(peerID string, err error)
}

// Engine is the facade over the WebRTC implementation. The session
// coordinator drives it; [mock.Engine] substitutes for it in tests.
type Engine interface {
	// SetEvents registers the callback set. Call before the first Create.
	SetEvents(ev Events)

	// SetLocalSource attaches the microphone frame stream that feeds the
	// shared outbound track. Call it once, before the first Create; a nil
	// channel means peers receive no local audio.
	SetLocalSource(frames <-chan audio.Frame)

	// Create tears down any prior connection for peerID and starts a fresh
	// one. With initiator=true the local side produces the opening offer;
	// otherwise it waits for one.
	Create(ctx context.Context, peerID string, initiator bool) error

	// Signal hands an inbound negotiation fragment to the named connection.
	// Fragments for unknown peers are logged and ignored.
	Signal(peerID string, data json.RawMessage)

	// Destroy closes the connection for peerID. Unknown peers are a no-op.
	Destroy(peerID string)

	// DestroyAll closes every connection.
	DestroyAll()
}

// signalPayload is the negotiation fragment format exchanged through the
// signaling server. Exactly one of SDP or Candidate is set, per Kind.
type signalPayload struct {
	Kind      string          `json:"kind"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Fragment kinds.
const (
	kindOffer     = "offer"
	kindAnswer    = "answer"
	kindCandidate = "candidate"
)
