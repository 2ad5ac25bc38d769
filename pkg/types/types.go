// Package types defines the shared types used across all VoiceSync packages.
//
// These types form the lingua franca between the signaling layer, the peer
// engine, the audio adapters, and the client session. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

// PeerInfo identifies one live participant as the server reports it.
// It appears in room membership snapshots and join/leave notifications.
type PeerInfo struct {
	// PeerID is the server-assigned connection identifier. It is unique for
	// the server's lifetime and never reused while the connection is open.
	PeerID string `json:"peerId"`

	// Username is the display name chosen at login (trimmed, ≤32 chars).
	Username string `json:"username"`
}

// Participant is the client-side view of one room member, including self.
// Values are owned by the Session; observers must treat them as read-only.
type Participant struct {
	// PeerID is the server-assigned identifier for this participant.
	PeerID string

	// Username is the participant's display name.
	Username string

	// IsSelf is true for exactly one participant while connected to a room.
	IsSelf bool

	// IsMuted reflects the local mute toggle. Only meaningful for self.
	IsMuted bool

	// IsSpeaking is set while the participant's audio level exceeds the
	// speaking threshold.
	IsSpeaking bool
}

// MaxUsernameLen is the maximum display-name length after trimming.
// Longer names are truncated by the server before registration.
const MaxUsernameLen = 32
