// Package protocol defines the JSON wire messages exchanged between the
// VoiceSync client and the signaling server.
//
// Every message is a flat JSON object with a "type" field and zero or more
// payload fields. Inbound messages are decoded with [Decode], which returns
// one value of the closed set of message structs; dispatch is a single type
// switch on the result. Outbound messages are plain structs whose Type field
// carries the matching type constant.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/voicesync/voicesync/pkg/types"
)

// Message types sent by the client.
const (
	TypeLogin         = "login"
	TypeCreateRoom    = "create-room"
	TypeJoinRoom      = "join-room"
	TypeInvite        = "invite"
	TypeAcceptInvite  = "accept-invite"
	TypeDeclineInvite = "decline-invite"
	TypeLeaveRoom     = "leave-room"
	TypeSignal        = "signal"

	// TypePing is the keep-alive probe. The server discards it; its only
	// effect is resetting the connection's read deadline.
	TypePing = "ping"
)

// Message types sent by the server.
const (
	TypeConnected      = "connected"
	TypeLoginOK        = "login-ok"
	TypeLoginError     = "login-error"
	TypeRoomCreated    = "room-created"
	TypeCreateError    = "create-error"
	TypeRoomJoined     = "room-joined"
	TypeJoinError      = "join-error"
	TypePeerJoined     = "peer-joined"
	TypePeerLeft       = "peer-left"
	TypeInviteSent     = "invite-sent"
	TypeInviteError    = "invite-error"
	TypeInviteDeclined = "invite-declined"
	TypeLeftRoom       = "left-room"
)

// ─── Client → server ─────────────────────────────────────────────────────────

// Login requests registration under a display name.
type Login struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// CreateRoom requests a new room with the sender as host.
type CreateRoom struct {
	Type string `json:"type"`
}

// JoinRoom requests membership in an existing room.
type JoinRoom struct {
	Type    string `json:"type"`
	RoomKey string `json:"roomKey"`
}

// Invite asks the server to deliver a room invitation to another user.
type Invite struct {
	Type       string `json:"type"`
	ToUsername string `json:"toUsername"`
}

// AcceptInvite joins the room named in a previously received invitation.
// Semantically identical to [JoinRoom].
type AcceptInvite struct {
	Type    string `json:"type"`
	RoomKey string `json:"roomKey"`
}

// DeclineInvite tells the inviting room that the invitation was declined.
type DeclineInvite struct {
	Type    string `json:"type"`
	RoomKey string `json:"roomKey"`
}

// LeaveRoom requests removal from the sender's current room.
type LeaveRoom struct {
	Type string `json:"type"`
}

// Ping is the client keep-alive probe. There is no pong reply.
type Ping struct {
	Type string `json:"type"`
}

// Signal carries an opaque negotiation blob to another peer. The server
// relays Data without inspecting it.
type Signal struct {
	Type     string          `json:"type"`
	ToPeerID string          `json:"toPeerId"`
	Data     json.RawMessage `json:"data"`
}

// ─── Server → client ─────────────────────────────────────────────────────────

// Connected is sent once when the server accepts a connection.
type Connected struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

// LoginOK confirms a successful login.
type LoginOK struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

// ErrorReply is the shape shared by login-error, create-error, join-error
// and invite-error. Type distinguishes which request failed.
type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RoomCreated confirms room creation to the host.
type RoomCreated struct {
	Type    string `json:"type"`
	RoomKey string `json:"roomKey"`
}

// RoomJoined confirms a join and carries the membership snapshot at join
// time, excluding the joiner.
type RoomJoined struct {
	Type    string           `json:"type"`
	RoomKey string           `json:"roomKey"`
	Peers   []types.PeerInfo `json:"peers"`
}

// PeerJoined notifies existing members that a peer entered their room.
type PeerJoined struct {
	Type     string `json:"type"`
	PeerID   string `json:"peerId"`
	Username string `json:"username"`
}

// PeerLeft notifies remaining members that a peer left their room, whether
// by leave-room or by disconnect.
type PeerLeft struct {
	Type     string `json:"type"`
	PeerID   string `json:"peerId"`
	Username string `json:"username"`
}

// InviteNotice delivers an invitation to its target.
type InviteNotice struct {
	Type         string `json:"type"`
	FromUsername string `json:"fromUsername"`
	RoomKey      string `json:"roomKey"`
}

// InviteSent confirms to the inviter that the invitation was delivered.
type InviteSent struct {
	Type       string `json:"type"`
	ToUsername string `json:"toUsername"`
}

// InviteDeclined notifies room members that an invitation was declined.
type InviteDeclined struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// SignalRelay delivers a relayed negotiation blob to its target.
type SignalRelay struct {
	Type       string          `json:"type"`
	FromPeerID string          `json:"fromPeerId"`
	Data       json.RawMessage `json:"data"`
}

// LeftRoom confirms a leave-room request. Sent even when the requester was
// not in a room, so leaving is idempotent from the client's view.
type LeftRoom struct {
	Type string `json:"type"`
}

// ─── Decoding ────────────────────────────────────────────────────────────────

// UnknownTypeError reports an inbound message whose type field names no
// known message. Callers log and drop these.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("protocol: unknown message type %q", e.Type)
}

// head is the minimal envelope used to peek at the type tag.
type head struct {
	Type string `json:"type"`
}

// PeekType returns the type tag of a raw message without decoding the rest.
func PeekType(data []byte) (string, error) {
	var h head
	if err := json.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("protocol: parse message: %w", err)
	}
	return h.Type, nil
}

// Decode parses one inbound client message into its concrete struct. It
// returns an [UnknownTypeError] for unrecognised types and a wrapped JSON
// error for malformed input.
func Decode(data []byte) (any, error) {
	var h head
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}

	var msg any
	switch h.Type {
	case TypeLogin:
		msg = &Login{}
	case TypeCreateRoom:
		msg = &CreateRoom{}
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeInvite:
		msg = &Invite{}
	case TypeAcceptInvite:
		msg = &AcceptInvite{}
	case TypeDeclineInvite:
		msg = &DeclineInvite{}
	case TypeLeaveRoom:
		msg = &LeaveRoom{}
	case TypeSignal:
		msg = &Signal{}
	case TypePing:
		msg = &Ping{}
	default:
		return nil, &UnknownTypeError{Type: h.Type}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %q: %w", h.Type, err)
	}
	return msg, nil
}

// Marshal encodes an outbound message. It exists so call sites read
// symmetrically with [Decode]; encoding a struct from this package cannot
// fail in practice.
func Marshal(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode message: %w", err)
	}
	return data, nil
}
