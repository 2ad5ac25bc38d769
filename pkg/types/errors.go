package types

import "fmt"

// Error codes for [SignalingError].
const (
	// CodeConnectFailed indicates the initial WebSocket open failed.
	CodeConnectFailed = "CONNECT_FAILED"

	// CodeWSError indicates a transport failure after the channel was open.
	CodeWSError = "WS_ERROR"

	// CodeConnLost indicates reconnection attempts were exhausted.
	CodeConnLost = "CONN_LOST"

	// CodeTimeout indicates a request/response pair timed out.
	CodeTimeout = "TIMEOUT"
)

// Error codes for [RoomError].
const (
	CodeRoomNotFound  = "ROOM_NOT_FOUND"
	CodeAlreadyInRoom = "ALREADY_IN_ROOM"
	CodeRoomError     = "ROOM_ERROR"
)

// Error codes for [AudioError].
const (
	CodeMicOpenFailed  = "MIC_OPEN_FAILED"
	CodeMicStreamError = "MIC_STREAM_ERROR"
	CodeAudioError     = "AUDIO_ERROR"
)

// Error codes for [PeerError].
const (
	CodeWebRTCError = "WEBRTC_ERROR"
	CodePeerError   = "PEER_ERROR"
)

// SignalingError is returned for failures on the signaling channel: the
// initial connect, post-open transport errors, reconnection exhaustion, and
// request/response timeouts. Event names the awaited server event for
// timeout errors and is empty otherwise.
type SignalingError struct {
	Code    string
	Message string
	Event   string
}

func (e *SignalingError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("signaling: %s (%s, awaiting %q)", e.Message, e.Code, e.Event)
	}
	return fmt.Sprintf("signaling: %s (%s)", e.Message, e.Code)
}

// NewSignalingError creates a [SignalingError] with the given code and message.
func NewSignalingError(code, message string) *SignalingError {
	return &SignalingError{Code: code, Message: message}
}

// RoomError is returned for room lifecycle failures: unknown keys, duplicate
// membership, and server-reported create/join errors.
type RoomError struct {
	Code    string
	Message string
}

func (e *RoomError) Error() string {
	return fmt.Sprintf("room: %s (%s)", e.Message, e.Code)
}

// NewRoomError creates a [RoomError] with the given code and message.
func NewRoomError(code, message string) *RoomError {
	return &RoomError{Code: code, Message: message}
}

// AudioError is returned for microphone and playback failures. Audio errors
// are never fatal to a call; the session surfaces them as non-fatal events.
type AudioError struct {
	Code    string
	Message string
}

func (e *AudioError) Error() string {
	return fmt.Sprintf("audio: %s (%s)", e.Message, e.Code)
}

// NewAudioError creates an [AudioError] with the given code and message.
func NewAudioError(code, message string) *AudioError {
	return &AudioError{Code: code, Message: message}
}

// PeerError is returned for WebRTC peer-connection failures. Like audio
// errors they are non-fatal; the affected peer is torn down and the call
// continues with the remaining members.
type PeerError struct {
	Code    string
	Message string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer: %s (%s)", e.Message, e.Code)
}

// NewPeerError creates a [PeerError] with the given code and message.
func NewPeerError(code, message string) *PeerError {
	return &PeerError{Code: code, Message: message}
}
