// Package audio defines the interfaces and types for microphone capture,
// playback, and level detection within VoiceSync.
//
// The primary abstraction is [Adapter], which connects the session coordinator
// to a concrete audio backend. The adapter owns the capture and playback
// devices; the session only sees channels of [Frame] values.
//
// Implementations are provided by backend-specific packages (e.g. a local
// device adapter or the in-memory mock under audio/mock). The interface is
// intentionally narrow to keep the session decoupled from device details.
//
// This package lives under pkg/ because external code (alternative audio
// backends) is expected to implement [Adapter].
package audio

import (
	"context"
	"time"
)

// Default audio parameters. All frames flowing through VoiceSync use 48 kHz
// mono PCM in 20 ms batches, matching the Opus frame size used on the wire.
const (
	DefaultSampleRate    = 48000
	DefaultChannels      = 1
	DefaultFrameDuration = 20 * time.Millisecond

	// DefaultFrameSamples is the number of samples per default frame.
	DefaultFrameSamples = DefaultSampleRate * 20 / 1000
)

// Adapter connects the session to an audio backend.
//
// The local capture path fans out to two channels: [Adapter.LocalTrack]
// carries frames destined for remote peers (gated by mute), while
// [Adapter.Samples] carries ungated frames for level metering. Both channels
// are closed when the adapter is closed.
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Start opens the capture and playback devices. The supplied ctx governs
	// the startup phase only; once started, the adapter runs until [Adapter.Close].
	Start(ctx context.Context) error

	// LocalTrack returns the channel of captured frames to transmit to peers.
	// While muted, no frames are delivered on this channel.
	LocalTrack() <-chan Frame

	// Samples returns the channel of raw captured frames for level metering.
	// Frames are delivered here regardless of the mute state.
	Samples() <-chan Frame

	// AddRemote registers playback for the given peer and returns the channel
	// to write that peer's decoded frames to. Calling AddRemote again for the
	// same peer returns the existing channel.
	AddRemote(peerID string) chan<- Frame

	// RemoveRemote stops playback for the given peer and releases its channel.
	// Unknown peer IDs are ignored.
	RemoveRemote(peerID string)

	// SetMuted enables or disables transmission of captured frames.
	SetMuted(muted bool)

	// Muted reports the current mute state.
	Muted() bool

	// Close tears down the devices and closes all channels. It is safe to call
	// Close more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when tearing down a stream whose
// producer is still running.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
