// Package mock provides an in-memory implementation of [audio.Adapter] for
// use in unit tests.
//
// The mock is safe for concurrent use. It records method calls so tests can
// assert on call counts and arguments, and exposes the capture channels so
// tests can inject frames as if they came from a microphone.
//
// Typical usage:
//
//	adapter := mock.NewAdapter()
//	sess := client.NewSession(transport, engine, adapter)
//	adapter.PushSamples(audio.Frame{Samples: loud})
package mock

import (
	"context"
	"sync"

	"github.com/voicesync/voicesync/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Adapter = (*Adapter)(nil)

// Adapter is a mock implementation of [audio.Adapter].
// Set the exported error fields before use; inspect the Call* fields after.
type Adapter struct {
	mu sync.Mutex

	// StartError is returned by [Adapter.Start].
	StartError error

	// CloseError is returned by the first call to [Adapter.Close].
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// AddedRemotes holds the peer IDs passed to AddRemote, in order.
	AddedRemotes []string

	// RemovedRemotes holds the peer IDs passed to RemoveRemote, in order.
	RemovedRemotes []string

	local   chan audio.Frame
	samples chan audio.Frame
	remotes map[string]chan audio.Frame
	muted   bool
	closed  bool
}

// NewAdapter creates a mock adapter with buffered capture channels.
func NewAdapter() *Adapter {
	return &Adapter{
		local:   make(chan audio.Frame, 16),
		samples: make(chan audio.Frame, 16),
		remotes: make(map[string]chan audio.Frame),
	}
}

// PushSamples injects a frame on the metering channel, as if it had been
// captured from the microphone. Muted state gates the local track only.
func (a *Adapter) PushSamples(frame audio.Frame) {
	a.mu.Lock()
	muted := a.muted
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	a.samples <- frame
	if !muted {
		a.local <- frame
	}
}

// RemoteFrames returns the frames written to the given peer's playback
// channel so far. Returns nil for unknown peers.
func (a *Adapter) RemoteFrames(peerID string) []audio.Frame {
	a.mu.Lock()
	ch, ok := a.remotes[peerID]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	var frames []audio.Frame
	for {
		select {
		case f := <-ch:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

// ─── audio.Adapter implementation ─────────────────────────────────────────────

// Start records the call and returns [Adapter.StartError].
func (a *Adapter) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountStart++
	return a.StartError
}

// LocalTrack returns the mute-gated capture channel.
func (a *Adapter) LocalTrack() <-chan audio.Frame {
	return a.local
}

// Samples returns the ungated metering channel.
func (a *Adapter) Samples() <-chan audio.Frame {
	return a.samples
}

// AddRemote records the call and returns a buffered playback channel for the
// peer. Repeated calls for the same peer return the same channel.
func (a *Adapter) AddRemote(peerID string) chan<- audio.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AddedRemotes = append(a.AddedRemotes, peerID)
	if ch, ok := a.remotes[peerID]; ok {
		return ch
	}
	ch := make(chan audio.Frame, 64)
	a.remotes[peerID] = ch
	return ch
}

// RemoveRemote records the call and releases the peer's playback channel.
func (a *Adapter) RemoveRemote(peerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RemovedRemotes = append(a.RemovedRemotes, peerID)
	delete(a.remotes, peerID)
}

// SetMuted sets the mute state.
func (a *Adapter) SetMuted(muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = muted
}

// Muted reports the mute state.
func (a *Adapter) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

// Close closes the capture channels. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountClose++
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.local)
	close(a.samples)
	return a.CloseError
}
