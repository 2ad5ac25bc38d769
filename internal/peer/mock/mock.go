// Package mock provides an in-memory implementation of [peer.Engine] for use
// in unit tests.
//
// The mock records every call and lets tests fire engine events by hand:
//
//	engine := mock.NewEngine()
//	sess := client.NewSession(transport, engine, adapter)
//	engine.FireTrack("peer-1", frames)
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/voicesync/voicesync/internal/peer"
	"github.com/voicesync/voicesync/pkg/audio"
)

// Compile-time interface assertion.
var _ peer.Engine = (*Engine)(nil)

// CreateCall records one invocation of [Engine.Create].
type CreateCall struct {
	PeerID    string
	Initiator bool
}

// SignalCall records one invocation of [Engine.Signal].
type SignalCall struct {
	PeerID string
	Data   json.RawMessage
}

// Engine is a mock implementation of [peer.Engine].
// Set CreateError before use; inspect the recorded calls after.
type Engine struct {
	mu sync.Mutex

	// CreateError is returned by [Engine.Create].
	CreateError error

	// Creates holds every Create invocation in order.
	Creates []CreateCall

	// Signals holds every Signal invocation in order.
	Signals []SignalCall

	// Destroyed holds the peer IDs passed to Destroy, in order.
	Destroyed []string

	// CallCountDestroyAll records how many times DestroyAll was called.
	CallCountDestroyAll int

	events      peer.Events
	localSource <-chan audio.Frame
	live        map[string]bool
}

// NewEngine creates an empty mock engine.
func NewEngine() *Engine {
	return &Engine{live: make(map[string]bool)}
}

// ─── peer.Engine implementation ──────────────────────────────────────────────

// SetEvents stores the callback set for later Fire* calls.
func (e *Engine) SetEvents(ev peer.Events) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = ev
}

// SetLocalSource records the mic stream; [Engine.LocalSource] returns it.
func (e *Engine) SetLocalSource(frames <-chan audio.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localSource = frames
}

// Create records the call and marks the peer live.
func (e *Engine) Create(_ context.Context, peerID string, initiator bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Creates = append(e.Creates, CreateCall{PeerID: peerID, Initiator: initiator})
	if e.CreateError != nil {
		return e.CreateError
	}
	e.live[peerID] = true
	return nil
}

// Signal records the call.
func (e *Engine) Signal(peerID string, data json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Signals = append(e.Signals, SignalCall{PeerID: peerID, Data: data})
}

// Destroy records the call and marks the peer gone.
func (e *Engine) Destroy(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Destroyed = append(e.Destroyed, peerID)
	delete(e.live, peerID)
}

// DestroyAll records the call and clears all live peers.
func (e *Engine) DestroyAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountDestroyAll++
	e.live = make(map[string]bool)
}

// ─── Test helpers ────────────────────────────────────────────────────────────

// Live reports whether a Create for peerID is still in effect.
func (e *Engine) Live(peerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live[peerID]
}

// LocalSource returns the stream passed to SetLocalSource.
func (e *Engine) LocalSource() <-chan audio.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localSource
}

// FireSignal invokes the registered Signal callback.
func (e *Engine) FireSignal(peerID string, data json.RawMessage) {
	if ev := e.snapshot(); ev.Signal != nil {
		ev.Signal(peerID, data)
	}
}

// FireTrack invokes the registered Track callback.
func (e *Engine) FireTrack(peerID string, frames <-chan audio.Frame) {
	if ev := e.snapshot(); ev.Track != nil {
		ev.Track(peerID, frames)
	}
}

// FireConnected invokes the registered Connected callback.
func (e *Engine) FireConnected(peerID string) {
	if ev := e.snapshot(); ev.Connected != nil {
		ev.Connected(peerID)
	}
}

// FireDisconnected invokes the registered Disconnected callback.
func (e *Engine) FireDisconnected(peerID string) {
	if ev := e.snapshot(); ev.Disconnected != nil {
		ev.Disconnected(peerID)
	}
}

// FireError invokes the registered Error callback.
func (e *Engine) FireError(peerID string, err error) {
	if ev := e.snapshot(); ev.Error != nil {
		ev.Error(peerID, err)
	}
}

func (e *Engine) snapshot() peer.Events {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}
