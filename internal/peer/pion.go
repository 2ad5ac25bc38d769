package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/voicesync/voicesync/pkg/audio"
	"github.com/voicesync/voicesync/pkg/types"
)

// Compile-time interface assertion.
var _ Engine = (*PionEngine)(nil)

// defaultICEServers are the public STUN servers used when none are
// configured. Two distinct servers keep ICE gathering alive when one is
// unreachable.
var defaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Option configures a [PionEngine].
type Option func(*PionEngine)

// WithICEServers overrides the STUN/TURN server URLs used for ICE gathering.
func WithICEServers(servers ...string) Option {
	return func(e *PionEngine) {
		if len(servers) > 0 {
			e.iceServers = servers
		}
	}
}

// WithLogger sets the engine logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(e *PionEngine) {
		e.log = log
	}
}

// PionEngine implements [Engine] on pion/webrtc. One peer connection exists
// per remote participant; all of them share a single outbound Opus track fed
// by the local source set via [PionEngine.SetLocalSource].
//
// PionEngine is safe for concurrent use.
type PionEngine struct {
	iceServers []string
	log        *slog.Logger
	api        *webrtc.API

	mu         sync.Mutex
	events     Events
	peers      map[string]*peerConn
	localTrack *webrtc.TrackLocalStaticSample
}

// peerConn is the engine's per-peer state. Candidates arriving before the
// remote description are queued and flushed once it lands.
type peerConn struct {
	pc        *webrtc.PeerConnection
	pending   []json.RawMessage
	remoteSet bool
}

// NewPionEngine creates an engine with Opus-only audio negotiation.
func NewPionEngine(opts ...Option) (*PionEngine, error) {
	e := &PionEngine{
		iceServers: defaultICEServers,
		log:        slog.Default(),
		peers:      make(map[string]*peerConn),
	}
	for _, o := range opts {
		o(e)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: opusSampleRate,
			Channels:  opusChannels,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("peer: register opus codec: %w", err)
	}
	e.api = webrtc.NewAPI(webrtc.WithMediaEngine(m))
	return e, nil
}

// SetEvents registers the callback set. Call before the first Create.
func (e *PionEngine) SetEvents(ev Events) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = ev
}

// SetLocalSource starts the shared encoder over the given mic frame stream.
// A nil channel leaves the engine receive-only.
func (e *PionEngine) SetLocalSource(frames <-chan audio.Frame) {
	if frames == nil {
		return
	}
	track, err := newLocalTrack()
	if err != nil {
		e.emitError("", err)
		return
	}
	e.mu.Lock()
	e.localTrack = track
	e.mu.Unlock()
	go encodeLoop(frames, track, func(err error) { e.emitError("", err) })
}

// Create tears down any prior connection for peerID, then dials a fresh one.
// With initiator=true the opening offer is produced immediately; candidates
// trickle out through the signal callback as ICE gathering progresses.
func (e *PionEngine) Create(_ context.Context, peerID string, initiator bool) error {
	e.Destroy(peerID)

	cfg := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: e.iceServers}},
	}
	pc, err := e.api.NewPeerConnection(cfg)
	if err != nil {
		return types.NewPeerError(types.CodeWebRTCError, fmt.Sprintf("create peer connection: %v", err))
	}

	e.mu.Lock()
	localTrack := e.localTrack
	e.peers[peerID] = &peerConn{pc: pc}
	e.mu.Unlock()

	if localTrack != nil {
		if _, err := pc.AddTrack(localTrack); err != nil {
			e.Destroy(peerID)
			return types.NewPeerError(types.CodeWebRTCError, fmt.Sprintf("attach local track: %v", err))
		}
	} else {
		// Without a local track the offer still needs an audio section.
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			e.Destroy(peerID)
			return types.NewPeerError(types.CodeWebRTCError, fmt.Sprintf("add audio transceiver: %v", err))
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering finished
		}
		cand, err := json.Marshal(c.ToJSON())
		if err != nil {
			e.emitError(peerID, fmt.Errorf("peer: encode candidate: %w", err))
			return
		}
		e.emitSignal(peerID, signalPayload{Kind: kindCandidate, Candidate: cand})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			e.log.Debug("peer connected", "peer", peerID)
			e.emit(func(ev Events) { callIf(ev.Connected, peerID) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if e.remove(peerID, pc) {
				e.log.Debug("peer disconnected", "peer", peerID, "state", state.String())
				e.emit(func(ev Events) { callIf(ev.Disconnected, peerID) })
			}
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		frames := make(chan audio.Frame, 64)
		e.emit(func(ev Events) {
			if ev.Track != nil {
				ev.Track(peerID, frames)
			}
		})
		go decodeLoop(remote, frames, func(err error) { e.emitError(peerID, err) })
	})

	if initiator {
		if err := e.sendOffer(peerID, pc); err != nil {
			e.Destroy(peerID)
			return err
		}
	}
	return nil
}

// Signal hands an inbound negotiation fragment to the named connection.
func (e *PionEngine) Signal(peerID string, data json.RawMessage) {
	e.mu.Lock()
	entry, ok := e.peers[peerID]
	e.mu.Unlock()
	if !ok {
		e.log.Debug("dropping signal for unknown peer", "peer", peerID)
		return
	}

	var payload signalPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		e.emitError(peerID, fmt.Errorf("peer: decode signal: %w", err))
		return
	}

	switch payload.Kind {
	case kindOffer:
		e.handleOffer(peerID, entry, payload.SDP)
	case kindAnswer:
		e.handleAnswer(peerID, entry, payload.SDP)
	case kindCandidate:
		e.handleCandidate(peerID, entry, payload.Candidate)
	default:
		e.log.Debug("dropping signal with unknown kind", "peer", peerID, "kind", payload.Kind)
	}
}

// Destroy closes the connection for peerID. Unknown peers are a no-op.
func (e *PionEngine) Destroy(peerID string) {
	e.mu.Lock()
	entry, ok := e.peers[peerID]
	if ok {
		delete(e.peers, peerID)
	}
	e.mu.Unlock()
	if ok {
		_ = entry.pc.Close()
	}
}

// DestroyAll closes every connection.
func (e *PionEngine) DestroyAll() {
	e.mu.Lock()
	peers := e.peers
	e.peers = make(map[string]*peerConn)
	e.mu.Unlock()
	for _, entry := range peers {
		_ = entry.pc.Close()
	}
}

// ─── Negotiation ─────────────────────────────────────────────────────────────

func (e *PionEngine) sendOffer(peerID string, pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return types.NewPeerError(types.CodeWebRTCError, fmt.Sprintf("create offer: %v", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return types.NewPeerError(types.CodeWebRTCError, fmt.Sprintf("set local description: %v", err))
	}
	e.emitSignal(peerID, signalPayload{Kind: kindOffer, SDP: offer.SDP})
	return nil
}

func (e *PionEngine) handleOffer(peerID string, entry *peerConn, sdp string) {
	pc := entry.pc
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		e.emitError(peerID, fmt.Errorf("peer: set remote offer: %w", err))
		return
	}
	e.flushCandidates(peerID, entry)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		e.emitError(peerID, fmt.Errorf("peer: create answer: %w", err))
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		e.emitError(peerID, fmt.Errorf("peer: set local answer: %w", err))
		return
	}
	e.emitSignal(peerID, signalPayload{Kind: kindAnswer, SDP: answer.SDP})
}

func (e *PionEngine) handleAnswer(peerID string, entry *peerConn, sdp string) {
	if err := entry.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		e.emitError(peerID, fmt.Errorf("peer: set remote answer: %w", err))
		return
	}
	e.flushCandidates(peerID, entry)
}

func (e *PionEngine) handleCandidate(peerID string, entry *peerConn, raw json.RawMessage) {
	e.mu.Lock()
	if !entry.remoteSet {
		// The candidate raced ahead of the description; hold it.
		entry.pending = append(entry.pending, raw)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.addCandidate(peerID, entry, raw)
}

// flushCandidates marks the remote description as set and applies any queued
// candidates.
func (e *PionEngine) flushCandidates(peerID string, entry *peerConn) {
	e.mu.Lock()
	entry.remoteSet = true
	pending := entry.pending
	entry.pending = nil
	e.mu.Unlock()
	for _, raw := range pending {
		e.addCandidate(peerID, entry, raw)
	}
}

func (e *PionEngine) addCandidate(peerID string, entry *peerConn, raw json.RawMessage) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		e.emitError(peerID, fmt.Errorf("peer: decode candidate: %w", err))
		return
	}
	if err := entry.pc.AddICECandidate(init); err != nil {
		e.emitError(peerID, fmt.Errorf("peer: add candidate: %w", err))
	}
}

// ─── Event plumbing ──────────────────────────────────────────────────────────

// remove deletes the entry for peerID if it still maps to pc. Returns whether
// the entry was removed, so state-change callbacks from a replaced connection
// cannot fire duplicate disconnects.
func (e *PionEngine) remove(peerID string, pc *webrtc.PeerConnection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.peers[peerID]
	if !ok || entry.pc != pc {
		return false
	}
	delete(e.peers, peerID)
	return true
}

func (e *PionEngine) emit(fn func(Events)) {
	e.mu.Lock()
	ev := e.events
	e.mu.Unlock()
	fn(ev)
}

func (e *PionEngine) emitSignal(peerID string, payload signalPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.emitError(peerID, fmt.Errorf("peer: encode signal: %w", err))
		return
	}
	e.emit(func(ev Events) {
		if ev.Signal != nil {
			ev.Signal(peerID, data)
		}
	})
}

func (e *PionEngine) emitError(peerID string, err error) {
	e.log.Warn("engine error", "peer", peerID, "error", err)
	e.emit(func(ev Events) {
		if ev.Error != nil {
			ev.Error(peerID, err)
		}
	})
}

func callIf(fn func(string), peerID string) {
	if fn != nil {
		fn(peerID)
	}
}
