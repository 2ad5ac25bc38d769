package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/voicesync/voicesync/internal/config"
	"github.com/voicesync/voicesync/internal/peer"
	"github.com/voicesync/voicesync/internal/protocol"
	"github.com/voicesync/voicesync/pkg/audio"
	"github.com/voicesync/voicesync/pkg/types"
)

// leaveDelay is how long Leave waits after sending leave-room before tearing
// the transport down, so the frame gets out before the socket closes.
const leaveDelay = 250 * time.Millisecond

// eventBuffer bounds the observer event channel. Events beyond it are
// dropped rather than blocking the session.
const eventBuffer = 64

// EventKind classifies session events delivered to observers.
type EventKind string

const (
	// EventParticipantUpdate fires whenever the participant roster or any
	// participant's speaking/mute state changes.
	EventParticipantUpdate EventKind = "participant-update"

	// EventInvite fires when another user invites us to their room.
	EventInvite EventKind = "invite"

	// EventInviteDeclined fires when an invitation from our room is declined.
	EventInviteDeclined EventKind = "invite-declined"

	// EventAudioLevel carries the RMS level of each local mic sample batch.
	EventAudioLevel EventKind = "audio-samples"

	// EventError carries a non-fatal error observers may surface.
	EventError EventKind = "error"

	// EventEnded fires once when the call is over, whatever the cause.
	EventEnded EventKind = "ended"
)

// Event is one session notification.
type Event struct {
	Kind EventKind

	// Participants is the roster snapshot for participant-update events.
	Participants []types.Participant

	// FromUsername and RoomKey describe an incoming invite.
	FromUsername string
	RoomKey      string

	// Username names the decliner for invite-declined events.
	Username string

	// Level is the normalised RMS mic level for audio-samples events.
	Level float64

	// Err is set for error events.
	Err error
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithSessionLogger sets the logger. Defaults to [slog.Default].
func WithSessionLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithRequestTimeout bounds how long request methods wait for the server's
// reply.
func WithRequestTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.requestTimeout = d }
}

// Session is the top-level client coordinator. It owns one signaling
// transport, one peer engine, and one audio adapter, and translates the wire
// protocol into an observable participant roster.
//
// All methods are safe for concurrent use.
type Session struct {
	transport SignalingTransport
	engine    peer.Engine
	adapter   audio.Adapter
	log       *slog.Logger

	requestTimeout time.Duration

	mu           sync.Mutex
	username     string
	selfPeerID   string
	currentRoom  string
	participants map[string]*types.Participant
	pending      map[string]*pendingRequest
	cleanedUp    bool

	detector audio.LevelDetector
	events   chan Event
}

// pendingRequest pairs a success event with an error event. At most one
// request per pair is outstanding; the first matching reply, the timeout, or
// context cancellation completes it exactly once.
type pendingRequest struct {
	successType string
	errorType   string
	done        chan requestResult
}

type requestResult struct {
	raw []byte
	err error
}

// NewSession wires a session over the given transport, engine, and adapter.
func NewSession(transport SignalingTransport, engine peer.Engine, adapter audio.Adapter, opts ...SessionOption) *Session {
	s := &Session{
		transport:      transport,
		engine:         engine,
		adapter:        adapter,
		log:            slog.Default(),
		requestTimeout: config.DefaultRequestTimeout,
		participants:   make(map[string]*types.Participant),
		pending:        make(map[string]*pendingRequest),
		events:         make(chan Event, eventBuffer),
	}
	for _, o := range opts {
		o(s)
	}

	s.transport.SetHandlers(s.handleEvent, s.handleTransportClose)
	s.engine.SetEvents(peer.Events{
		Signal:       s.onEngineSignal,
		Track:        s.onEngineTrack,
		Connected:    s.onEngineConnected,
		Disconnected: s.onEngineDisconnected,
		Error:        s.onEngineError,
	})
	return s
}

// Events returns the observer channel. Events are dropped when the channel
// is full, so observers should drain it promptly.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Participants returns the current roster sorted by username, self first.
func (s *Session) Participants() []types.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

// ─── Public API ──────────────────────────────────────────────────────────────

// Connect opens signaling, logs in under username, and starts audio capture.
func (s *Session) Connect(ctx context.Context, username string) error {
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}

	raw, err := s.request(ctx, protocol.TypeLoginOK, protocol.TypeLoginError, func() {
		s.transport.Send(protocol.Login{Type: protocol.TypeLogin, Username: username})
	})
	if err != nil {
		s.transport.Disconnect()
		return err
	}

	var ok protocol.LoginOK
	if err := json.Unmarshal(raw, &ok); err != nil {
		s.transport.Disconnect()
		return fmt.Errorf("client: decode login-ok: %w", err)
	}

	s.mu.Lock()
	s.username = username
	s.selfPeerID = ok.PeerID
	s.participants[ok.PeerID] = &types.Participant{
		PeerID:   ok.PeerID,
		Username: username,
		IsSelf:   true,
	}
	s.mu.Unlock()

	if err := s.adapter.Start(ctx); err != nil {
		// A dead microphone is not fatal; the session continues listen-only.
		s.emit(Event{Kind: EventError, Err: types.NewAudioError(types.CodeMicOpenFailed, err.Error())})
	} else {
		s.engine.SetLocalSource(s.adapter.LocalTrack())
		go s.meterLoop()
	}

	s.log.Info("session connected", "peer", ok.PeerID, "username", username)
	s.emitRoster()
	return nil
}

// CreateRoom asks the server for a fresh room and returns its key.
func (s *Session) CreateRoom(ctx context.Context) (string, error) {
	raw, err := s.request(ctx, protocol.TypeRoomCreated, protocol.TypeCreateError, func() {
		s.transport.Send(protocol.CreateRoom{Type: protocol.TypeCreateRoom})
	})
	if err != nil {
		return "", err
	}

	var created protocol.RoomCreated
	if err := json.Unmarshal(raw, &created); err != nil {
		return "", fmt.Errorf("client: decode room-created: %w", err)
	}

	s.mu.Lock()
	s.currentRoom = created.RoomKey
	s.mu.Unlock()
	s.log.Info("room created", "room", created.RoomKey)
	return created.RoomKey, nil
}

// JoinRoom enters an existing room and starts negotiating with every member
// already in it.
func (s *Session) JoinRoom(ctx context.Context, roomKey string) error {
	raw, err := s.request(ctx, protocol.TypeRoomJoined, protocol.TypeJoinError, func() {
		s.transport.Send(protocol.JoinRoom{Type: protocol.TypeJoinRoom, RoomKey: roomKey})
	})
	if err != nil {
		return err
	}
	return s.enterRoom(ctx, raw)
}

// AcceptInvite joins the room named in a received invitation.
func (s *Session) AcceptInvite(ctx context.Context, roomKey string) error {
	raw, err := s.request(ctx, protocol.TypeRoomJoined, protocol.TypeJoinError, func() {
		s.transport.Send(protocol.AcceptInvite{Type: protocol.TypeAcceptInvite, RoomKey: roomKey})
	})
	if err != nil {
		return err
	}
	return s.enterRoom(ctx, raw)
}

// DeclineInvite notifies the inviting room that the invitation was declined.
func (s *Session) DeclineInvite(roomKey string) {
	s.transport.Send(protocol.DeclineInvite{Type: protocol.TypeDeclineInvite, RoomKey: roomKey})
}

// enterRoom processes a room-joined payload: record membership and dial every
// existing member. We are the newcomer, so the existing members initiate and
// we respond; creating our connections with initiator=false keeps exactly one
// offer per pair.
func (s *Session) enterRoom(ctx context.Context, raw []byte) error {
	var joined protocol.RoomJoined
	if err := json.Unmarshal(raw, &joined); err != nil {
		return fmt.Errorf("client: decode room-joined: %w", err)
	}

	s.mu.Lock()
	s.currentRoom = joined.RoomKey
	for _, p := range joined.Peers {
		s.participants[p.PeerID] = &types.Participant{PeerID: p.PeerID, Username: p.Username}
	}
	s.mu.Unlock()

	for _, p := range joined.Peers {
		if err := s.engine.Create(ctx, p.PeerID, false); err != nil {
			s.emit(Event{Kind: EventError, Err: err})
		}
	}

	s.log.Info("joined room", "room", joined.RoomKey, "peers", len(joined.Peers))
	s.emitRoster()
	return nil
}

// Invite asks the server to deliver an invitation to the named user.
func (s *Session) Invite(ctx context.Context, username string) error {
	_, err := s.request(ctx, protocol.TypeInviteSent, protocol.TypeInviteError, func() {
		s.transport.Send(protocol.Invite{Type: protocol.TypeInvite, ToUsername: username})
	})
	return err
}

// SetMuted toggles microphone transmission and updates the self participant.
// Observers see exactly one participant-update per call.
func (s *Session) SetMuted(muted bool) {
	s.adapter.SetMuted(muted)

	s.mu.Lock()
	if self, ok := s.participants[s.selfPeerID]; ok {
		self.IsMuted = muted
	}
	s.mu.Unlock()
	s.emitRoster()
}

// Leave exits the current room (if any) and ends the session. Cleanup always
// runs, even when the leave-room frame cannot be delivered.
func (s *Session) Leave(ctx context.Context) {
	s.mu.Lock()
	inRoom := s.currentRoom != ""
	s.mu.Unlock()

	if inRoom {
		s.transport.Send(protocol.LeaveRoom{Type: protocol.TypeLeaveRoom})
		// Give the frame a moment to reach the wire before closing.
		select {
		case <-time.After(leaveDelay):
		case <-ctx.Done():
		}
	}

	// Clear the room before closing so the transport close handler does not
	// mistake this for a dropped call.
	s.mu.Lock()
	s.currentRoom = ""
	s.mu.Unlock()

	s.transport.Disconnect()
	s.cleanup()
}

// ─── Request/response correlation ────────────────────────────────────────────

// request registers a pending entry for the success/error event pair, runs
// action, and waits for the first matching reply. It completes exactly once:
// reply, timeout, or context cancellation.
func (s *Session) request(ctx context.Context, successType, errorType string, action func()) ([]byte, error) {
	p := &pendingRequest{
		successType: successType,
		errorType:   errorType,
		done:        make(chan requestResult, 1),
	}

	s.mu.Lock()
	if _, exists := s.pending[successType]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("client: request awaiting %q already in flight", successType)
	}
	s.pending[successType] = p
	s.pending[errorType] = p
	s.mu.Unlock()

	action()

	timer := time.NewTimer(s.requestTimeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		return res.raw, res.err
	case <-timer.C:
		s.removePending(p)
		return nil, &types.SignalingError{
			Code:    types.CodeTimeout,
			Message: fmt.Sprintf("no reply within %s", s.requestTimeout),
			Event:   successType,
		}
	case <-ctx.Done():
		s.removePending(p)
		return nil, ctx.Err()
	}
}

// resolvePending completes the request awaiting msgType, if any. Reports
// whether a request consumed the event.
func (s *Session) resolvePending(msgType string, raw []byte) bool {
	s.mu.Lock()
	p, ok := s.pending[msgType]
	if ok {
		delete(s.pending, p.successType)
		delete(s.pending, p.errorType)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	if msgType == p.errorType {
		var reply protocol.ErrorReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			reply.Message = "request failed"
		}
		p.done <- requestResult{err: requestError(msgType, reply.Message)}
		return true
	}
	p.done <- requestResult{raw: raw}
	return true
}

func (s *Session) removePending(p *pendingRequest) {
	s.mu.Lock()
	if s.pending[p.successType] == p {
		delete(s.pending, p.successType)
	}
	if s.pending[p.errorType] == p {
		delete(s.pending, p.errorType)
	}
	s.mu.Unlock()
}

// requestError maps a server error reply to the matching error kind.
func requestError(errorType, message string) error {
	switch errorType {
	case protocol.TypeJoinError, protocol.TypeCreateError:
		return types.NewRoomError(types.CodeRoomError, message)
	default:
		return types.NewSignalingError(types.CodeWSError, message)
	}
}

// ─── Inbound events ──────────────────────────────────────────────────────────

// handleEvent runs on the transport's read goroutine for every inbound frame.
func (s *Session) handleEvent(msgType string, raw []byte) {
	if s.resolvePending(msgType, raw) {
		return
	}

	switch msgType {
	case protocol.TypePeerJoined:
		s.onPeerJoined(raw)
	case protocol.TypePeerLeft:
		s.onPeerLeft(raw)
	case protocol.TypeSignal:
		s.onSignalRelay(raw)
	case protocol.TypeInvite:
		s.onInviteNotice(raw)
	case protocol.TypeInviteDeclined:
		s.onInviteDeclined(raw)
	case protocol.TypeLeftRoom:
		// Unsolicited left-room: the server removed us; end the call.
		s.cleanup()
	case protocol.TypeConnected:
		// Greeting; the peer ID that matters arrives with login-ok.
	default:
		s.log.Debug("ignoring event", "type", msgType)
	}
}

func (s *Session) onPeerJoined(raw []byte) {
	var pj protocol.PeerJoined
	if err := json.Unmarshal(raw, &pj); err != nil {
		s.log.Debug("dropping malformed peer-joined", "error", err)
		return
	}

	s.mu.Lock()
	s.participants[pj.PeerID] = &types.Participant{PeerID: pj.PeerID, Username: pj.Username}
	s.mu.Unlock()

	// The newcomer responds; we, as an existing member, initiate.
	if err := s.engine.Create(context.Background(), pj.PeerID, true); err != nil {
		s.emit(Event{Kind: EventError, Err: err})
	}
	s.log.Info("peer joined", "peer", pj.PeerID, "username", pj.Username)
	s.emitRoster()
}

func (s *Session) onPeerLeft(raw []byte) {
	var pl protocol.PeerLeft
	if err := json.Unmarshal(raw, &pl); err != nil {
		s.log.Debug("dropping malformed peer-left", "error", err)
		return
	}

	s.mu.Lock()
	delete(s.participants, pl.PeerID)
	s.mu.Unlock()

	s.engine.Destroy(pl.PeerID)
	s.adapter.RemoveRemote(pl.PeerID)
	s.log.Info("peer left", "peer", pl.PeerID, "username", pl.Username)
	s.emitRoster()
}

func (s *Session) onSignalRelay(raw []byte) {
	var relay protocol.SignalRelay
	if err := json.Unmarshal(raw, &relay); err != nil {
		s.log.Debug("dropping malformed signal", "error", err)
		return
	}
	s.engine.Signal(relay.FromPeerID, relay.Data)
}

func (s *Session) onInviteNotice(raw []byte) {
	var notice protocol.InviteNotice
	if err := json.Unmarshal(raw, &notice); err != nil {
		return
	}
	s.emit(Event{Kind: EventInvite, FromUsername: notice.FromUsername, RoomKey: notice.RoomKey})
}

func (s *Session) onInviteDeclined(raw []byte) {
	var declined protocol.InviteDeclined
	if err := json.Unmarshal(raw, &declined); err != nil {
		return
	}
	s.emit(Event{Kind: EventInviteDeclined, Username: declined.Username})
}

// handleTransportClose fires once when the signaling channel is gone. A
// close during an active call is fatal to that call.
func (s *Session) handleTransportClose(err error) {
	s.mu.Lock()
	inRoom := s.currentRoom != ""
	s.mu.Unlock()

	if err == nil && !inRoom {
		return // intentional disconnect outside a call; Leave already cleaned up
	}
	if err == nil && inRoom {
		err = types.NewSignalingError(types.CodeConnLost, "signaling channel closed during call")
	}
	if err != nil {
		s.emit(Event{Kind: EventError, Err: err})
	}
	s.cleanup()
}

// ─── Engine events ───────────────────────────────────────────────────────────

func (s *Session) onEngineSignal(peerID string, data json.RawMessage) {
	s.transport.Send(protocol.Signal{Type: protocol.TypeSignal, ToPeerID: peerID, Data: data})
}

func (s *Session) onEngineTrack(peerID string, frames <-chan audio.Frame) {
	sink := s.adapter.AddRemote(peerID)
	go func() {
		for frame := range frames {
			select {
			case sink <- frame:
			default:
				// Playback backlog; drop rather than stall the decoder.
			}
		}
	}()
}

func (s *Session) onEngineConnected(peerID string) {
	s.log.Info("media path established", "peer", peerID)
}

func (s *Session) onEngineDisconnected(peerID string) {
	s.adapter.RemoveRemote(peerID)
	s.log.Info("media path closed", "peer", peerID)
}

func (s *Session) onEngineError(peerID string, err error) {
	s.emit(Event{Kind: EventError, Err: err})
}

// ─── Audio metering ──────────────────────────────────────────────────────────

// meterLoop watches local mic batches, flips the self participant's speaking
// bit on RMS threshold crossings, and reports the level to observers. It
// exits when the adapter closes its metering channel.
func (s *Session) meterLoop() {
	for frame := range s.adapter.Samples() {
		level := audio.RMS(frame.Samples)
		speaking, changed := s.detector.Update(frame.Samples)
		if changed {
			s.mu.Lock()
			if self, ok := s.participants[s.selfPeerID]; ok {
				self.IsSpeaking = speaking
			}
			s.mu.Unlock()
			s.emitRoster()
		}
		s.emit(Event{Kind: EventAudioLevel, Level: level})
	}
}

// ─── Teardown & helpers ──────────────────────────────────────────────────────

// cleanup tears down peers, audio, and the roster. It runs at most once and
// always emits ended.
func (s *Session) cleanup() {
	s.mu.Lock()
	if s.cleanedUp {
		s.mu.Unlock()
		return
	}
	s.cleanedUp = true
	s.currentRoom = ""
	s.participants = make(map[string]*types.Participant)
	s.mu.Unlock()

	s.engine.DestroyAll()
	if err := s.adapter.Close(); err != nil {
		s.log.Warn("audio teardown failed", "error", err)
	}
	s.emit(Event{Kind: EventEnded})
	s.log.Info("session ended")
}

// rosterLocked snapshots the participants, self first then by username.
// Caller holds s.mu.
func (s *Session) rosterLocked() []types.Participant {
	roster := make([]types.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		roster = append(roster, *p)
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].IsSelf != roster[j].IsSelf {
			return roster[i].IsSelf
		}
		return roster[i].Username < roster[j].Username
	})
	return roster
}

func (s *Session) emitRoster() {
	s.mu.Lock()
	roster := s.rosterLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventParticipantUpdate, Participants: roster})
}

// emit delivers an event without blocking; observers that fall behind lose
// events rather than stalling the session.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Debug("observer channel full, dropping event", "kind", string(ev.Kind))
	}
}
