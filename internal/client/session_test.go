package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/voicesync/voicesync/internal/peer/mock"
	"github.com/voicesync/voicesync/internal/protocol"
	"github.com/voicesync/voicesync/pkg/audio"
	audiomock "github.com/voicesync/voicesync/pkg/audio/mock"
	"github.com/voicesync/voicesync/pkg/types"
)

// fakeTransport is an in-memory [SignalingTransport]. autoReply, when set,
// maps each sent message to raw frames delivered back synchronously.
type fakeTransport struct {
	mu        sync.Mutex
	sent      []any
	onEvent   func(string, []byte)
	onClose   func(error)
	connected bool

	connectErr error
	autoReply  func(msg any) [][]byte
}

func (f *fakeTransport) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	onClose := f.onClose
	f.mu.Unlock()
	if onClose != nil {
		onClose(nil)
	}
}

func (f *fakeTransport) Send(msg any) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	reply := f.autoReply
	f.mu.Unlock()
	if reply == nil {
		return
	}
	for _, raw := range reply(msg) {
		f.deliver(raw)
	}
}

func (f *fakeTransport) SetHandlers(onEvent func(string, []byte), onClose func(error)) {
	f.mu.Lock()
	f.onEvent = onEvent
	f.onClose = onClose
	f.mu.Unlock()
}

// deliver routes a raw frame through the registered event handler.
func (f *fakeTransport) deliver(raw []byte) {
	msgType, err := protocol.PeekType(raw)
	if err != nil {
		panic(fmt.Sprintf("test frame is not JSON: %s", raw))
	}
	f.mu.Lock()
	handler := f.onEvent
	f.mu.Unlock()
	if handler != nil {
		handler(msgType, raw)
	}
}

func (f *fakeTransport) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, msg := range f.sent {
		data, _ := json.Marshal(msg)
		msgType, _ := protocol.PeekType(data)
		out = append(out, msgType)
	}
	return out
}

// loginReplies answers login with login-ok for the given peer ID.
func loginReplies(peerID string) func(msg any) [][]byte {
	return func(msg any) [][]byte {
		if _, ok := msg.(protocol.Login); ok {
			return [][]byte{fmt.Appendf(nil, `{"type":"login-ok","peerId":%q}`, peerID)}
		}
		return nil
	}
}

type sessionFixture struct {
	session   *Session
	transport *fakeTransport
	engine    *mock.Engine
	adapter   *audiomock.Adapter
}

func newFixture(t *testing.T, opts ...SessionOption) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		transport: &fakeTransport{autoReply: loginReplies("self")},
		engine:    mock.NewEngine(),
		adapter:   audiomock.NewAdapter(),
	}
	opts = append([]SessionOption{WithRequestTimeout(time.Second)}, opts...)
	f.session = NewSession(f.transport, f.engine, f.adapter, opts...)
	return f
}

// connect logs the fixture session in as "alice" with peer ID "self".
func (f *sessionFixture) connect(t *testing.T) {
	t.Helper()
	if err := f.session.Connect(context.Background(), "alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

// waitEvent drains the session events until one of the given kind arrives.
func waitEvent(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}

// drainEvents empties the session event channel.
func drainEvents(s *Session) {
	for {
		select {
		case <-s.Events():
		default:
			return
		}
	}
}

// ─── Connect & login ─────────────────────────────────────────────────────────

func TestSession_ConnectRegistersSelf(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	roster := f.session.Participants()
	if len(roster) != 1 {
		t.Fatalf("roster size = %d, want 1", len(roster))
	}
	self := roster[0]
	if !self.IsSelf || self.PeerID != "self" || self.Username != "alice" {
		t.Errorf("self participant = %+v", self)
	}
	if f.adapter.CallCountStart != 1 {
		t.Errorf("adapter Start called %d times, want 1", f.adapter.CallCountStart)
	}
	if f.engine.LocalSource() == nil {
		t.Error("engine local source not attached")
	}
}

func TestSession_ConnectLoginRejected(t *testing.T) {
	f := newFixture(t)
	f.transport.autoReply = func(msg any) [][]byte {
		if _, ok := msg.(protocol.Login); ok {
			return [][]byte{[]byte(`{"type":"login-error","message":"username \"alice\" is already taken"}`)}
		}
		return nil
	}

	err := f.session.Connect(context.Background(), "alice")
	if err == nil {
		t.Fatal("Connect succeeded despite login-error")
	}
	f.transport.mu.Lock()
	connected := f.transport.connected
	f.transport.mu.Unlock()
	if connected {
		t.Error("transport left connected after failed login")
	}
}

func TestSession_ConnectPropagatesDialFailure(t *testing.T) {
	f := newFixture(t)
	want := types.NewSignalingError(types.CodeConnectFailed, "refused")
	f.transport.connectErr = want

	err := f.session.Connect(context.Background(), "alice")
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

// ─── Request correlation ─────────────────────────────────────────────────────

// TestSession_RequestTimeout verifies an unanswered request fails after the
// timeout with an error naming the awaited event.
func TestSession_RequestTimeout(t *testing.T) {
	f := newFixture(t, WithRequestTimeout(50*time.Millisecond))
	f.connect(t)

	start := time.Now()
	_, err := f.session.CreateRoom(context.Background())
	if err == nil {
		t.Fatal("CreateRoom succeeded with no server reply")
	}
	var se *types.SignalingError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T, want SignalingError", err)
	}
	if se.Code != types.CodeTimeout {
		t.Errorf("code = %q, want %q", se.Code, types.CodeTimeout)
	}
	if se.Event != protocol.TypeRoomCreated {
		t.Errorf("awaited event = %q, want %q", se.Event, protocol.TypeRoomCreated)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned after %s, before the timeout", elapsed)
	}
}

func TestSession_DuplicateRequestRejected(t *testing.T) {
	f := newFixture(t, WithRequestTimeout(500*time.Millisecond))
	f.connect(t)

	go f.session.CreateRoom(context.Background())
	time.Sleep(50 * time.Millisecond)

	_, err := f.session.CreateRoom(context.Background())
	if err == nil {
		t.Fatal("second concurrent CreateRoom succeeded")
	}
}

func TestSession_CreateRoom(t *testing.T) {
	f := newFixture(t)
	f.transport.autoReply = func(msg any) [][]byte {
		switch msg.(type) {
		case protocol.Login:
			return [][]byte{[]byte(`{"type":"login-ok","peerId":"self"}`)}
		case protocol.CreateRoom:
			return [][]byte{[]byte(`{"type":"room-created","roomKey":"AAA-CCC-DDD"}`)}
		}
		return nil
	}
	f.connect(t)

	key, err := f.session.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if key != "AAA-CCC-DDD" {
		t.Errorf("key = %q", key)
	}
}

// ─── Room membership & negotiation tie-break ─────────────────────────────────

func TestSession_JoinRoomRespondsToExistingPeers(t *testing.T) {
	f := newFixture(t)
	f.transport.autoReply = func(msg any) [][]byte {
		switch msg.(type) {
		case protocol.Login:
			return [][]byte{[]byte(`{"type":"login-ok","peerId":"self"}`)}
		case protocol.JoinRoom:
			return [][]byte{[]byte(`{"type":"room-joined","roomKey":"AAA-CCC-DDD","peers":[{"peerId":"h","username":"host"},{"peerId":"g","username":"guest"}]}`)}
		}
		return nil
	}
	f.connect(t)

	if err := f.session.JoinRoom(context.Background(), "AAA-CCC-DDD"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	// As the newcomer we respond; every Create must be initiator=false.
	if len(f.engine.Creates) != 2 {
		t.Fatalf("engine Create called %d times, want 2", len(f.engine.Creates))
	}
	for _, call := range f.engine.Creates {
		if call.Initiator {
			t.Errorf("Create(%s) with initiator=true; the newcomer must respond", call.PeerID)
		}
	}

	if got := len(f.session.Participants()); got != 3 {
		t.Errorf("roster size = %d, want 3", got)
	}
}

func TestSession_PeerJoinedInitiates(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.transport.deliver([]byte(`{"type":"peer-joined","peerId":"n","username":"newcomer"}`))

	if len(f.engine.Creates) != 1 {
		t.Fatalf("engine Create called %d times, want 1", len(f.engine.Creates))
	}
	call := f.engine.Creates[0]
	if call.PeerID != "n" || !call.Initiator {
		t.Errorf("Create = %+v, want {n true}: existing members initiate", call)
	}
}

func TestSession_PeerLeftTearsDown(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.transport.deliver([]byte(`{"type":"peer-joined","peerId":"n","username":"newcomer"}`))
	drainEvents(f.session)

	f.transport.deliver([]byte(`{"type":"peer-left","peerId":"n","username":"newcomer"}`))

	if len(f.engine.Destroyed) != 1 || f.engine.Destroyed[0] != "n" {
		t.Errorf("engine Destroyed = %v, want [n]", f.engine.Destroyed)
	}
	if len(f.adapter.RemovedRemotes) != 1 || f.adapter.RemovedRemotes[0] != "n" {
		t.Errorf("adapter RemovedRemotes = %v, want [n]", f.adapter.RemovedRemotes)
	}
	for _, p := range f.session.Participants() {
		if p.PeerID == "n" {
			t.Error("departed peer still in roster")
		}
	}
}

// ─── Signal plumbing ─────────────────────────────────────────────────────────

func TestSession_InboundSignalForwarded(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.transport.deliver([]byte(`{"type":"signal","fromPeerId":"h","data":{"kind":"offer","sdp":"X"}}`))

	if len(f.engine.Signals) != 1 {
		t.Fatalf("engine Signal called %d times, want 1", len(f.engine.Signals))
	}
	got := f.engine.Signals[0]
	if got.PeerID != "h" || string(got.Data) != `{"kind":"offer","sdp":"X"}` {
		t.Errorf("Signal = %+v", got)
	}
}

func TestSession_EngineSignalSentToServer(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.engine.FireSignal("h", json.RawMessage(`{"kind":"answer","sdp":"Y"}`))

	f.transport.mu.Lock()
	defer f.transport.mu.Unlock()
	var found bool
	for _, msg := range f.transport.sent {
		if sig, ok := msg.(protocol.Signal); ok && sig.ToPeerID == "h" {
			found = true
			if string(sig.Data) != `{"kind":"answer","sdp":"Y"}` {
				t.Errorf("signal data = %s", sig.Data)
			}
		}
	}
	if !found {
		t.Error("engine signal never sent to the server")
	}
}

func TestSession_EngineTrackRoutedToPlayback(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	frames := make(chan audio.Frame, 1)
	f.engine.FireTrack("h", frames)
	frames <- audio.Frame{Samples: []int16{1, 2, 3}, SampleRate: 48000, Channels: 1}
	close(frames)

	deadline := time.Now().Add(3 * time.Second)
	for {
		if got := f.adapter.RemoteFrames("h"); len(got) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("remote frame never reached the adapter")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── Mute & speaking ─────────────────────────────────────────────────────────

// TestSession_MuteEmitsSingleUpdate verifies mute toggling updates the self
// participant and notifies observers exactly once.
func TestSession_MuteEmitsSingleUpdate(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	drainEvents(f.session)

	f.session.SetMuted(true)

	// SetMuted is synchronous, so its events are already queued.
	updates := 0
drain:
	for {
		select {
		case ev := <-f.session.Events():
			if ev.Kind == EventParticipantUpdate {
				updates++
				if len(ev.Participants) != 1 || !ev.Participants[0].IsMuted {
					t.Errorf("roster = %+v, want self muted", ev.Participants)
				}
			}
		default:
			break drain
		}
	}
	if updates != 1 {
		t.Errorf("participant-update emitted %d times, want exactly 1", updates)
	}
	if !f.adapter.Muted() {
		t.Error("adapter not muted")
	}
}

func TestSession_SpeakingDetection(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	drainEvents(f.session)

	loud := make([]int16, 960)
	for i := range loud {
		loud[i] = 2000
	}
	f.adapter.PushSamples(audio.Frame{Samples: loud, SampleRate: 48000, Channels: 1})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-f.session.Events():
			if ev.Kind == EventParticipantUpdate && len(ev.Participants) == 1 && ev.Participants[0].IsSpeaking {
				return
			}
		case <-deadline:
			t.Fatal("speaking state never flipped")
		}
	}
}

// ─── Teardown paths ──────────────────────────────────────────────────────────

func TestSession_LeaveSendsFrameAndCleansUp(t *testing.T) {
	f := newFixture(t)
	f.transport.autoReply = func(msg any) [][]byte {
		switch msg.(type) {
		case protocol.Login:
			return [][]byte{[]byte(`{"type":"login-ok","peerId":"self"}`)}
		case protocol.JoinRoom:
			return [][]byte{[]byte(`{"type":"room-joined","roomKey":"AAA-CCC-DDD","peers":[]}`)}
		}
		return nil
	}
	f.connect(t)
	if err := f.session.JoinRoom(context.Background(), "AAA-CCC-DDD"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	drainEvents(f.session)

	f.session.Leave(context.Background())

	sent := f.transport.sentTypes()
	var sentLeave bool
	for _, mt := range sent {
		if mt == protocol.TypeLeaveRoom {
			sentLeave = true
		}
	}
	if !sentLeave {
		t.Error("leave-room frame never sent")
	}
	if f.engine.CallCountDestroyAll == 0 {
		t.Error("peers not destroyed on leave")
	}
	if f.adapter.CallCountClose == 0 {
		t.Error("audio not closed on leave")
	}
	waitEvent(t, f.session, EventEnded)
}

func TestSession_TransportLossDuringCallIsFatal(t *testing.T) {
	f := newFixture(t)
	f.transport.autoReply = func(msg any) [][]byte {
		switch msg.(type) {
		case protocol.Login:
			return [][]byte{[]byte(`{"type":"login-ok","peerId":"self"}`)}
		case protocol.JoinRoom:
			return [][]byte{[]byte(`{"type":"room-joined","roomKey":"AAA-CCC-DDD","peers":[]}`)}
		}
		return nil
	}
	f.connect(t)
	if err := f.session.JoinRoom(context.Background(), "AAA-CCC-DDD"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	drainEvents(f.session)

	f.transport.onClose(types.NewSignalingError(types.CodeConnLost, "gone"))

	ev := waitEvent(t, f.session, EventError)
	var se *types.SignalingError
	if !errors.As(ev.Err, &se) || se.Code != types.CodeConnLost {
		t.Errorf("error event = %v, want CONN_LOST", ev.Err)
	}
	waitEvent(t, f.session, EventEnded)
	if f.engine.CallCountDestroyAll == 0 {
		t.Error("peers not destroyed after fatal transport loss")
	}
}

// ─── Invites ─────────────────────────────────────────────────────────────────

func TestSession_InviteNoticeEmitted(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	drainEvents(f.session)

	f.transport.deliver([]byte(`{"type":"invite","fromUsername":"bob","roomKey":"AAA-CCC-DDD"}`))

	ev := waitEvent(t, f.session, EventInvite)
	if ev.FromUsername != "bob" || ev.RoomKey != "AAA-CCC-DDD" {
		t.Errorf("invite event = %+v", ev)
	}
}

func TestSession_InviteErrorRejectsRequest(t *testing.T) {
	f := newFixture(t)
	f.transport.autoReply = func(msg any) [][]byte {
		switch msg.(type) {
		case protocol.Login:
			return [][]byte{[]byte(`{"type":"login-ok","peerId":"self"}`)}
		case protocol.Invite:
			return [][]byte{[]byte(`{"type":"invite-error","message":"you cannot invite yourself"}`)}
		}
		return nil
	}
	f.connect(t)

	if err := f.session.Invite(context.Background(), "alice"); err == nil {
		t.Fatal("Invite succeeded despite invite-error")
	}
}
