package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voicesync/voicesync/internal/observe"
	"github.com/voicesync/voicesync/internal/protocol"
	"github.com/voicesync/voicesync/internal/roomkey"
	"github.com/voicesync/voicesync/pkg/types"
)

// maxSuggestDistance is the largest Levenshtein distance at which an online
// username is offered as a "did you mean" suggestion on invite failures.
const maxSuggestDistance = 2

// State bundles the two server registries. A single State is owned by the
// listener and passed into the dispatcher, so tests get isolation by
// constructing their own.
type State struct {
	Users *UserRegistry
	Rooms *RoomRegistry
}

// NewState creates empty registries.
func NewState() *State {
	return &State{
		Users: NewUserRegistry(),
		Rooms: NewRoomRegistry(),
	}
}

// Dispatcher turns inbound client messages into registry mutations and
// outbound messages. Connections feed it from their read loops; a mutex
// serialises message handling so every invocation sees a consistent snapshot
// of both registries.
type Dispatcher struct {
	state   *State
	log     *slog.Logger
	metrics *observe.Metrics

	mu sync.Mutex
}

// NewDispatcher creates a dispatcher over state. A nil logger means
// [slog.Default].
func NewDispatcher(state *State, log *slog.Logger, metrics *observe.Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Dispatcher{state: state, log: log, metrics: metrics}
}

// HandleMessage processes one raw inbound frame from the connection
// identified by peerID. Malformed frames are logged and dropped; they never
// close the connection.
func (d *Dispatcher) HandleMessage(ctx context.Context, peerID string, out Outbox, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		d.log.Debug("dropping undecodable frame", "peer", peerID, "error", err)
		d.metrics.RecordMessage(ctx, "invalid", "dropped")
		return
	}

	start := time.Now()
	msgType, _ := protocol.PeekType(raw)
	ctx, span := observe.StartSpan(ctx, "signaling.dispatch",
		trace.WithAttributes(attribute.String("message.type", msgType)))
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.Login:
		d.handleLogin(peerID, out, m.Username)
	case *protocol.CreateRoom:
		d.handleCreateRoom(ctx, peerID, out)
	case *protocol.JoinRoom:
		d.handleJoinRoom(ctx, peerID, out, m.RoomKey)
	case *protocol.AcceptInvite:
		// Accepting an invitation is a join under another name.
		d.handleJoinRoom(ctx, peerID, out, m.RoomKey)
	case *protocol.DeclineInvite:
		d.handleDeclineInvite(peerID, m.RoomKey)
	case *protocol.Invite:
		d.handleInvite(peerID, out, m.ToUsername)
	case *protocol.Signal:
		d.handleSignal(ctx, peerID, m)
	case *protocol.LeaveRoom:
		d.handleLeaveRoom(ctx, peerID, out)
	case *protocol.Ping:
		// Keep-alive; reading the frame already reset the deadline.
	}

	d.metrics.RecordMessage(ctx, msgType, "ok")
	d.metrics.RecordDispatch(ctx, msgType, time.Since(start).Seconds())
}

// HandleDisconnect runs the connection-close path for peerID: an implicit
// leave of its current room followed by unregistration. Safe to call for
// peers that never logged in.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, peerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.state.Users.FindByID(peerID)
	if !ok {
		return
	}
	if user.RoomKey != "" {
		d.removeFromRoom(ctx, user)
	}
	d.state.Users.Unregister(peerID)
	d.metrics.ActiveUsers.Add(ctx, -1)
	d.log.Info("user disconnected", "peer", peerID, "username", user.Name)
}

// ─── Message handlers ────────────────────────────────────────────────────────

func (d *Dispatcher) handleLogin(peerID string, out Outbox, username string) {
	name := strings.TrimSpace(username)
	if runes := []rune(name); len(runes) > types.MaxUsernameLen {
		name = string(runes[:types.MaxUsernameLen])
	}
	if name == "" {
		out.Send(protocol.ErrorReply{Type: protocol.TypeLoginError, Message: "username must not be empty"})
		return
	}

	if conflict := d.state.Users.Register(peerID, name, out); conflict {
		out.Send(protocol.ErrorReply{
			Type:    protocol.TypeLoginError,
			Message: fmt.Sprintf("username %q is already taken", name),
		})
		return
	}

	d.metrics.ActiveUsers.Add(context.Background(), 1)
	d.log.Info("user logged in", "peer", peerID, "username", name)
	out.Send(protocol.LoginOK{Type: protocol.TypeLoginOK, PeerID: peerID})
}

func (d *Dispatcher) handleCreateRoom(ctx context.Context, peerID string, out Outbox) {
	user, ok := d.state.Users.FindByID(peerID)
	if !ok {
		out.Send(protocol.ErrorReply{Type: protocol.TypeCreateError, Message: "not logged in"})
		return
	}
	if user.RoomKey != "" {
		user.Out.Send(protocol.ErrorReply{Type: protocol.TypeCreateError, Message: "already in a room"})
		return
	}

	room, err := d.state.Rooms.Create(peerID, user.Name, user.Out)
	if err != nil {
		d.log.Error("room creation failed", "peer", peerID, "error", err)
		user.Out.Send(protocol.ErrorReply{Type: protocol.TypeCreateError, Message: "could not create room"})
		return
	}
	d.state.Users.SetRoom(peerID, room.Key)
	d.metrics.ActiveRooms.Add(ctx, 1)

	d.log.Info("room created", "room", room.Key, "host", user.Name)
	user.Out.Send(protocol.RoomCreated{Type: protocol.TypeRoomCreated, RoomKey: room.Key})
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, peerID string, out Outbox, rawKey string) {
	user, ok := d.state.Users.FindByID(peerID)
	if !ok {
		out.Send(protocol.ErrorReply{Type: protocol.TypeJoinError, Message: "not logged in"})
		return
	}
	if user.RoomKey != "" {
		user.Out.Send(protocol.ErrorReply{Type: protocol.TypeJoinError, Message: "already in a room"})
		return
	}

	key := roomkey.Normalize(rawKey)
	if !roomkey.IsValid(key) {
		user.Out.Send(protocol.ErrorReply{
			Type:    protocol.TypeJoinError,
			Message: fmt.Sprintf("%q is not a valid room key", rawKey),
		})
		return
	}

	room, err := d.state.Rooms.Join(key, peerID, user.Name, user.Out)
	if err != nil {
		user.Out.Send(protocol.ErrorReply{Type: protocol.TypeJoinError, Message: roomErrorMessage(err, key)})
		return
	}
	d.state.Users.SetRoom(peerID, key)

	// The joiner must see the membership snapshot before any member learns
	// of them, so room-joined is enqueued before the peer-joined fan-out.
	peers := make([]types.PeerInfo, 0, room.Size()-1)
	for _, m := range room.MembersExcept(peerID) {
		peers = append(peers, types.PeerInfo{PeerID: m.PeerID, Username: m.Name})
	}
	user.Out.Send(protocol.RoomJoined{Type: protocol.TypeRoomJoined, RoomKey: key, Peers: peers})

	d.broadcast(ctx, room, peerID, protocol.PeerJoined{
		Type:     protocol.TypePeerJoined,
		PeerID:   peerID,
		Username: user.Name,
	})
	d.log.Info("peer joined room", "room", key, "peer", peerID, "username", user.Name, "members", room.Size())
}

func (d *Dispatcher) handleDeclineInvite(peerID, rawKey string) {
	user, ok := d.state.Users.FindByID(peerID)
	if !ok {
		return
	}
	room, ok := d.state.Rooms.Get(roomkey.Normalize(rawKey))
	if !ok {
		return // room dissolved in the meantime; nothing to notify
	}
	d.broadcast(context.Background(), room, peerID, protocol.InviteDeclined{
		Type:     protocol.TypeInviteDeclined,
		Username: user.Name,
	})
}

func (d *Dispatcher) handleInvite(peerID string, out Outbox, toUsername string) {
	inviter, ok := d.state.Users.FindByID(peerID)
	if !ok {
		out.Send(protocol.ErrorReply{Type: protocol.TypeInviteError, Message: "not logged in"})
		return
	}
	if inviter.RoomKey == "" {
		out.Send(protocol.ErrorReply{Type: protocol.TypeInviteError, Message: "you are not in a room"})
		return
	}

	target, ok := d.state.Users.FindByName(toUsername)
	if !ok {
		msg := fmt.Sprintf("%q is not online", toUsername)
		if suggestion := d.closestUsername(toUsername); suggestion != "" {
			msg = fmt.Sprintf("%s — did you mean %q?", msg, suggestion)
		}
		out.Send(protocol.ErrorReply{Type: protocol.TypeInviteError, Message: msg})
		return
	}
	if target.PeerID == peerID {
		out.Send(protocol.ErrorReply{Type: protocol.TypeInviteError, Message: "you cannot invite yourself"})
		return
	}
	if target.RoomKey != "" {
		out.Send(protocol.ErrorReply{
			Type:    protocol.TypeInviteError,
			Message: fmt.Sprintf("%q is already in a room", target.Name),
		})
		return
	}

	target.Out.Send(protocol.InviteNotice{
		Type:         protocol.TypeInvite,
		FromUsername: inviter.Name,
		RoomKey:      inviter.RoomKey,
	})
	out.Send(protocol.InviteSent{Type: protocol.TypeInviteSent, ToUsername: target.Name})
	d.log.Info("invite sent", "room", inviter.RoomKey, "from", inviter.Name, "to", target.Name)
}

func (d *Dispatcher) handleSignal(ctx context.Context, peerID string, m *protocol.Signal) {
	target, ok := d.state.Users.FindByID(m.ToPeerID)
	if !ok {
		// Target raced offline between the client's lookup and this frame.
		d.log.Debug("dropping signal to unknown peer", "from", peerID, "to", m.ToPeerID)
		return
	}
	target.Out.Send(protocol.SignalRelay{
		Type:       protocol.TypeSignal,
		FromPeerID: peerID,
		Data:       m.Data,
	})
	d.metrics.SignalsRelayed.Add(ctx, 1)
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, peerID string, out Outbox) {
	user, ok := d.state.Users.FindByID(peerID)
	if ok && user.RoomKey != "" {
		d.removeFromRoom(ctx, user)
	}
	// Idempotent: confirmed even when the requester was not in a room.
	out.Send(protocol.LeftRoom{Type: protocol.TypeLeftRoom})
}

// removeFromRoom takes user out of its current room, deletes the room when it
// empties, and fans out peer-left to the remaining members. Shared by the
// leave-room and disconnect paths so both departures look identical to the
// rest of the room.
func (d *Dispatcher) removeFromRoom(ctx context.Context, user User) {
	room, wasEmpty, ok := d.state.Rooms.Leave(user.RoomKey, user.PeerID)
	d.state.Users.SetRoom(user.PeerID, "")
	if !ok {
		return
	}
	if wasEmpty {
		d.metrics.ActiveRooms.Add(ctx, -1)
		d.log.Info("room dissolved", "room", user.RoomKey)
		return
	}
	d.broadcast(ctx, room, user.PeerID, protocol.PeerLeft{
		Type:     protocol.TypePeerLeft,
		PeerID:   user.PeerID,
		Username: user.Name,
	})
}

// broadcast sends msg to every room member except the given peer. Delivery is
// best-effort per recipient; a full queue drops that recipient only.
func (d *Dispatcher) broadcast(ctx context.Context, room Room, exceptPeerID string, msg any) {
	for _, m := range room.MembersExcept(exceptPeerID) {
		if !m.Out.Send(msg) {
			d.metrics.RecipientsDropped.Add(ctx, 1)
			d.log.Warn("recipient queue full, dropping", "room", room.Key, "peer", m.PeerID)
		}
	}
}

// closestUsername returns the online username nearest to name by Levenshtein
// distance, or "" when nothing is close enough to be a plausible typo.
func (d *Dispatcher) closestUsername(name string) string {
	best := ""
	bestDist := maxSuggestDistance + 1
	lower := strings.ToLower(name)
	for _, candidate := range d.state.Users.Names() {
		dist := matchr.Levenshtein(lower, strings.ToLower(candidate))
		if dist < bestDist {
			best = candidate
			bestDist = dist
		}
	}
	return best
}

// roomErrorMessage maps a registry error to the human message sent to the
// client, keeping the stable code visible in logs only.
func roomErrorMessage(err error, key string) string {
	var re *types.RoomError
	if errors.As(err, &re) {
		switch re.Code {
		case types.CodeRoomNotFound:
			return fmt.Sprintf("room %s not found", key)
		case types.CodeAlreadyInRoom:
			return "already in this room"
		}
	}
	return "could not join room"
}
