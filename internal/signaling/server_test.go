package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voicesync/voicesync/internal/config"
	"github.com/voicesync/voicesync/internal/protocol"
)

// wsURL converts an httptest server HTTP URL to its websocket endpoint.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.ServerConfig{
		ReadTimeout:   10 * time.Second,
		SendQueueSize: 64,
	}
	s := NewServer(cfg, NewState(), nil, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// dial connects a websocket client and consumes the connected greeting,
// returning the conn and the assigned peer ID.
func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })

	var greeting protocol.Connected
	readInto(t, conn, &greeting)
	if greeting.Type != protocol.TypeConnected || greeting.PeerID == "" {
		t.Fatalf("greeting = %+v, want connected with a peer id", greeting)
	}
	return conn, greeting.PeerID
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readInto(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
}

func loginOver(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	writeJSON(t, conn, protocol.Login{Type: protocol.TypeLogin, Username: name})
	var ok protocol.LoginOK
	readInto(t, conn, &ok)
	if ok.Type != protocol.TypeLoginOK {
		t.Fatalf("login reply type = %q, want login-ok", ok.Type)
	}
}

func TestServer_ConnectedGreeting(t *testing.T) {
	srv := startTestServer(t)
	_, peerID := dial(t, srv)
	if peerID == "" {
		t.Fatal("empty peer id")
	}
}

func TestServer_DistinctPeerIDs(t *testing.T) {
	srv := startTestServer(t)
	_, a := dial(t, srv)
	_, b := dial(t, srv)
	if a == b {
		t.Errorf("two connections share peer id %q", a)
	}
}

// TestServer_HostGuestFlow drives the full happy path over real sockets:
// login, create, join, membership notification, signal relay.
func TestServer_HostGuestFlow(t *testing.T) {
	srv := startTestServer(t)

	connA, peerA := dial(t, srv)
	loginOver(t, connA, "alice")
	writeJSON(t, connA, protocol.CreateRoom{Type: protocol.TypeCreateRoom})
	var created protocol.RoomCreated
	readInto(t, connA, &created)
	if created.Type != protocol.TypeRoomCreated {
		t.Fatalf("create reply type = %q", created.Type)
	}

	connB, peerB := dial(t, srv)
	loginOver(t, connB, "bob")
	writeJSON(t, connB, protocol.JoinRoom{Type: protocol.TypeJoinRoom, RoomKey: created.RoomKey})

	var joined protocol.RoomJoined
	readInto(t, connB, &joined)
	if joined.RoomKey != created.RoomKey {
		t.Errorf("room-joined key = %q, want %q", joined.RoomKey, created.RoomKey)
	}
	if len(joined.Peers) != 1 || joined.Peers[0].PeerID != peerA {
		t.Errorf("room-joined peers = %+v, want host only", joined.Peers)
	}

	var pj protocol.PeerJoined
	readInto(t, connA, &pj)
	if pj.PeerID != peerB || pj.Username != "bob" {
		t.Errorf("peer-joined = %+v, want {%s bob}", pj, peerB)
	}

	// Relay an opaque signal blob from host to guest.
	writeJSON(t, connA, protocol.Signal{
		Type:     protocol.TypeSignal,
		ToPeerID: peerB,
		Data:     json.RawMessage(`{"kind":"offer","sdp":"X"}`),
	})
	var relay protocol.SignalRelay
	readInto(t, connB, &relay)
	if relay.FromPeerID != peerA {
		t.Errorf("fromPeerId = %q, want %q", relay.FromPeerID, peerA)
	}
	if string(relay.Data) != `{"kind":"offer","sdp":"X"}` {
		t.Errorf("data = %s", relay.Data)
	}
}

// TestServer_DisconnectNotifiesRoom covers the abrupt-close path: the
// remaining member must see exactly one peer-left.
func TestServer_DisconnectNotifiesRoom(t *testing.T) {
	srv := startTestServer(t)

	connA, _ := dial(t, srv)
	loginOver(t, connA, "alice")
	writeJSON(t, connA, protocol.CreateRoom{Type: protocol.TypeCreateRoom})
	var created protocol.RoomCreated
	readInto(t, connA, &created)

	connB, peerB := dial(t, srv)
	loginOver(t, connB, "bob")
	writeJSON(t, connB, protocol.JoinRoom{Type: protocol.TypeJoinRoom, RoomKey: created.RoomKey})
	var joined protocol.RoomJoined
	readInto(t, connB, &joined)
	var pj protocol.PeerJoined
	readInto(t, connA, &pj)

	connB.Close(websocket.StatusNormalClosure, "gone")

	var left protocol.PeerLeft
	readInto(t, connA, &left)
	if left.Type != protocol.TypePeerLeft || left.PeerID != peerB {
		t.Errorf("notification = %+v, want peer-left for %s", left, peerB)
	}
}

func TestServer_HTTPSurface(t *testing.T) {
	srv := startTestServer(t)

	for _, tt := range []struct {
		path     string
		wantBody string
	}{
		{path: "/health", wantBody: `"status":"ok"`},
		{path: "/ping", wantBody: "pong"},
		{path: "/healthz", wantBody: `"status":"ok"`},
		{path: "/metrics", wantBody: ""},
	} {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		body := make([]byte, 4096)
		n, _ := resp.Body.Read(body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", tt.path, resp.StatusCode)
		}
		if tt.wantBody != "" && !strings.Contains(string(body[:n]), tt.wantBody) {
			t.Errorf("GET %s body %q does not contain %q", tt.path, body[:n], tt.wantBody)
		}
	}
}
