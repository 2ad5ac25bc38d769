package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/voicesync/voicesync/internal/client"
	"github.com/voicesync/voicesync/internal/config"
	"github.com/voicesync/voicesync/internal/peer"
	"github.com/voicesync/voicesync/internal/roomkey"
	"github.com/voicesync/voicesync/pkg/audio"
	"github.com/voicesync/voicesync/pkg/types"
)

func runStart(args []string) int {
	fs, serverURL, username, configPath := clientFlags("start")
	fs.Parse(args)

	return withSession(*configPath, *serverURL, *username, func(ctx context.Context, sess *client.Session) int {
		key, err := sess.CreateRoom(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voicesync: create room: %v\n", err)
			sess.Leave(ctx)
			return 1
		}
		fmt.Printf("Room created. Share this key:\n\n    %s\n\n", key)
		return interact(ctx, sess)
	})
}

func runJoin(args []string) int {
	fs, serverURL, username, configPath := clientFlags("join")
	fs.Parse(args)

	key := roomkey.Normalize(fs.Arg(0))
	if key == "" {
		fmt.Fprintln(os.Stderr, "voicesync: join needs a room key, e.g. voicesync join ACD-EFG-HJK")
		return 2
	}

	return withSession(*configPath, *serverURL, *username, func(ctx context.Context, sess *client.Session) int {
		if err := sess.JoinRoom(ctx, key); err != nil {
			fmt.Fprintf(os.Stderr, "voicesync: join %s: %v\n", key, err)
			sess.Leave(ctx)
			return 1
		}
		fmt.Printf("Joined room %s.\n", key)
		return interact(ctx, sess)
	})
}

func clientFlags(name string) (fs *flag.FlagSet, serverURL, username, configPath *string) {
	fs = flag.NewFlagSet(name, flag.ExitOnError)
	serverURL = fs.String("s", "", "signaling server URL (overrides VOICESYNC_SERVER)")
	username = fs.String("u", "", "display name (defaults to $USER)")
	configPath = fs.String("config", "", "path to the YAML configuration file")
	return fs, serverURL, username, configPath
}

// withSession builds the transport/engine/audio stack, connects, runs fn, and
// tears everything down afterwards.
func withSession(configPath, serverURL, username string, fn func(context.Context, *client.Session) int) int {
	cfg, ok := loadConfig(configPath)
	if !ok {
		return 1
	}
	if serverURL != "" {
		cfg.Client.ServerURL = serverURL
	}
	if username == "" {
		username = cfg.Client.Username
	}
	if username == "" {
		username = os.Getenv("USER")
	}
	if username == "" {
		username = "guest"
	}

	slog.SetDefault(newLogger(config.LogWarn))

	transport := client.NewTransport(cfg.Client.ServerURL,
		client.WithKeepalive(cfg.Client.KeepaliveInterval),
		client.WithReconnect(cfg.Client.ReconnectDelay, cfg.Client.MaxReconnectAttempts),
	)

	var engineOpts []peer.Option
	if len(cfg.Client.ICEServers) > 0 {
		engineOpts = append(engineOpts, peer.WithICEServers(cfg.Client.ICEServers...))
	}
	engine, err := peer.NewPionEngine(engineOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicesync: %v\n", err)
		return 1
	}

	sess := client.NewSession(transport, engine, newSilentAdapter(),
		client.WithRequestTimeout(cfg.Client.RequestTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Connect(ctx, username); err != nil {
		fmt.Fprintf(os.Stderr, "voicesync: connect to %s: %v\n", cfg.Client.ServerURL, err)
		return 1
	}
	fmt.Printf("Connected to %s as %s.\n", cfg.Client.ServerURL, username)

	return fn(ctx, sess)
}

// interact runs the command prompt until the call ends. It returns 0 when the
// user left on purpose and 1 when the session died underneath them.
func interact(ctx context.Context, sess *client.Session) int {
	fmt.Println(`Commands: invite <name> | accept <key> | decline <key> | mute | unmute | leave`)

	done := make(chan struct{})
	var left atomic.Bool

	go func() {
		defer close(done)
		for ev := range sess.Events() {
			switch ev.Kind {
			case client.EventParticipantUpdate:
				printRoster(ev.Participants)
			case client.EventInvite:
				fmt.Printf("%s invites you to room %s — type 'accept %s' or 'decline %s'\n",
					ev.FromUsername, ev.RoomKey, ev.RoomKey, ev.RoomKey)
			case client.EventInviteDeclined:
				fmt.Printf("%s declined the invitation\n", ev.Username)
			case client.EventError:
				fmt.Fprintf(os.Stderr, "voicesync: %v\n", ev.Err)
			case client.EventEnded:
				return
			}
		}
	}()

	go readCommands(ctx, sess, &left)

	select {
	case <-done:
		if left.Load() {
			return 0
		}
		return 1
	case <-ctx.Done():
		left.Store(true)
		sess.Leave(context.Background())
		<-done
		fmt.Println()
		return 0
	}
}

// readCommands parses stdin lines into session calls. EOF leaves the call.
func readCommands(ctx context.Context, sess *client.Session, left *atomic.Bool) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, rest := fields[0], fields[1:]
		switch cmd {
		case "invite":
			if len(rest) != 1 {
				fmt.Println("usage: invite <name>")
				continue
			}
			if err := sess.Invite(ctx, rest[0]); err != nil {
				fmt.Fprintf(os.Stderr, "voicesync: %v\n", err)
			} else {
				fmt.Printf("invitation sent to %s\n", rest[0])
			}
		case "accept":
			if len(rest) != 1 {
				fmt.Println("usage: accept <key>")
				continue
			}
			if err := sess.AcceptInvite(ctx, roomkey.Normalize(rest[0])); err != nil {
				fmt.Fprintf(os.Stderr, "voicesync: %v\n", err)
			}
		case "decline":
			if len(rest) != 1 {
				fmt.Println("usage: decline <key>")
				continue
			}
			sess.DeclineInvite(roomkey.Normalize(rest[0]))
		case "mute":
			sess.SetMuted(true)
		case "unmute":
			sess.SetMuted(false)
		case "leave", "quit", "exit":
			left.Store(true)
			sess.Leave(ctx)
			return
		default:
			fmt.Printf("unknown command %q — invite, accept, decline, mute, unmute, leave\n", cmd)
		}
	}
	// stdin closed
	left.Store(true)
	sess.Leave(ctx)
}

func printRoster(participants []types.Participant) {
	parts := make([]string, 0, len(participants))
	for _, p := range participants {
		name := p.Username
		if p.IsSelf {
			name += " (you)"
		}
		var marks []string
		if p.IsMuted {
			marks = append(marks, "muted")
		}
		if p.IsSpeaking {
			marks = append(marks, "speaking")
		}
		if len(marks) > 0 {
			name += " [" + strings.Join(marks, ", ") + "]"
		}
		parts = append(parts, name)
	}
	fmt.Printf("participants: %s\n", strings.Join(parts, ", "))
}

// ── audio ─────────────────────────────────────────────────────────────────────

// silentAdapter is the CLI's built-in [audio.Adapter]. Device capture and
// playback plug in behind that interface; the silent adapter keeps sessions
// fully functional — negotiation, remote tracks, mute state — while producing
// no sound and discarding playback. All remote peers share one discard
// channel, drained by a single goroutine.
type silentAdapter struct {
	mu      sync.Mutex
	local   chan audio.Frame
	samples chan audio.Frame
	discard chan audio.Frame
	muted   bool
	closed  bool
}

// Compile-time interface assertion.
var _ audio.Adapter = (*silentAdapter)(nil)

func newSilentAdapter() *silentAdapter {
	return &silentAdapter{
		local:   make(chan audio.Frame),
		samples: make(chan audio.Frame),
		discard: make(chan audio.Frame, 64),
	}
}

func (a *silentAdapter) Start(context.Context) error {
	go audio.Drain(a.discard)
	return nil
}

func (a *silentAdapter) LocalTrack() <-chan audio.Frame { return a.local }
func (a *silentAdapter) Samples() <-chan audio.Frame    { return a.samples }

func (a *silentAdapter) AddRemote(string) chan<- audio.Frame { return a.discard }
func (a *silentAdapter) RemoveRemote(string)                 {}

func (a *silentAdapter) SetMuted(muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = muted
}

func (a *silentAdapter) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

func (a *silentAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.local)
	close(a.samples)
	return nil
}
