package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dykim-dev/talkline-server/internal/auth"
	"github.com/dykim-dev/talkline-server/internal/store/sqlite"
)

// testEnv stands up the full core stack on an in-memory database.
type testEnv struct {
	ctx        context.Context
	store      *sqlite.SQLiteStore
	directory  *UserDirectory
	registry   *RoomRegistry
	recorder   *Recorder
	hub        *Hub
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	tokens := &auth.TokenConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "talkline",
		Audience: "talkline-clients",
		TTL:      time.Minute,
	}

	directory := NewUserDirectory(st, &logger)
	registry := NewRoomRegistry(st, &logger)
	recorder := NewRecorder(64, &logger)
	hub := NewHub(st, registry, directory, recorder, &logger)
	dispatcher := NewDispatcher(hub, directory, tokens, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	recorder.Start(ctx, 1)
	t.Cleanup(recorder.Close)

	return &testEnv{
		ctx:        ctx,
		store:      st,
		directory:  directory,
		registry:   registry,
		recorder:   recorder,
		hub:        hub,
		dispatcher: dispatcher,
	}
}

func (e *testEnv) dispatch(sess *Session, line string) {
	e.dispatcher.Dispatch(e.ctx, sess, line)
}

// register creates and logs in a user on a fresh session, discarding the
// two replies, and returns the session and user id.
func (e *testEnv) register(t *testing.T, loginID, password string) (*Session, int64) {
	t.Helper()
	sess := NewSession()
	e.dispatch(sess, "create_user?id:"+loginID+"/password:"+password)
	created := mustLine(t, sess)
	if !strings.HasPrefix(created, "ok?cmd:create_user") {
		t.Fatalf("create_user reply: %q", created)
	}
	e.dispatch(sess, "login_user?id:"+loginID+"/password:"+password)
	logged := mustLine(t, sess)
	if !strings.HasPrefix(logged, "ok?cmd:login_user") {
		t.Fatalf("login_user reply: %q", logged)
	}
	return sess, sess.UserID()
}

// memberCount reads a room's size on the hub goroutine.
func (e *testEnv) memberCount(roomID int64) int {
	var n int
	_ = e.hub.do(e.ctx, func(context.Context) {
		if room := e.registry.Get(roomID); room != nil {
			n = room.MemberCount()
		}
	})
	return n
}

// roomCount reads the number of live rooms on the hub goroutine.
func (e *testEnv) roomCount() int {
	var n int
	_ = e.hub.do(e.ctx, func(context.Context) {
		n = e.registry.Len()
	})
	return n
}

// mustLine receives the next queued outbound line for the session.
func mustLine(t *testing.T, sess *Session) string {
	t.Helper()
	select {
	case line := <-sess.Out():
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("expected an outbound line, got none")
		return ""
	}
}

// mustPrefix receives the next line and requires the given prefix.
func mustPrefix(t *testing.T, sess *Session, prefix string) string {
	t.Helper()
	line := mustLine(t, sess)
	if !strings.HasPrefix(line, prefix) {
		t.Fatalf("expected line with prefix %q, got %q", prefix, line)
	}
	return line
}

// noLine asserts the session has nothing queued.
func noLine(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case line := <-sess.Out():
		t.Fatalf("unexpected outbound line %q", line)
	default:
	}
}

// drain discards everything currently queued for the session.
func drain(sess *Session) {
	for {
		select {
		case <-sess.Out():
		default:
			return
		}
	}
}
