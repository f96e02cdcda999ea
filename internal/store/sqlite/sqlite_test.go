package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dykim-dev/talkline-server/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "hash", "Alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected autoincrement id")
	}

	byLogin, err := s.GetUserByLogin(ctx, "alice")
	if err != nil {
		t.Fatalf("get by login: %v", err)
	}
	if byLogin.ID != created.ID || byLogin.Name != "Alice" || byLogin.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", byLogin)
	}

	if _, err := s.GetUserByLogin(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "alice", "hash", "Alice"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := s.CreateUser(ctx, "alice", "hash2", "Alicia"); !errors.Is(err, store.ErrDuplicateLogin) {
		t.Fatalf("expected ErrDuplicateLogin, got %v", err)
	}
	if _, err := s.CreateUser(ctx, "alice2", "hash2", "Alice"); !errors.Is(err, store.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestCreateRoomAndHostUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	host, err := s.CreateUser(ctx, "alice", "hash", "Alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	room, err := s.CreateRoom(ctx, "general", host.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.HostUserID != host.ID {
		t.Fatalf("unexpected host: %+v", room)
	}

	if _, err := s.CreateRoom(ctx, "general", host.ID); !errors.Is(err, store.ErrDuplicateTitle) {
		t.Fatalf("expected ErrDuplicateTitle, got %v", err)
	}

	byTitle, err := s.GetRoomByTitle(ctx, "general")
	if err != nil || byTitle.ID != room.ID {
		t.Fatalf("get by title: %+v, %v", byTitle, err)
	}

	if err := s.UpdateRoomHost(ctx, room.ID, 99); err != nil {
		t.Fatalf("update host: %v", err)
	}
	updated, err := s.GetRoomByID(ctx, room.ID)
	if err != nil || updated.HostUserID != 99 {
		t.Fatalf("host not updated: %+v, %v", updated, err)
	}

	if err := s.UpdateRoomHost(ctx, 12345, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAndListTalks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "hash", "Alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	room, err := s.CreateRoom(ctx, "general", user.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	now := time.Now()
	for i, text := range []string{"one", "two", "three"} {
		talk, err := s.AppendTalk(ctx, room.ID, user.ID, text, now.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("append talk %d: %v", i, err)
		}
		if talk.ID == 0 {
			t.Fatal("expected autoincrement talk id")
		}
	}

	talks, err := s.ListTalks(ctx, room.ID, 2)
	if err != nil {
		t.Fatalf("list talks: %v", err)
	}
	if len(talks) != 2 {
		t.Fatalf("expected 2 talks, got %d", len(talks))
	}
	// Most recent two, oldest first.
	if talks[0].Text != "two" || talks[1].Text != "three" {
		t.Fatalf("unexpected order: %q, %q", talks[0].Text, talks[1].Text)
	}
	if talks[0].RoomID != room.ID || talks[0].UserID != user.ID {
		t.Fatalf("unexpected talk fields: %+v", talks[0])
	}
	if talks[0].PublishedAt.IsZero() {
		t.Fatal("expected parsed timestamp")
	}
}
