package core

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dykim-dev/talkline-server/internal/store/sqlite"
)

func newTestRegistry(t *testing.T) (*RoomRegistry, *sqlite.SQLiteStore) {
	t.Helper()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := zerolog.Nop()
	return NewRoomRegistry(st, &logger), st
}

func TestRegistryCreateAndDuplicateTitle(t *testing.T) {
	rr, st := newTestRegistry(t)
	ctx := context.Background()

	room, err := rr.Create(ctx, "general", 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.ID == 0 || !room.Persisted || room.HostUserID != 7 {
		t.Fatalf("unexpected room: %+v", room)
	}

	if _, err := rr.Create(ctx, "general", 8); err == nil {
		t.Fatal("expected duplicate title rejection")
	} else if got := reasonOf(t, err); got != ReasonDuplicateTitle {
		t.Fatalf("reason = %q", got)
	}

	// The created room landed in the rooms table.
	persisted, err := st.GetRoomByTitle(ctx, "general")
	if err != nil || persisted.ID != room.ID {
		t.Fatalf("persisted room: %+v, %v", persisted, err)
	}
}

func TestRegistryGetOrCreateAdHoc(t *testing.T) {
	rr, _ := newTestRegistry(t)
	ctx := context.Background()

	room := rr.GetOrCreate(ctx, 5)
	if room.ID != 5 || room.Persisted || room.Title != "room-5" {
		t.Fatalf("unexpected ad-hoc room: %+v", room)
	}
	if again := rr.GetOrCreate(ctx, 5); again != room {
		t.Fatal("GetOrCreate must return the same live room")
	}
}

func TestRegistryGetOrCreateAdoptsPersistedRoom(t *testing.T) {
	rr, st := newTestRegistry(t)
	ctx := context.Background()

	persisted, err := st.CreateRoom(ctx, "general", 7)
	if err != nil {
		t.Fatalf("seed room: %v", err)
	}

	room := rr.GetOrCreate(ctx, persisted.ID)
	if !room.Persisted || room.Title != "general" {
		t.Fatalf("unexpected adopted room: %+v", room)
	}
	// The stored host is historical; the live role goes to the first joiner.
	if room.HostUserID != 0 {
		t.Fatalf("adopted room must start hostless, got %d", room.HostUserID)
	}
}

func TestRegistryAdHocTitleNotReserved(t *testing.T) {
	rr, _ := newTestRegistry(t)
	ctx := context.Background()

	adHoc := rr.GetOrCreate(ctx, 5)
	if adHoc.Title != "room-5" {
		t.Fatalf("ad-hoc title = %q", adHoc.Title)
	}

	// The synthetic title must not collide with a real one.
	room, err := rr.Create(ctx, "room-5", 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.ID == adHoc.ID {
		t.Fatalf("persisted room reused the ad-hoc id %d", room.ID)
	}

	// Removing the ad-hoc room must not unindex the persisted title.
	if !rr.RemoveIfEmpty(adHoc.ID) {
		t.Fatal("empty ad-hoc room should be removed")
	}
	if _, err := rr.Create(ctx, "room-5", 7); err == nil {
		t.Fatal("persisted title must stay reserved")
	}
}

func TestRegistryRemoveIfEmpty(t *testing.T) {
	rr, _ := newTestRegistry(t)
	ctx := context.Background()

	room := rr.GetOrCreate(ctx, 1)
	alice := authedSession(1, "alice")
	room.Join(alice)

	if rr.RemoveIfEmpty(1) {
		t.Fatal("must not remove a room with members")
	}

	room.Leave(alice)
	if !rr.RemoveIfEmpty(1) {
		t.Fatal("empty room should be removed")
	}
	if rr.Len() != 0 {
		t.Fatalf("registry size = %d", rr.Len())
	}
	if rr.RemoveIfEmpty(1) {
		t.Fatal("second removal should be a no-op")
	}
}
