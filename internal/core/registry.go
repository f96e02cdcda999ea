package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dykim-dev/talkline-server/internal/store"
)

// RoomRegistry maps room ids to live rooms. It is owned by the hub
// goroutine; nothing else touches it.
type RoomRegistry struct {
	rooms   map[int64]*Room
	byTitle map[string]int64
	store   store.RoomStore
	log     *zerolog.Logger
}

// NewRoomRegistry constructs an empty registry on top of the persistence
// gateway.
func NewRoomRegistry(roomStore store.RoomStore, logger *zerolog.Logger) *RoomRegistry {
	return &RoomRegistry{
		rooms:   make(map[int64]*Room),
		byTitle: make(map[string]int64),
		store:   roomStore,
		log:     logger,
	}
}

// GetOrCreate returns the live room for roomID, creating one if absent.
// A persisted rooms row is adopted when it exists; otherwise the room is
// ad-hoc and lives only in memory, titled after its id.
func (rr *RoomRegistry) GetOrCreate(ctx context.Context, roomID int64) *Room {
	if room, ok := rr.rooms[roomID]; ok {
		return room
	}

	room := NewRoom(roomID, fmt.Sprintf("room-%d", roomID), 0)
	if persisted, err := rr.store.GetRoomByID(ctx, roomID); err == nil {
		// The stored host pointer is historical; the live host must be a
		// member, so the first joiner takes the role and the row is
		// refreshed then.
		room.Title = persisted.Title
		room.Persisted = true
	} else if !errors.Is(err, store.ErrNotFound) {
		rr.log.Warn().Err(err).Int64("room_id", roomID).Msg("room lookup failed, using ad-hoc room")
	}

	rr.rooms[roomID] = room
	// Only persisted titles are reserved; the synthetic room-<id> title of
	// an ad-hoc room must not block a later create_room.
	if room.Persisted {
		rr.byTitle[room.Title] = roomID
	}
	rr.log.Debug().Int64("room_id", roomID).Str("title", room.Title).Msg("room activated")
	return room
}

// Get returns the live room for roomID, or nil.
func (rr *RoomRegistry) Get(roomID int64) *Room {
	return rr.rooms[roomID]
}

// Create allocates a new persisted room with a unique title and the given
// host. The id comes from the gateway's autoincrement.
func (rr *RoomRegistry) Create(ctx context.Context, title string, hostUserID int64) (*Room, error) {
	if _, taken := rr.byTitle[title]; taken {
		return nil, protoErr(ReasonDuplicateTitle, "room title already in use")
	}

	persisted, err := rr.store.CreateRoom(ctx, title, hostUserID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTitle) {
			return nil, protoErr(ReasonDuplicateTitle, "room title already in use")
		}
		return nil, protoErr(ReasonPersistence, "room could not be stored")
	}

	room := NewRoom(persisted.ID, title, hostUserID)
	room.Persisted = true
	rr.rooms[room.ID] = room
	rr.byTitle[title] = room.ID
	rr.log.Info().Int64("room_id", room.ID).Str("title", title).Int64("host_user_id", hostUserID).Msg("room created")
	return room, nil
}

// RemoveIfEmpty garbage-collects the room when its membership is empty.
// Called after every leave. Returns true when the entry was deleted.
func (rr *RoomRegistry) RemoveIfEmpty(roomID int64) bool {
	room, ok := rr.rooms[roomID]
	if !ok || room.MemberCount() > 0 {
		return false
	}
	delete(rr.rooms, roomID)
	if rr.byTitle[room.Title] == roomID {
		delete(rr.byTitle, room.Title)
	}
	rr.log.Info().Int64("room_id", roomID).Msg("empty room removed")
	return true
}

// Len reports the number of live rooms.
func (rr *RoomRegistry) Len() int {
	return len(rr.rooms)
}
