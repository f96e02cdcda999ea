// Package store defines the persistence gateway contract. The server treats
// durability as an external collaborator behind this narrow interface.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by gateway implementations.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateLogin = errors.New("login id already taken")
	ErrDuplicateName  = errors.New("display name already taken")
	ErrDuplicateTitle = errors.New("room title already taken")
)

// User is a persisted account.
type User struct {
	ID           int64
	LoginID      string
	PasswordHash string
	Name         string
}

// Room is a persisted chat room record.
type Room struct {
	ID         int64
	Title      string
	HostUserID int64
}

// Talk is one persisted chat message.
type Talk struct {
	ID          int64
	RoomID      int64
	UserID      int64
	Text        string
	PublishedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser inserts a user. Fails with ErrDuplicateLogin or
	// ErrDuplicateName when a uniqueness constraint is violated.
	CreateUser(ctx context.Context, loginID, passwordHash, name string) (*User, error)

	// GetUserByID retrieves a user by id.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByLogin retrieves a user by login id.
	GetUserByLogin(ctx context.Context, loginID string) (*User, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom inserts a room. Fails with ErrDuplicateTitle when the
	// title is already taken.
	CreateRoom(ctx context.Context, title string, hostUserID int64) (*Room, error)

	// GetRoomByID retrieves a room by id.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// GetRoomByTitle retrieves a room by title.
	GetRoomByTitle(ctx context.Context, title string) (*Room, error)

	// UpdateRoomHost rewrites a room's host pointer.
	UpdateRoomHost(ctx context.Context, roomID, hostUserID int64) error
}

// TalkStore handles message persistence.
type TalkStore interface {
	// AppendTalk inserts exactly one talks row.
	AppendTalk(ctx context.Context, roomID, userID int64, text string, publishedAt time.Time) (*Talk, error)

	// ListTalks returns the most recent talks for a room, oldest first.
	ListTalks(ctx context.Context, roomID int64, limit int) ([]*Talk, error)
}

// Store aggregates all gateway interfaces.
type Store interface {
	UserStore
	RoomStore
	TalkStore

	// Close closes the underlying database handle.
	Close() error
}
