package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/dykim-dev/talkline-server/internal/store"
)

// timeLayout is how published_date is stored; the column is TEXT.
const timeLayout = time.RFC3339Nano

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
// The handle is long-lived and serialized; callers never open per-operation
// connections.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func applySchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		login_id       TEXT NOT NULL UNIQUE,
		login_password TEXT NOT NULL,
		name           TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS rooms (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		title        TEXT NOT NULL UNIQUE,
		host_user_id INTEGER NOT NULL,
		FOREIGN KEY(host_user_id) REFERENCES users(id)
	);
	CREATE TABLE IF NOT EXISTS talks (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id        INTEGER NOT NULL,
		user_id        INTEGER NOT NULL,
		text           TEXT NOT NULL,
		published_date TEXT NOT NULL,
		FOREIGN KEY(room_id) REFERENCES rooms(id),
		FOREIGN KEY(user_id) REFERENCES users(id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapConstraintErr converts a sqlite UNIQUE violation into the matching
// store sentinel, identified by the column named in the driver message.
func mapConstraintErr(err error) error {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return err
	}
	if sqlErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqlErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return err
	}
	msg := sqlErr.Error()
	switch {
	case strings.Contains(msg, "users.login_id"):
		return store.ErrDuplicateLogin
	case strings.Contains(msg, "users.name"):
		return store.ErrDuplicateName
	case strings.Contains(msg, "rooms.title"):
		return store.ErrDuplicateTitle
	}
	return err
}

// ==== UserStore implementation ====

// CreateUser inserts a user row.
func (s *SQLiteStore) CreateUser(ctx context.Context, loginID, passwordHash, name string) (*store.User, error) {
	query := `
		INSERT INTO users (login_id, login_password, name)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, loginID, passwordHash, name)
	if err != nil {
		if mapped := mapConstraintErr(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by id.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, login_id, login_password, name
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByLogin retrieves a user by login id.
func (s *SQLiteStore) GetUserByLogin(ctx context.Context, loginID string) (*store.User, error) {
	query := `
		SELECT id, login_id, login_password, name
		FROM users
		WHERE login_id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, loginID))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(&user.ID, &user.LoginID, &user.PasswordHash, &user.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== RoomStore implementation ====

// CreateRoom inserts a room row.
func (s *SQLiteStore) CreateRoom(ctx context.Context, title string, hostUserID int64) (*store.Room, error) {
	query := `
		INSERT INTO rooms (title, host_user_id)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, title, hostUserID)
	if err != nil {
		if mapped := mapConstraintErr(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetRoomByID(ctx, id)
}

// GetRoomByID retrieves a room by id.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	query := `
		SELECT id, title, host_user_id
		FROM rooms
		WHERE id = ?
	`
	return s.scanRoom(s.db.QueryRowContext(ctx, query, id))
}

// GetRoomByTitle retrieves a room by title.
func (s *SQLiteStore) GetRoomByTitle(ctx context.Context, title string) (*store.Room, error) {
	query := `
		SELECT id, title, host_user_id
		FROM rooms
		WHERE title = ?
	`
	return s.scanRoom(s.db.QueryRowContext(ctx, query, title))
}

func (s *SQLiteStore) scanRoom(row *sql.Row) (*store.Room, error) {
	var room store.Room
	err := row.Scan(&room.ID, &room.Title, &room.HostUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	return &room, nil
}

// UpdateRoomHost rewrites a room's host pointer.
func (s *SQLiteStore) UpdateRoomHost(ctx context.Context, roomID, hostUserID int64) error {
	query := `
		UPDATE rooms SET host_user_id = ? WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, hostUserID, roomID)
	if err != nil {
		return fmt.Errorf("update room host: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ==== TalkStore implementation ====

// AppendTalk inserts one talks row with the server-assigned timestamp.
func (s *SQLiteStore) AppendTalk(ctx context.Context, roomID, userID int64, text string, publishedAt time.Time) (*store.Talk, error) {
	query := `
		INSERT INTO talks (room_id, user_id, text, published_date)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, roomID, userID, text, publishedAt.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert talk: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return &store.Talk{
		ID:          id,
		RoomID:      roomID,
		UserID:      userID,
		Text:        text,
		PublishedAt: publishedAt.UTC(),
	}, nil
}

// ListTalks returns up to limit most recent talks for a room, oldest first.
func (s *SQLiteStore) ListTalks(ctx context.Context, roomID int64, limit int) ([]*store.Talk, error) {
	query := `
		SELECT id, room_id, user_id, text, published_date
		FROM (
			SELECT id, room_id, user_id, text, published_date
			FROM talks
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query talks: %w", err)
	}
	defer rows.Close()

	var talks []*store.Talk
	for rows.Next() {
		var talk store.Talk
		var published string
		if err := rows.Scan(&talk.ID, &talk.RoomID, &talk.UserID, &talk.Text, &published); err != nil {
			return nil, fmt.Errorf("scan talk: %w", err)
		}
		ts, err := time.Parse(timeLayout, published)
		if err != nil {
			return nil, fmt.Errorf("parse published_date: %w", err)
		}
		talk.PublishedAt = ts
		talks = append(talks, &talk)
	}

	return talks, rows.Err()
}
