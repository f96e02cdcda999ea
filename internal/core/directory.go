package core

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dykim-dev/talkline-server/internal/auth"
	"github.com/dykim-dev/talkline-server/internal/store"
)

// UserDirectory is the in-memory registry of identities and live sessions.
// Reads dominate writes, so it is guarded by a RWMutex; creation and login
// hold the write lock across their check-then-insert so uniqueness and the
// single-live-session rule hold under concurrent connections.
type UserDirectory struct {
	mu      sync.RWMutex
	byID    map[int64]*store.User
	byLogin map[string]*store.User
	byName  map[string]int64
	live    map[int64]*Session

	store store.UserStore
	log   *zerolog.Logger
}

// NewUserDirectory constructs a directory on top of the persistence gateway.
func NewUserDirectory(userStore store.UserStore, logger *zerolog.Logger) *UserDirectory {
	return &UserDirectory{
		byID:    make(map[int64]*store.User),
		byLogin: make(map[string]*store.User),
		byName:  make(map[string]int64),
		live:    make(map[int64]*Session),
		store:   userStore,
		log:     logger,
	}
}

// CreateUser registers a new identity. The login id and display name must
// both be unused; the password is stored as a bcrypt hash.
func (d *UserDirectory) CreateUser(ctx context.Context, loginID, password, name string) (*store.User, error) {
	loginID = strings.TrimSpace(loginID)
	name = strings.TrimSpace(name)
	if loginID == "" || name == "" {
		return nil, protoErr(ReasonInvalidFormat, "empty login id or name")
	}
	if password == "" {
		return nil, protoErr(ReasonInvalidFormat, "empty password")
	}

	// Hashing is slow; do it before entering the critical section.
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, protoErr(ReasonPersistence, "credential hashing failed")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.byLogin[loginID]; taken {
		return nil, protoErr(ReasonDuplicateLogin, "login id already taken")
	}
	if _, taken := d.byName[name]; taken {
		return nil, protoErr(ReasonDuplicateName, "display name already taken")
	}

	user, err := d.store.CreateUser(ctx, loginID, hash, name)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateLogin):
			return nil, protoErr(ReasonDuplicateLogin, "login id already taken")
		case errors.Is(err, store.ErrDuplicateName):
			return nil, protoErr(ReasonDuplicateName, "display name already taken")
		}
		d.log.Error().Err(err).Str("login_id", loginID).Msg("persist user failed")
		return nil, protoErr(ReasonPersistence, "user could not be stored")
	}

	d.cacheLocked(user)
	d.log.Info().Int64("user_id", user.ID).Str("login_id", loginID).Msg("user created")
	return user, nil
}

// Authenticate checks credentials and binds the session to the user. When
// the user already had a live session, that session is returned as evicted;
// the caller notifies and closes it.
func (d *UserDirectory) Authenticate(ctx context.Context, sess *Session, loginID, password string) (user *store.User, evicted *Session, err error) {
	prev := sess.State()
	sess.SetState(StateAuthenticating)
	defer func() {
		if err != nil {
			sess.SetState(prev)
		}
	}()

	user, err = d.userByLogin(ctx, loginID)
	if err != nil {
		return nil, nil, protoErr(ReasonInvalidCredentials, "unknown login id or wrong password")
	}

	// Compare outside the lock; User records are immutable once cached.
	if auth.ComparePassword(user.PasswordHash, password) != nil {
		return nil, nil, protoErr(ReasonInvalidCredentials, "unknown login id or wrong password")
	}

	evicted = d.bind(sess, user)
	return user, evicted, nil
}

// AuthenticateToken binds the session from validated reconnect-token claims.
func (d *UserDirectory) AuthenticateToken(ctx context.Context, sess *Session, userID int64) (user *store.User, evicted *Session, err error) {
	prev := sess.State()
	sess.SetState(StateAuthenticating)
	defer func() {
		if err != nil {
			sess.SetState(prev)
		}
	}()

	user, err = d.Lookup(ctx, userID)
	if err != nil {
		return nil, nil, protoErr(ReasonInvalidCredentials, "token references unknown user")
	}

	evicted = d.bind(sess, user)
	return user, evicted, nil
}

// bind makes sess the single live session for user, displacing any prior
// one. Rebinding a session that was logged in as someone else releases the
// old mapping first.
func (d *UserDirectory) bind(sess *Session, user *store.User) (evicted *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cacheLocked(user)

	if oldID := sess.UserID(); oldID != 0 && oldID != user.ID && d.live[oldID] == sess {
		delete(d.live, oldID)
	}

	if prior := d.live[user.ID]; prior != nil && prior != sess {
		evicted = prior
	}
	d.live[user.ID] = sess
	sess.BindUser(user.ID, user.Name)

	d.log.Info().Int64("user_id", user.ID).Str("session_id", sess.ID).Bool("evicted_prior", evicted != nil).Msg("session bound")
	return evicted
}

// Release drops the live-session mapping if it still points at sess.
// Idempotent; safe to call for unauthenticated sessions.
func (d *UserDirectory) Release(sess *Session) {
	userID := sess.UserID()
	if userID == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live[userID] == sess {
		delete(d.live, userID)
	}
}

// Lookup returns the user with the given id.
func (d *UserDirectory) Lookup(ctx context.Context, userID int64) (*store.User, error) {
	d.mu.RLock()
	user, ok := d.byID[userID]
	d.mu.RUnlock()
	if ok {
		return user, nil
	}

	user, err := d.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, protoErr(ReasonNotFound, "no such user")
		}
		return nil, err
	}

	d.mu.Lock()
	d.cacheLocked(user)
	d.mu.Unlock()
	return user, nil
}

// LookupByLogin returns the user with the given login id.
func (d *UserDirectory) LookupByLogin(ctx context.Context, loginID string) (*store.User, error) {
	user, err := d.userByLogin(ctx, loginID)
	if err != nil {
		return nil, protoErr(ReasonNotFound, "no such user")
	}
	return user, nil
}

// LiveSession returns the live session bound to userID, or nil.
func (d *UserDirectory) LiveSession(userID int64) *Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.live[userID]
}

func (d *UserDirectory) userByLogin(ctx context.Context, loginID string) (*store.User, error) {
	d.mu.RLock()
	user, ok := d.byLogin[loginID]
	d.mu.RUnlock()
	if ok {
		return user, nil
	}

	user, err := d.store.GetUserByLogin(ctx, loginID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cacheLocked(user)
	d.mu.Unlock()
	return user, nil
}

func (d *UserDirectory) cacheLocked(user *store.User) {
	d.byID[user.ID] = user
	d.byLogin[user.LoginID] = user
	d.byName[user.Name] = user.ID
}
