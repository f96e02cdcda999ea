package core

// Room groups the sessions joined to one chat room. All mutation happens on
// the hub goroutine, so Room carries no lock. Membership keeps insertion
// order: broadcasts iterate it and host failover picks the earliest joiner.
type Room struct {
	ID         int64
	Title      string
	HostUserID int64
	// Persisted is set for rooms backed by a rooms row; ad-hoc rooms
	// created by joining an unknown id live only in memory.
	Persisted bool

	members []*Session
	index   map[string]struct{}
}

// NewRoom constructs an empty room.
func NewRoom(id int64, title string, hostUserID int64) *Room {
	return &Room{
		ID:         id,
		Title:      title,
		HostUserID: hostUserID,
		index:      make(map[string]struct{}),
	}
}

// Join inserts a session into the membership set. The first member becomes
// host when the room has none. Returns false if the session was already a
// member.
func (r *Room) Join(s *Session) bool {
	if _, exists := r.index[s.ID]; exists {
		return false
	}
	r.index[s.ID] = struct{}{}
	r.members = append(r.members, s)
	if r.HostUserID == 0 {
		r.HostUserID = s.UserID()
	}
	return true
}

// Leave removes a session. When the departing session held the host role and
// members remain, the earliest remaining joiner becomes host and newHost is
// non-nil. empty reports whether the room should now be garbage-collected.
func (r *Room) Leave(s *Session) (newHost *Session, empty bool) {
	if _, exists := r.index[s.ID]; !exists {
		return nil, len(r.members) == 0
	}
	delete(r.index, s.ID)
	for i, m := range r.members {
		if m.ID == s.ID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}

	if len(r.members) == 0 {
		return nil, true
	}
	if r.HostUserID == s.UserID() {
		newHost = r.members[0]
		r.HostUserID = newHost.UserID()
	}
	return newHost, false
}

// Broadcast delivers a line to every current member in insertion order.
// A member whose queue is full is skipped, never blocking the others;
// dropped counts those members so the caller can report them.
func (r *Room) Broadcast(line string) (dropped int) {
	for _, m := range r.members {
		if !m.Send(line) {
			dropped++
		}
	}
	return dropped
}

// MemberCount is the observable size for garbage-collection decisions.
func (r *Room) MemberCount() int {
	return len(r.members)
}

// IsMember reports whether the session belongs to this room.
func (r *Room) IsMember(s *Session) bool {
	_, ok := r.index[s.ID]
	return ok
}

// MemberByUserID finds the member session bound to the given user.
func (r *Room) MemberByUserID(userID int64) *Session {
	for _, m := range r.members {
		if m.UserID() == userID {
			return m
		}
	}
	return nil
}
