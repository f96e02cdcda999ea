package core

import "testing"

func authedSession(userID int64, name string) *Session {
	s := NewSession()
	s.BindUser(userID, name)
	return s
}

func TestRoomJoinAndMemberCount(t *testing.T) {
	room := NewRoom(1, "general", 0)

	alice := authedSession(1, "alice")
	bob := authedSession(2, "bob")

	if !room.Join(alice) {
		t.Fatal("first join should succeed")
	}
	if room.Join(alice) {
		t.Fatal("double join should be a no-op")
	}
	room.Join(bob)

	if got := room.MemberCount(); got != 2 {
		t.Fatalf("member count = %d", got)
	}
	if room.HostUserID != 1 {
		t.Fatalf("first member should be host, got %d", room.HostUserID)
	}
	if !room.IsMember(bob) {
		t.Fatal("bob should be a member")
	}
	if got := room.MemberByUserID(2); got != bob {
		t.Fatalf("MemberByUserID(2) = %v", got)
	}
}

func TestRoomLeaveReassignsHostInJoinOrder(t *testing.T) {
	room := NewRoom(1, "general", 0)

	alice := authedSession(1, "alice")
	bob := authedSession(2, "bob")
	carol := authedSession(3, "carol")
	room.Join(alice)
	room.Join(bob)
	room.Join(carol)

	newHost, empty := room.Leave(alice)
	if empty {
		t.Fatal("room should not be empty")
	}
	if newHost != bob {
		t.Fatalf("expected earliest remaining joiner as host, got %v", newHost)
	}
	if room.HostUserID != 2 {
		t.Fatalf("host user id = %d", room.HostUserID)
	}

	// A non-host leaving does not touch the host role.
	newHost, empty = room.Leave(carol)
	if newHost != nil || empty {
		t.Fatalf("unexpected leave result: %v, %v", newHost, empty)
	}

	newHost, empty = room.Leave(bob)
	if newHost != nil || !empty {
		t.Fatalf("last leave should empty the room: %v, %v", newHost, empty)
	}
}

func TestRoomLeaveNonMember(t *testing.T) {
	room := NewRoom(1, "general", 0)
	alice := authedSession(1, "alice")
	stranger := authedSession(2, "bob")
	room.Join(alice)

	newHost, empty := room.Leave(stranger)
	if newHost != nil || empty {
		t.Fatalf("leave of non-member must not change the room: %v, %v", newHost, empty)
	}
	if room.MemberCount() != 1 {
		t.Fatal("membership changed")
	}
}

func TestRoomBroadcastOrderAndDrops(t *testing.T) {
	room := NewRoom(1, "general", 0)

	alice := authedSession(1, "alice")
	bob := authedSession(2, "bob")
	closed := authedSession(3, "carol")
	room.Join(alice)
	room.Join(bob)
	room.Join(closed)
	closed.Close()

	if dropped := room.Broadcast("text?room_id:1/user_id:1/name:alice/text:hi"); dropped != 1 {
		t.Fatalf("expected 1 dropped delivery, got %d", dropped)
	}

	for _, s := range []*Session{alice, bob} {
		select {
		case line := <-s.Out():
			if line != "text?room_id:1/user_id:1/name:alice/text:hi" {
				t.Fatalf("unexpected line %q", line)
			}
		default:
			t.Fatal("member did not receive broadcast")
		}
	}
}
