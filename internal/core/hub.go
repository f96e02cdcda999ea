package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dykim-dev/talkline-server/internal/proto"
	"github.com/dykim-dev/talkline-server/internal/store"
)

// Hub is the reactor that owns the room registry and every room's
// membership. All room mutation funnels through its single goroutine, so
// per-room delivery order equals the hub's processing order and commands
// from one connection are handled in arrival order.
type Hub struct {
	registry  *RoomRegistry
	directory *UserDirectory
	recorder  *Recorder
	store     store.Store
	log       *zerolog.Logger

	queue   chan hubRequest
	stopped chan struct{}
}

type hubRequest struct {
	fn   func(context.Context)
	done chan struct{}
}

// ErrHubStopped is returned by commands issued after the hub shut down.
var ErrHubStopped = errors.New("hub stopped")

// NewHub constructs the hub.
func NewHub(st store.Store, registry *RoomRegistry, directory *UserDirectory, recorder *Recorder, logger *zerolog.Logger) *Hub {
	return &Hub{
		registry:  registry,
		directory: directory,
		recorder:  recorder,
		store:     st,
		log:       logger,
		queue:     make(chan hubRequest, 128),
		stopped:   make(chan struct{}),
	}
}

// Run processes commands until ctx is cancelled. It must be the only
// goroutine that touches the registry or any Room.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.queue:
			req.fn(ctx)
			close(req.done)
		}
	}
}

// do runs fn on the hub goroutine and waits for it to finish, so the
// issuing connection observes the command's effects before its next line
// is dispatched.
func (h *Hub) do(ctx context.Context, fn func(context.Context)) error {
	req := hubRequest{fn: fn, done: make(chan struct{})}
	select {
	case h.queue <- req:
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	}
}

// CreateRoom allocates a persisted room and joins the creator as host.
func (h *Hub) CreateRoom(ctx context.Context, sess *Session, title string) error {
	return h.command(ctx, sess, proto.CmdCreateRoom, func(hctx context.Context) *ProtocolError {
		if sess.RoomID() != 0 {
			return protoErr(ReasonAlreadyInRoom, "exit the current room first")
		}
		room, err := h.registry.Create(hctx, title, sess.UserID())
		if err != nil {
			return asProtocolError(err)
		}
		sess.Send(proto.OK(proto.CmdCreateRoom, proto.Int64("room_id", room.ID)))
		h.joinRoom(room, sess)
		return nil
	})
}

// JoinRoom subscribes the session to a room, creating it on demand.
func (h *Hub) JoinRoom(ctx context.Context, sess *Session, roomID int64) error {
	return h.command(ctx, sess, proto.CmdJoinRoom, func(hctx context.Context) *ProtocolError {
		if sess.RoomID() != 0 {
			return protoErr(ReasonAlreadyInRoom, "exit the current room first")
		}
		room := h.registry.GetOrCreate(hctx, roomID)
		sess.Send(proto.OK(proto.CmdJoinRoom, proto.Int64("room_id", room.ID)))
		h.joinRoom(room, sess)
		return nil
	})
}

// InviteUser joins the target user's live session into a room. Naming an
// unknown room by title creates it with the inviter as host, and the
// inviter joins it too so the host is always a member.
func (h *Hub) InviteUser(ctx context.Context, sess *Session, roomID int64, title string, target *store.User) error {
	return h.command(ctx, sess, proto.CmdInviteUser, func(hctx context.Context) *ProtocolError {
		targetSess := h.lookupLive(target.ID)
		if targetSess == nil {
			return protoErr(ReasonNotFound, "target user has no live session")
		}
		if targetSess.RoomID() != 0 {
			return protoErr(ReasonAlreadyInRoom, "target is already in a room")
		}

		var room *Room
		switch {
		case roomID != 0:
			room = h.registry.GetOrCreate(hctx, roomID)
		case title != "":
			if sess.RoomID() != 0 {
				return protoErr(ReasonAlreadyInRoom, "exit the current room first")
			}
			created, err := h.registry.Create(hctx, title, sess.UserID())
			if err != nil {
				return asProtocolError(err)
			}
			room = created
		default:
			return protoErr(ReasonMissingParameter, "room_id or title required")
		}

		sess.Send(proto.OK(proto.CmdInviteUser, proto.Int64("room_id", room.ID)))
		if room.HostUserID == sess.UserID() && !room.IsMember(sess) && sess.RoomID() == 0 {
			h.joinRoom(room, sess)
		}
		h.joinRoom(room, targetSess)
		return nil
	})
}

// SendText broadcasts a chat message to the session's room and records it.
func (h *Hub) SendText(ctx context.Context, sess *Session, roomID, userID int64, text string) error {
	return h.command(ctx, sess, proto.CmdSendText, func(hctx context.Context) *ProtocolError {
		if userID != sess.UserID() {
			return protoErr(ReasonInvalidFormat, "user_id does not match the authenticated user")
		}
		if sess.RoomID() == 0 || sess.RoomID() != roomID {
			return protoErr(ReasonNotAMember, "not a member of that room")
		}
		room := h.registry.Get(roomID)
		if room == nil {
			return protoErr(ReasonRoomNotFound, "no such room")
		}

		sess.Send(proto.OK(proto.CmdSendText))
		if dropped := room.Broadcast(proto.Text(roomID, userID, sess.UserName(), text)); dropped > 0 {
			h.log.Warn().Int64("room_id", roomID).Int("dropped", dropped).Msg("broadcast skipped slow members")
		}
		// Delivery stands even if the append later fails.
		h.recorder.RecordTalk(h.store, roomID, userID, text, time.Now())
		return nil
	})
}

// ExitRoom removes the session from its room.
func (h *Hub) ExitRoom(ctx context.Context, sess *Session, roomID int64) error {
	return h.command(ctx, sess, proto.CmdExitRoom, func(hctx context.Context) *ProtocolError {
		if sess.RoomID() == 0 || sess.RoomID() != roomID {
			return protoErr(ReasonNotAMember, "not a member of that room")
		}
		room := h.registry.Get(roomID)
		if room == nil {
			return protoErr(ReasonRoomNotFound, "no such room")
		}

		sess.Send(proto.OK(proto.CmdExitRoom))
		h.leaveRoom(room, sess, proto.EventLeft)
		return nil
	})
}

// KickUser forcibly removes a member; host only.
func (h *Hub) KickUser(ctx context.Context, sess *Session, roomID, targetUserID int64) error {
	return h.command(ctx, sess, proto.CmdKickUser, func(hctx context.Context) *ProtocolError {
		room, perr := h.hostRoom(sess, roomID)
		if perr != nil {
			return perr
		}
		target := room.MemberByUserID(targetUserID)
		if target == nil {
			return protoErr(ReasonTargetNotMember, "target is not a member of the room")
		}

		sess.Send(proto.OK(proto.CmdKickUser))
		target.Send(proto.MemberNotice(proto.EventKicked, room.ID, target.UserID(), target.UserName()))
		h.leaveRoom(room, target, proto.EventKicked)
		return nil
	})
}

// GrantHost reassigns the host role to another member; host only.
func (h *Hub) GrantHost(ctx context.Context, sess *Session, roomID, targetUserID int64) error {
	return h.command(ctx, sess, proto.CmdGrantHost, func(hctx context.Context) *ProtocolError {
		room, perr := h.hostRoom(sess, roomID)
		if perr != nil {
			return perr
		}
		target := room.MemberByUserID(targetUserID)
		if target == nil {
			return protoErr(ReasonTargetNotMember, "target is not a member of the room")
		}

		room.HostUserID = targetUserID
		sess.Send(proto.OK(proto.CmdGrantHost))
		room.Broadcast(proto.HostNotice(room.ID, targetUserID))
		if room.Persisted {
			h.recorder.RecordHostChange(h.store, room.ID, targetUserID)
		}
		return nil
	})
}

// Disconnect cascades a session's room departure. Idempotent; part of the
// session teardown path, so it never produces a reply. The room id is read
// on the hub goroutine so a join still sitting in the queue ahead of this
// teardown is observed.
func (h *Hub) Disconnect(ctx context.Context, sess *Session) {
	_ = h.do(ctx, func(hctx context.Context) {
		roomID := sess.RoomID()
		if roomID == 0 {
			return
		}
		room := h.registry.Get(roomID)
		if room == nil || !room.IsMember(sess) {
			return
		}
		h.leaveRoom(room, sess, proto.EventLeft)
	})
}

// command wraps a handler: runs it on the hub goroutine and converts a
// ProtocolError into an error reply to the issuing session.
func (h *Hub) command(ctx context.Context, sess *Session, cmd string, fn func(context.Context) *ProtocolError) error {
	return h.do(ctx, func(hctx context.Context) {
		if perr := fn(hctx); perr != nil {
			sess.Send(proto.Error(cmd, perr.Reason, perr.Message))
		}
	})
}

// hostRoom resolves the room for a host-only command.
func (h *Hub) hostRoom(sess *Session, roomID int64) (*Room, *ProtocolError) {
	if sess.RoomID() == 0 || sess.RoomID() != roomID {
		return nil, protoErr(ReasonNotAMember, "not a member of that room")
	}
	room := h.registry.Get(roomID)
	if room == nil {
		return nil, protoErr(ReasonRoomNotFound, "no such room")
	}
	if room.HostUserID != sess.UserID() {
		return nil, protoErr(ReasonNotHost, "only the host may do that")
	}
	return room, nil
}

// joinRoom inserts the session and tells everyone, the newcomer included.
func (h *Hub) joinRoom(room *Room, sess *Session) {
	hadHost := room.HostUserID != 0
	if !room.Join(sess) {
		return
	}
	if !sess.EnterRoom(room.ID) {
		// The session closed while this command sat in the queue; undo
		// the insert so the room never holds a dead member.
		room.Leave(sess)
		h.registry.RemoveIfEmpty(room.ID)
		return
	}
	if !hadHost && room.Persisted {
		h.recorder.RecordHostChange(h.store, room.ID, room.HostUserID)
	}
	room.Broadcast(proto.MemberNotice(proto.EventJoined, room.ID, sess.UserID(), sess.UserName()))
	h.log.Info().Int64("room_id", room.ID).Int64("user_id", sess.UserID()).Int("members", room.MemberCount()).Msg("joined room")
}

// leaveRoom removes the session, fails the host over if needed, notifies
// the remaining members, and garbage-collects an empty room.
func (h *Hub) leaveRoom(room *Room, sess *Session, event string) {
	newHost, empty := room.Leave(sess)
	sess.LeaveRoom()

	if newHost != nil {
		room.Broadcast(proto.HostNotice(room.ID, newHost.UserID()))
		if room.Persisted {
			h.recorder.RecordHostChange(h.store, room.ID, newHost.UserID())
		}
	}
	if !empty {
		room.Broadcast(proto.MemberNotice(event, room.ID, sess.UserID(), sess.UserName()))
	}
	if empty {
		h.registry.RemoveIfEmpty(room.ID)
	}
	h.log.Info().Int64("room_id", room.ID).Int64("user_id", sess.UserID()).Str("event", event).Bool("room_removed", empty).Msg("left room")
}

func (h *Hub) lookupLive(userID int64) *Session {
	return h.directory.LiveSession(userID)
}
