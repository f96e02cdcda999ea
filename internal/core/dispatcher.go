package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/dykim-dev/talkline-server/internal/auth"
	"github.com/dykim-dev/talkline-server/internal/proto"
)

// Dispatcher parses wire frames and routes them to their handlers. The
// handler table is built once at construction; dispatch is by exact command
// name. Account commands (create_user, login_user, login_token) run on the
// connection's goroutine so bcrypt never stalls the hub; room commands are
// forwarded to the hub and complete before Dispatch returns.
type Dispatcher struct {
	hub       *Hub
	directory *UserDirectory
	tokens    *auth.TokenConfig
	log       *zerolog.Logger
	table     map[string]commandEntry
}

type commandEntry struct {
	required  []string
	needsAuth bool
	handler   func(ctx context.Context, sess *Session, cmd proto.Command) error
}

// NewDispatcher builds the dispatcher and its command table.
func NewDispatcher(hub *Hub, directory *UserDirectory, tokens *auth.TokenConfig, logger *zerolog.Logger) *Dispatcher {
	dp := &Dispatcher{
		hub:       hub,
		directory: directory,
		tokens:    tokens,
		log:       logger,
	}
	dp.table = map[string]commandEntry{
		proto.CmdCreateUser: {required: []string{"id", "password"}, handler: dp.handleCreateUser},
		proto.CmdLoginUser:  {required: []string{"id", "password"}, handler: dp.handleLoginUser},
		proto.CmdLoginToken: {required: []string{"token"}, handler: dp.handleLoginToken},
		proto.CmdCreateRoom: {required: []string{"title"}, needsAuth: true, handler: dp.handleCreateRoom},
		proto.CmdInviteUser: {required: []string{"target_user_id"}, needsAuth: true, handler: dp.handleInviteUser},
		proto.CmdJoinRoom:   {required: []string{"room_id"}, needsAuth: true, handler: dp.handleJoinRoom},
		proto.CmdSendText:   {required: []string{"room_id", "user_id", "text"}, needsAuth: true, handler: dp.handleSendText},
		proto.CmdExitRoom:   {required: []string{"room_id", "user_id"}, needsAuth: true, handler: dp.handleExitRoom},
		proto.CmdKickUser:   {required: []string{"room_id", "user_id", "target_user_id"}, needsAuth: true, handler: dp.handleKickUser},
		proto.CmdGrantHost:  {required: []string{"room_id", "user_id", "target_user_id"}, needsAuth: true, handler: dp.handleGrantHost},
	}
	return dp
}

// Dispatch handles one raw line from a connection. Parse and validation
// failures turn into error replies and never terminate the connection.
func (dp *Dispatcher) Dispatch(ctx context.Context, sess *Session, line string) {
	cmd, err := proto.Parse(line)
	if err != nil {
		dp.log.Warn().Str("session_id", sess.ID).Str("line", line).Msg("malformed message")
		sess.Send(proto.Error("", ReasonMalformedMessage, "expected command?key:value/..."))
		return
	}
	for _, token := range cmd.Dropped {
		dp.log.Warn().Str("session_id", sess.ID).Str("cmd", cmd.Name).Str("token", token).Msg("dropped parameter token without ':'")
	}

	entry, known := dp.table[cmd.Name]
	if !known {
		sess.Send(proto.Error(cmd.Name, ReasonUnknownCommand, ""))
		return
	}
	for _, key := range entry.required {
		if _, present := cmd.Get(key); !present {
			sess.Send(proto.Error(cmd.Name, ReasonMissingParameter, key))
			return
		}
	}
	if entry.needsAuth && !sess.Authenticated() {
		sess.Send(proto.Error(cmd.Name, ReasonNotAuthenticated, "log in first"))
		return
	}

	if err := entry.handler(ctx, sess, cmd); err != nil {
		var perr *ProtocolError
		switch {
		case errors.As(err, &perr):
			sess.Send(proto.Error(cmd.Name, perr.Reason, perr.Message))
		case errors.Is(err, ErrHubStopped), errors.Is(err, context.Canceled):
			// Server is shutting down; the connection is about to close.
		default:
			dp.log.Error().Err(err).Str("session_id", sess.ID).Str("cmd", cmd.Name).Msg("command failed")
			sess.Send(proto.Error(cmd.Name, ReasonPersistence, ""))
		}
	}
}

// Disconnect tears a session down: room departure cascades through the hub,
// the live-session mapping is released, and the session closes. Idempotent.
func (dp *Dispatcher) Disconnect(ctx context.Context, sess *Session) {
	dp.hub.Disconnect(ctx, sess)
	dp.directory.Release(sess)
	sess.Close()
	dp.log.Info().Str("session_id", sess.ID).Msg("session closed")
}

func (dp *Dispatcher) handleCreateUser(ctx context.Context, sess *Session, cmd proto.Command) error {
	loginID, _ := cmd.Get("id")
	password, _ := cmd.Get("password")
	name, ok := cmd.Get("name")
	if !ok {
		name = loginID
	}

	user, err := dp.directory.CreateUser(ctx, loginID, password, name)
	if err != nil {
		return err
	}
	sess.Send(proto.OK(proto.CmdCreateUser, proto.Int64("user_id", user.ID)))
	return nil
}

func (dp *Dispatcher) handleLoginUser(ctx context.Context, sess *Session, cmd proto.Command) error {
	if sess.RoomID() != 0 {
		return protoErr(ReasonAlreadyInRoom, "exit the current room first")
	}
	loginID, _ := cmd.Get("id")
	password, _ := cmd.Get("password")

	user, evicted, err := dp.directory.Authenticate(ctx, sess, loginID, password)
	if err != nil {
		return err
	}

	token, err := auth.GenerateToken(dp.tokens, user.ID, user.LoginID, user.Name)
	if err != nil {
		dp.log.Error().Err(err).Int64("user_id", user.ID).Msg("reconnect token generation failed")
		token = ""
	}

	reply := []proto.Param{proto.Int64("user_id", user.ID), proto.String("name", user.Name)}
	if token != "" {
		reply = append(reply, proto.String("token", token))
	}
	sess.Send(proto.OK(proto.CmdLoginUser, reply...))

	dp.evict(ctx, evicted)
	return nil
}

func (dp *Dispatcher) handleLoginToken(ctx context.Context, sess *Session, cmd proto.Command) error {
	if sess.RoomID() != 0 {
		return protoErr(ReasonAlreadyInRoom, "exit the current room first")
	}
	tokenString, _ := cmd.Get("token")

	claims, err := auth.ValidateToken(dp.tokens, tokenString)
	if err != nil {
		return protoErr(ReasonInvalidCredentials, "invalid or expired token")
	}

	user, evicted, err := dp.directory.AuthenticateToken(ctx, sess, claims.UserID)
	if err != nil {
		return err
	}

	sess.Send(proto.OK(proto.CmdLoginToken, proto.Int64("user_id", user.ID), proto.String("name", user.Name)))
	dp.evict(ctx, evicted)
	return nil
}

// evict closes the session displaced by a newer login for the same user.
func (dp *Dispatcher) evict(ctx context.Context, evicted *Session) {
	if evicted == nil {
		return
	}
	evicted.Send(proto.EvictNotice())
	dp.hub.Disconnect(ctx, evicted)
	evicted.Close()
	dp.log.Info().Str("session_id", evicted.ID).Msg("prior session evicted")
}

func (dp *Dispatcher) handleCreateRoom(ctx context.Context, sess *Session, cmd proto.Command) error {
	title, _ := cmd.Get("title")
	if title == "" {
		return protoErr(ReasonInvalidFormat, "empty title")
	}
	return dp.hub.CreateRoom(ctx, sess, title)
}

func (dp *Dispatcher) handleInviteUser(ctx context.Context, sess *Session, cmd proto.Command) error {
	targetUserID, err := cmd.GetInt64("target_user_id")
	if err != nil {
		return protoErr(ReasonInvalidFormat, "target_user_id must be numeric")
	}

	var roomID int64
	if _, present := cmd.Get("room_id"); present {
		roomID, err = cmd.GetInt64("room_id")
		if err != nil {
			return protoErr(ReasonInvalidFormat, "room_id must be numeric")
		}
	}
	title, _ := cmd.Get("title")
	if roomID == 0 && title == "" {
		return protoErr(ReasonMissingParameter, "room_id or title")
	}

	target, err := dp.directory.Lookup(ctx, targetUserID)
	if err != nil {
		return err
	}
	return dp.hub.InviteUser(ctx, sess, roomID, title, target)
}

func (dp *Dispatcher) handleJoinRoom(ctx context.Context, sess *Session, cmd proto.Command) error {
	roomID, err := cmd.GetInt64("room_id")
	if err != nil {
		return protoErr(ReasonInvalidFormat, "room_id must be numeric")
	}
	return dp.hub.JoinRoom(ctx, sess, roomID)
}

func (dp *Dispatcher) handleSendText(ctx context.Context, sess *Session, cmd proto.Command) error {
	roomID, err := cmd.GetInt64("room_id")
	if err != nil {
		return protoErr(ReasonInvalidFormat, "room_id must be numeric")
	}
	userID, err := cmd.GetInt64("user_id")
	if err != nil {
		return protoErr(ReasonInvalidFormat, "user_id must be numeric")
	}
	text, _ := cmd.Get("text")
	return dp.hub.SendText(ctx, sess, roomID, userID, text)
}

func (dp *Dispatcher) handleExitRoom(ctx context.Context, sess *Session, cmd proto.Command) error {
	roomID, _, err := dp.callerParams(sess, cmd)
	if err != nil {
		return err
	}
	return dp.hub.ExitRoom(ctx, sess, roomID)
}

func (dp *Dispatcher) handleKickUser(ctx context.Context, sess *Session, cmd proto.Command) error {
	roomID, _, err := dp.callerParams(sess, cmd)
	if err != nil {
		return err
	}
	targetUserID, perr := cmd.GetInt64("target_user_id")
	if perr != nil {
		return protoErr(ReasonInvalidFormat, "target_user_id must be numeric")
	}
	return dp.hub.KickUser(ctx, sess, roomID, targetUserID)
}

func (dp *Dispatcher) handleGrantHost(ctx context.Context, sess *Session, cmd proto.Command) error {
	roomID, _, err := dp.callerParams(sess, cmd)
	if err != nil {
		return err
	}
	targetUserID, perr := cmd.GetInt64("target_user_id")
	if perr != nil {
		return protoErr(ReasonInvalidFormat, "target_user_id must be numeric")
	}
	return dp.hub.GrantHost(ctx, sess, roomID, targetUserID)
}

// callerParams parses the room_id/user_id pair carried by room management
// commands and rejects a user_id that lies about the caller's identity.
func (dp *Dispatcher) callerParams(sess *Session, cmd proto.Command) (roomID, userID int64, err error) {
	roomID, perr := cmd.GetInt64("room_id")
	if perr != nil {
		return 0, 0, protoErr(ReasonInvalidFormat, "room_id must be numeric")
	}
	userID, perr = cmd.GetInt64("user_id")
	if perr != nil {
		return 0, 0, protoErr(ReasonInvalidFormat, "user_id must be numeric")
	}
	if userID != sess.UserID() {
		return 0, 0, protoErr(ReasonInvalidFormat, "user_id does not match the authenticated user")
	}
	return roomID, userID, nil
}
