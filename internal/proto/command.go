// Package proto implements the textual wire grammar spoken by clients:
// a command name, a '?', then '/'-separated 'key:value' pairs, one frame
// per line. The same grammar is used for server replies and broadcasts.
package proto

import (
	"errors"
	"strconv"
	"strings"
)

// Inbound command names.
const (
	CmdCreateUser = "create_user"
	CmdLoginUser  = "login_user"
	CmdLoginToken = "login_token"
	CmdCreateRoom = "create_room"
	CmdInviteUser = "invite_user"
	CmdJoinRoom   = "join_room"
	CmdSendText   = "send_text"
	CmdExitRoom   = "exit_room"
	CmdKickUser   = "kick_user"
	CmdGrantHost  = "grant_host"
)

// Outbound frame names.
const (
	FrameOK     = "ok"
	FrameError  = "error"
	FrameText   = "text"
	FrameNotice = "notice"
)

// Notice event values.
const (
	EventJoined      = "joined"
	EventLeft        = "left"
	EventKicked      = "kicked"
	EventHostChanged = "host_changed"
	EventEvicted     = "evicted"
)

// ErrMalformed is returned for a line with no '?' separator.
var ErrMalformed = errors.New("malformed message: missing '?'")

// Command is one parsed wire frame.
type Command struct {
	Name   string
	Params map[string]string
	// Dropped holds parameter tokens that had no ':' separator. They are
	// discarded from Params; callers log them.
	Dropped []string
}

// Parse splits a raw line into a command name and its parameter map.
// The line is split on the first '?', the parameter section on '/', and each
// token on the first ':'. When a key repeats, the last occurrence wins.
func Parse(line string) (Command, error) {
	name, rest, found := strings.Cut(line, "?")
	if !found {
		return Command{}, ErrMalformed
	}

	cmd := Command{Name: name, Params: make(map[string]string)}
	if rest == "" {
		return cmd, nil
	}

	for _, token := range strings.Split(rest, "/") {
		if token == "" {
			continue
		}
		key, value, ok := strings.Cut(token, ":")
		if !ok {
			cmd.Dropped = append(cmd.Dropped, token)
			continue
		}
		cmd.Params[key] = value
	}
	return cmd, nil
}

// Get returns a parameter value and whether it was present.
func (c Command) Get(key string) (string, bool) {
	v, ok := c.Params[key]
	return v, ok
}

// GetInt64 parses a parameter as a base-10 integer.
func (c Command) GetInt64(key string) (int64, error) {
	v, ok := c.Params[key]
	if !ok {
		return 0, errors.New("missing parameter " + key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.New("parameter " + key + " is not numeric")
	}
	return n, nil
}

// Param is an ordered key/value pair for frame encoding.
type Param struct {
	Key   string
	Value string
}

// Int64 builds a numeric Param.
func Int64(key string, v int64) Param {
	return Param{Key: key, Value: strconv.FormatInt(v, 10)}
}

// String builds a string Param.
func String(key, value string) Param {
	return Param{Key: key, Value: value}
}

// Encode renders a frame in wire form. Parameter order is preserved.
func Encode(name string, params ...Param) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('?')
	for i, p := range params {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(p.Key)
		b.WriteByte(':')
		b.WriteString(p.Value)
	}
	return b.String()
}

// OK renders an acknowledgement frame for the named command.
func OK(cmd string, extra ...Param) string {
	params := append([]Param{String("cmd", cmd)}, extra...)
	return Encode(FrameOK, params...)
}

// Error renders an error frame. cmd may be empty for unparseable lines.
func Error(cmd, reason, detail string) string {
	params := make([]Param, 0, 3)
	if cmd != "" {
		params = append(params, String("cmd", cmd))
	}
	params = append(params, String("reason", reason))
	if detail != "" {
		params = append(params, String("detail", detail))
	}
	return Encode(FrameError, params...)
}

// Text renders a chat broadcast frame.
func Text(roomID, userID int64, name, body string) string {
	return Encode(FrameText,
		Int64("room_id", roomID),
		Int64("user_id", userID),
		String("name", name),
		String("text", body),
	)
}

// MemberNotice renders a joined/left/kicked broadcast frame.
func MemberNotice(event string, roomID, userID int64, name string) string {
	return Encode(FrameNotice,
		Int64("room_id", roomID),
		String("event", event),
		Int64("user_id", userID),
		String("name", name),
	)
}

// HostNotice renders a host_changed broadcast frame.
func HostNotice(roomID, hostUserID int64) string {
	return Encode(FrameNotice,
		Int64("room_id", roomID),
		String("event", EventHostChanged),
		Int64("host_user_id", hostUserID),
	)
}

// EvictNotice renders the frame sent to a session displaced by a newer login.
func EvictNotice() string {
	return Encode(FrameNotice, String("event", EventEvicted))
}
