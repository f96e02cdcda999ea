package core

import "errors"

// Wire-visible error reasons.
const (
	ReasonMalformedMessage   = "malformed_message"
	ReasonUnknownCommand     = "unknown_command"
	ReasonMissingParameter   = "missing_parameter"
	ReasonInvalidFormat      = "invalid_format"
	ReasonDuplicateLogin     = "duplicate_login"
	ReasonDuplicateName      = "duplicate_name"
	ReasonDuplicateTitle     = "duplicate_title"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonNotFound           = "not_found"
	ReasonNotAuthenticated   = "not_authenticated"
	ReasonAlreadyInRoom      = "already_in_room"
	ReasonRoomNotFound       = "room_not_found"
	ReasonNotAMember         = "not_a_member"
	ReasonNotHost            = "not_host"
	ReasonTargetNotMember    = "target_not_member"
	ReasonPersistence        = "persistence_error"
)

// ProtocolError carries a wire-visible reason alongside a human-readable
// message. It is never fatal to the connection; the dispatcher turns it into
// an error reply and leaves session state unchanged.
type ProtocolError struct {
	Reason  string
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

func protoErr(reason, msg string) *ProtocolError {
	return &ProtocolError{Reason: reason, Message: msg}
}

// asProtocolError coerces err into a ProtocolError, folding anything
// unexpected into a persistence failure.
func asProtocolError(err error) *ProtocolError {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr
	}
	return protoErr(ReasonPersistence, err.Error())
}
