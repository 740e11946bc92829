// Package apierr defines the wire-facing error catalogue for the chat
// broker (spec §7). Handlers return these sentinel errors (or wrap them
// with %w) and the gateway/API boundary translates them to system:error
// frames or REST error bodies.
package apierr

import "errors"

// Code is a stable wire identifier for a class of error.
type Code string

const (
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInvalidSession     Code = "INVALID_SESSION"
	CodeSessionNotFound    Code = "SESSION_NOT_FOUND"
	CodeEmptyMessage       Code = "EMPTY_MESSAGE"
	CodeInvalidMessageKind Code = "INVALID_MESSAGE_KIND"
	CodeAlreadyAssigned    Code = "ALREADY_ASSIGNED"
	CodeAtCapacity         Code = "AT_CAPACITY"
	CodeNotOnline          Code = "NOT_ONLINE"
	CodeNotAssigned        Code = "NOT_ASSIGNED"
	CodeTargetNotOnline    Code = "TARGET_NOT_ONLINE"
	CodeTargetAtCapacity   Code = "TARGET_AT_CAPACITY"
	CodeInvalidRating      Code = "INVALID_RATING"
	CodeInitFailed         Code = "INIT_FAILED"
	CodeSendFailed         Code = "SEND_FAILED"
	CodeResolveFailed      Code = "RESOLVE_FAILED"
	CodeTransferFailed     Code = "TRANSFER_FAILED"
	CodeRatingFailed       Code = "RATING_FAILED"
	CodeServerError        Code = "SERVER_ERROR"
)

// Error is a sentinel, wire-mappable error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

func newErr(code Code, msg string) *Error { return &Error{Code: code, Message: msg} }

var (
	ErrUnauthorized     = newErr(CodeUnauthorized, "missing or invalid credential")
	ErrInvalidSession   = newErr(CodeInvalidSession, "session does not match bound principal")
	ErrSessionNotFound  = newErr(CodeSessionNotFound, "session not found")
	ErrEmptyMessage     = newErr(CodeEmptyMessage, "message content is empty")
	ErrInvalidMessageKind = newErr(CodeInvalidMessageKind, "message kind must be text, image, or file")
	ErrAlreadyAssigned  = newErr(CodeAlreadyAssigned, "session already assigned")
	ErrAtCapacity       = newErr(CodeAtCapacity, "agent is at capacity")
	ErrNotOnline        = newErr(CodeNotOnline, "agent is not online")
	ErrNotAssigned      = newErr(CodeNotAssigned, "agent is not assigned to this session")
	ErrTargetNotOnline  = newErr(CodeTargetNotOnline, "transfer target is not online")
	ErrTargetAtCapacity = newErr(CodeTargetAtCapacity, "transfer target is at capacity")
	ErrInvalidRating    = newErr(CodeInvalidRating, "rating must be between 1 and 5")
	ErrInitFailed       = newErr(CodeInitFailed, "failed to initialize chat")
	ErrSendFailed       = newErr(CodeSendFailed, "failed to send message")
	ErrResolveFailed    = newErr(CodeResolveFailed, "failed to resolve chat")
	ErrTransferFailed   = newErr(CodeTransferFailed, "failed to transfer chat")
	ErrRatingFailed     = newErr(CodeRatingFailed, "failed to set rating")
	ErrServerError      = newErr(CodeServerError, "internal server error")
)

// CodeOf extracts the wire Code from err, falling back to SERVER_ERROR for
// anything that isn't one of ours.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeServerError
}

// MessageOf extracts a client-safe message, falling back to a generic one.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
