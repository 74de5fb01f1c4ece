package portal

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrInvalidMAC     = errors.New("portal: MAC address is not valid")
	ErrUnreachable    = errors.New("portal: host unreachable or transport failure")
	ErrTimeout        = errors.New("portal: request timed out")
	ErrRejected       = errors.New("portal: credentials rejected")
	ErrProtocol       = errors.New("portal: unexpected response shape (unsupported portal version)")
	ErrSessionExpired = errors.New("portal: session token expired")
	ErrNotFound       = errors.New("portal: resource not found")
	ErrUnplayable     = errors.New("portal: item has no playable stream")
)

// Error wraps a sentinel with request context. The sentinel decides policy
// (retryable, renewable, fatal); the rest is diagnosis.
type Error struct {
	Sentinel error
	Action   string // portal action, e.g. "handshake", "get_ordered_list"
	Status   int    // HTTP status when relevant
	Body     string // truncated offending body for protocol errors
	Err      error  // nested lower-level error (e.g. net.Error)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("portal: %s: %v", e.Action, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Sentinel }

// wrapErr builds an *Error around sentinel for action.
func wrapErr(sentinel error, action string, err error) *Error {
	return &Error{Sentinel: sentinel, Action: action, Err: err}
}

const maxErrBody = 512

// protocolErr records the offending body (truncated) for diagnosis.
func protocolErr(action string, body []byte) *Error {
	b := string(body)
	if len(b) > maxErrBody {
		b = b[:maxErrBody] + "..."
	}
	return &Error{Sentinel: ErrProtocol, Action: action, Body: b}
}
