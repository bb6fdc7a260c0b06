// SPDX-License-Identifier: Apache-2.0

// Package rpc implements the north-bound session contract of spec.md §6:
// request/response/notification frames, api_version negotiation, and the
// Connection abstraction over the wire transport. The wire codec itself is
// a non-goal (spec.md §1); this package only carries the session shape so
// a real transport can be plugged in later.
package rpc

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// MinAPIVersion and MaxAPIVersion bound the api_version a hello may
// request, per spec.md §6 ("reject if outside [MIN..MAX]").
const (
	MinAPIVersion = 1
	MaxAPIVersion = 3
)

// Request is a north-bound call expecting a Response, e.g. "callScene".
type Request struct {
	ID     string
	Method string
	Params map[string]any
}

// Response answers a Request by ID. Exactly one of Result/Error is set.
type Response struct {
	ID     string
	Result map[string]any
	Error  *APIError
}

// Notification is a north-bound message with no reply expected, e.g.
// "pushNotification" for a property change.
type Notification struct {
	Method string
	Params map[string]any
}

// APIError is the numeric-coded error object of spec.md §7 ("failed
// methods return an error object with code, message and domain").
type APIError struct {
	Code    int
	Message string
	Domain  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Domain, e.Code, e.Message)
}

// Well-known API error codes, per spec.md §7.
const (
	ErrInvalidParams  = 400
	ErrNoSession      = 401
	ErrUnknownTarget  = 404
	ErrInvalidDSUID   = 415
	ErrVersionMismatch = 505
)

// NegotiateVersion rejects requested if it falls outside [MinAPIVersion,
// MaxAPIVersion], returning the version to use when it is in range.
func NegotiateVersion(requested int) (int, error) {
	if requested < MinAPIVersion || requested > MaxAPIVersion {
		return 0, &APIError{
			Code:    ErrVersionMismatch,
			Message: fmt.Sprintf("api_version %d outside supported range [%d..%d]", requested, MinAPIVersion, MaxAPIVersion),
			Domain:  "session",
		}
	}
	return requested, nil
}

// Connection is the session-level contract a transport must provide;
// a *websocket.Conn satisfies it directly via its ReadJSON/WriteJSON/Close
// methods, so tests can swap in a fake without touching session logic.
type Connection interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

var _ Connection = (*websocket.Conn)(nil)

// Session tracks one north-bound connection's negotiated state, per
// spec.md §6/§7: hello establishes dSUID + api_version; bye or a
// connection error resets it (session connection released, but devices
// stay alive, per spec.md §7).
type Session struct {
	Conn       Connection
	DSUID      string
	APIVersion int
	active     bool
}

// Hello handles the "hello" method: negotiates api_version and records
// the caller's dSUID, per spec.md §6.
func (s *Session) Hello(dsuid string, apiVersion int) (Response, error) {
	v, err := NegotiateVersion(apiVersion)
	if err != nil {
		return Response{Error: err.(*APIError)}, err
	}
	s.DSUID = dsuid
	s.APIVersion = v
	s.active = true
	return Response{Result: map[string]any{"dSUID": dsuid}}, nil
}

// Bye ends the session without affecting any device's state, per
// spec.md §7 ("keeps all devices alive").
func (s *Session) Bye() {
	s.active = false
}

// Active reports whether Hello has run without a subsequent Bye or reset.
func (s *Session) Active() bool { return s.active }

// Reset handles a connection error: the session is dropped so a new
// hello is required, per spec.md §7 ("triggers session reset...but keeps
// all devices alive").
func (s *Session) Reset() {
	s.active = false
	s.DSUID = ""
	s.APIVersion = 0
}
