package authn

import (
	"errors"
	"fmt"
)

// Kind classifies authentication failures so callers can react without
// parsing messages. Upstream OAuth error details stay in the error for
// logs, never for display.
type Kind int

const (
	KindUnknown Kind = iota
	// could not construct a valid authorization request
	KindAuthorizationSetup
	// the end user or the authorization server explicitly declined
	KindAuthorizationDenied
	// callback carried neither a code nor an error
	KindMissingCode
	// state absent, already consumed or mismatched; possible CSRF
	KindInvalidState
	// network or protocol failure during the code-for-token exchange
	KindTokenExchange
	// no session on file for the subject
	KindNoSession
	// refresh attempt failed; the stale session is not used
	KindSessionRefresh
	// failure during an authenticated call after the flow itself
	KindUpstreamProtocol
)

func (k Kind) String() string {
	switch k {
	case KindAuthorizationSetup:
		return "authorization_setup"
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindMissingCode:
		return "missing_code"
	case KindInvalidState:
		return "invalid_state"
	case KindTokenExchange:
		return "token_exchange"
	case KindNoSession:
		return "no_session"
	case KindSessionRefresh:
		return "session_refresh"
	case KindUpstreamProtocol:
		return "upstream_protocol"
	}
	return "unknown"
}

// Error is the failure type surfaced by the flow, factory and facade.
// Code and Description carry upstream OAuth error fields verbatim when
// present.
type Error struct {
	Kind        Kind
	Code        string
	Description string
	cause       error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Code)
	}
	if e.Description != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Description)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same Kind, so callers can probe with
// errors.Is(err, authn.ErrNoSession).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, cause error, description string) *Error {
	return &Error{Kind: kind, Description: description, cause: cause}
}

// Sentinels for errors.Is matching, one per Kind.
var (
	ErrAuthorizationSetup  = &Error{Kind: KindAuthorizationSetup}
	ErrAuthorizationDenied = &Error{Kind: KindAuthorizationDenied}
	ErrMissingCode         = &Error{Kind: KindMissingCode}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrTokenExchange       = &Error{Kind: KindTokenExchange}
	ErrNoSession           = &Error{Kind: KindNoSession}
	ErrSessionRefresh      = &Error{Kind: KindSessionRefresh}
	ErrUpstreamProtocol    = &Error{Kind: KindUpstreamProtocol}
)

// KindOf extracts the Kind of an error produced by this package,
// KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
