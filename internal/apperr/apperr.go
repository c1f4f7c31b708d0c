// Package apperr classifies failures seen by the frontend and turns them
// into messages a household member can act on.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork means the backend could not be reached at all.
	KindNetwork
	// KindAuthExpired is a 401 from the backend.
	KindAuthExpired
	// KindValidation is bad form input caught before any call is made.
	KindValidation
	// KindServer is a 4xx/5xx response carrying a message body.
	KindServer
	// KindInvalidState is a local invariant violation, e.g. saving with no draft.
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthExpired:
		return "auth_expired"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Message is the text shown to the member
// before normalization; Err keeps the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func Network(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Message: "Failed to fetch", Err: err}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func InvalidState(op, msg string) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Message: msg}
}

// Server builds the error for a non-2xx response. An empty detail becomes
// "Request failed (<status>)."
func Server(op string, status int, detail string) *Error {
	kind := KindServer
	if status == 401 {
		kind = KindAuthExpired
	}
	if strings.TrimSpace(detail) == "" {
		detail = fmt.Sprintf("Request failed (%d).", status)
	}
	return &Error{Kind: kind, Op: op, Status: status, Message: detail}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
