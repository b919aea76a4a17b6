package command

import (
	"errors"
	"fmt"
)

// Kind tags an Outcome. Every command resolves to exactly one kind.
type Kind int

const (
	Success Kind = iota + 1
	RejectedByServer
	AuthenticationRequired
	TransportFailure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RejectedByServer:
		return "rejected_by_server"
	case AuthenticationRequired:
		return "authentication_required"
	case TransportFailure:
		return "transport_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var ErrAuthenticationRequired = errors.New("authentication required")

// StatusError describes a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Outcome is the result of a command. Message is set for RejectedByServer and
// may carry the server's message on Success. Err is set for every kind other
// than Success.
type Outcome[T any] struct {
	Kind       Kind
	Payload    T
	Message    string
	StatusCode int
	Err        error
}

func (o Outcome[T]) OK() bool { return o.Kind == Success }

func succeeded[T any](status int, payload T, message string) Outcome[T] {
	return Outcome[T]{Kind: Success, Payload: payload, Message: message, StatusCode: status}
}

func rejected[T any](status int, message string) Outcome[T] {
	return Outcome[T]{Kind: RejectedByServer, Message: message, StatusCode: status, Err: errors.New(message)}
}

func authRequired[T any]() Outcome[T] {
	return Outcome[T]{Kind: AuthenticationRequired, Message: ErrAuthenticationRequired.Error(), Err: ErrAuthenticationRequired}
}

func failed[T any](status int, err error) Outcome[T] {
	return Outcome[T]{Kind: TransportFailure, Message: err.Error(), StatusCode: status, Err: err}
}
