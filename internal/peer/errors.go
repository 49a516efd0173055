package peer

import (
	"errors"
	"fmt"
)

var (
	ErrProtocolViolation = errors.New("signal contradicts connection role")
	ErrNoConnection      = errors.New("no connection for participant")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrConnectionClosed  = errors.New("connection closed by remote")
	ErrSelfConnection    = errors.New("refusing connection to self")
)

// NegotiationError reports a failure on one participant's connection.
type NegotiationError struct {
	Op       string
	RemoteID string
	Err      error
	Details  string
}

func (e *NegotiationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.RemoteID, e.Err, e.Details)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteID, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func NewError(op, remoteID string, err error) *NegotiationError {
	return &NegotiationError{Op: op, RemoteID: remoteID, Err: err}
}

func WrapError(op, remoteID string, err error, details string) *NegotiationError {
	return &NegotiationError{Op: op, RemoteID: remoteID, Err: err, Details: details}
}
