package receiver

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted  = errors.New("receiver already started")
	ErrUnknownCategory = errors.New("unknown record category")
	ErrDuplicateStream = errors.New("stream already registered")
	ErrUnknownStream   = errors.New("unknown stream")
)

// Status is the last middleware outcome a controller observed.
type Status int32

const (
	StatusOK Status = iota
	StatusConnectFailed
	StatusOpenFailed
	StatusCacheFailed
	StatusSubscribeFailed
	StatusMessageRegisterFailed
	StatusTransitionRegisterFailed
	StatusPollFailed
	StatusShutdown
	StatusAbort
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusConnectFailed:
		return "connect_failed"
	case StatusOpenFailed:
		return "open_failed"
	case StatusCacheFailed:
		return "cache_failed"
	case StatusSubscribeFailed:
		return "subscribe_failed"
	case StatusMessageRegisterFailed:
		return "message_register_failed"
	case StatusTransitionRegisterFailed:
		return "transition_register_failed"
	case StatusPollFailed:
		return "poll_failed"
	case StatusShutdown:
		return "shutdown"
	case StatusAbort:
		return "abort"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// StartupError records which startup step failed.
type StartupError struct {
	Step   string
	Status Status
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s (%s): %v", e.Step, e.Status, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
