package engine

import (
	"context"

	"transcode-bridge/internal/domain"
)

const (
	// ReturnCodeSuccess is reported by a session that finished normally.
	ReturnCodeSuccess = 0
	// ReturnCodeStartFailure is reported when the engine process never ran.
	ReturnCodeStartFailure = 1
	// ReturnCodeCancel is reported by a session stopped through its handle or context.
	ReturnCodeCancel = 255
)

// Outcome is the classified result of a finished session.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailure   Outcome = "failure"
)

// Classify maps an engine return code to its outcome.
func Classify(code int) Outcome {
	switch code {
	case ReturnCodeSuccess:
		return OutcomeSuccess
	case ReturnCodeCancel:
		return OutcomeCancelled
	default:
		return OutcomeFailure
	}
}

// Session is the engine's report for one finished command.
type Session struct {
	ReturnCode int
	Output     string
	FailTrace  string
}

// Outcome classifies the session's return code.
func (s Session) Outcome() Outcome {
	return Classify(s.ReturnCode)
}

// Callbacks receive engine notifications for an asynchronous session.
// Any field may be nil.
type Callbacks struct {
	OnComplete func(Session)
	OnLog      func(line string)
	OnProgress func(domain.Progress)
}

// Handle controls a running asynchronous session.
type Handle interface {
	Cancel()
}

// Engine runs transcoding command lines.
type Engine interface {
	// Execute blocks until the command finishes or ctx is done.
	Execute(ctx context.Context, command string) Session
	// ExecuteAsync dispatches the command and returns immediately.
	// OnComplete is called exactly once unless an error is returned.
	ExecuteAsync(command string, cb Callbacks) (Handle, error)
}

// Tail returns at most the last n characters of s.
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
