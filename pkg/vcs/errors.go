package vcs

import (
	"errors"
	"strings"
)

var (
	// ErrNotSupported is returned for capabilities a backend lacks.
	ErrNotSupported = errors.New("not supported for this vcs type")
	// ErrNoSubmodules means the working copy declares no submodules.
	// It is a capability absence, not a failure.
	ErrNoSubmodules = errors.New("no git submodules available")
)

// Error is the single failure type of every backend operation. Output
// carries whatever the tool printed.
type Error struct {
	Msg    string
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
