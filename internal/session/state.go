// Package session implements the live-recording session state machine and
// its orchestration of capture, recognition, and transcript accumulation.
package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a recording session.
type State int

const (
	// StateIdle - no session; start is allowed.
	StateIdle State = iota
	// StateConnecting - acquiring device and credential, opening the
	// recognition connection.
	StateConnecting
	// StateRecording - capturing and recognizing.
	StateRecording
	// StatePaused - recognition torn down, device and level monitor kept.
	StatePaused
	// StateStopping - final flush and teardown in progress.
	StateStopping
	// StateStopped - session finalized; start is allowed again.
	StateStopped
	// StateError - a fatal acquisition failure; start is allowed (retry).
	StateError
)

// String returns the wire representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Errors for invalid commands.
var (
	ErrSessionActive = errors.New("session: a session is already active")
	ErrNotRecording  = errors.New("session: not recording")
	ErrNotPaused     = errors.New("session: not paused")
	ErrStartCanceled = errors.New("session: start canceled by stop")
)

// Stop reasons recorded on finalization.
const (
	StopReasonUser      = "user"
	StopReasonTimeLimit = "time_limit"
)
