package player

import "sync"

// InternalState is the playback state machine.
//
// Lifecycle of a typical entry:
//
//	Initial ──play──▶ PendingNext ──install──▶ WaitingForData
//	    WaitingForData ──first frames──▶ BufferingInProgress
//	    BufferingInProgress ──threshold reached──▶ Playing
//	    Playing ──underrun──▶ Rebuffering ──threshold──▶ Playing
//
// Pause is allowed from any running state and records the state it left so
// Resume restores it exactly (a paused-while-buffering session resumes
// buffering, not playing). Stop, Errored and Disposed are terminal for the
// current entry; Disposed is terminal for the engine.
type InternalState int

const (
	StateInitial InternalState = iota
	StatePendingNext
	StateWaitingForData
	StateBufferingInProgress
	StatePlaying
	StateRebuffering
	StatePaused
	StateStopped
	StateDisposed
	StateErrored
)

// String returns the state name for logs and debugging.
func (s InternalState) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StatePendingNext:
		return "PendingNext"
	case StateWaitingForData:
		return "WaitingForData"
	case StateBufferingInProgress:
		return "BufferingInProgress"
	case StatePlaying:
		return "Playing"
	case StateRebuffering:
		return "Rebuffering"
	case StatePaused:
		return "Paused"
	case StateStopped:
		return "Stopped"
	case StateDisposed:
		return "Disposed"
	case StateErrored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// IsRunning reports whether the state is one where ingestion and rendering
// are active. Pause is only permitted from a running state.
func (s InternalState) IsRunning() bool {
	switch s {
	case StateWaitingForData, StateBufferingInProgress, StatePlaying, StateRebuffering:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions can leave this state
// without an explicit Play.
func (s InternalState) IsTerminal() bool {
	return s == StateStopped || s == StateDisposed || s == StateErrored
}

// StopReason records why playback of an entry ended.
type StopReason int

const (
	StopReasonNone StopReason = iota
	StopReasonEOF
	StopReasonUserAction
	StopReasonPendingNext
	StopReasonError
	StopReasonDisposed
)

// String returns the reason name.
func (r StopReason) String() string {
	switch r {
	case StopReasonNone:
		return "None"
	case StopReasonEOF:
		return "EOF"
	case StopReasonUserAction:
		return "UserAction"
	case StopReasonPendingNext:
		return "PendingNext"
	case StopReasonError:
		return "Error"
	case StopReasonDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// playerState is the shared per-player state. One mutex guards every field;
// it is held only for the duration of a read or write, never across a
// blocking call. The reading and playing entry pointers are distinct: the
// reading entry is the one ingestion pulls bytes for, the playing entry is
// the one the render callback attributes consumed frames to.
type playerState struct {
	mu sync.Mutex

	current     InternalState
	beforePause InternalState

	reading *PlaybackEntry
	playing *PlaybackEntry

	muted            bool
	disposeRequested bool
	stopReason       StopReason
}

func newPlayerState() *playerState {
	return &playerState{current: StateInitial}
}
