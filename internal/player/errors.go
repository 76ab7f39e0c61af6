package player

import (
	"errors"
	"fmt"
)

// AudioSystemErrorKind classifies hardware and stream setup failures.
type AudioSystemErrorKind int

const (
	// PlayerNotFound: the output sink has no usable device.
	PlayerNotFound AudioSystemErrorKind = iota
	// PlayerStartError: the output hardware refused to start.
	PlayerStartError
	// FileStreamError: the decoder could not open the stream.
	FileStreamError
)

func (k AudioSystemErrorKind) String() string {
	switch k {
	case PlayerNotFound:
		return "player not found"
	case PlayerStartError:
		return "player start error"
	case FileStreamError:
		return "file stream error"
	default:
		return "unknown"
	}
}

// AudioSystemError wraps a hardware or decoder setup failure.
type AudioSystemError struct {
	Kind AudioSystemErrorKind
	Err  error
}

func (e *AudioSystemError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("audio system error: %s", e.Kind)
	}
	return fmt.Sprintf("audio system error: %s: %v", e.Kind, e.Err)
}

func (e *AudioSystemError) Unwrap() error { return e.Err }

var (
	// ErrStreamParseBytesFailure: the decoder rejected bytes from the entry
	// that is currently playing.
	ErrStreamParseBytesFailure = errors.New("stream parse bytes failure")

	// ErrDataNotFound: the source reported an error for the active entry.
	ErrDataNotFound = errors.New("data not found")
)
