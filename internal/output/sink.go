// Package output abstracts the audio hardware behind a narrow sink contract.
//
// A Sink periodically pulls frames from the beep.Streamer handed to Start;
// that pull is the engine's real-time render callback. The production sink
// drives the gopxl/beep speaker, tests use ManualSink to invoke the render
// callback by hand.
package output

import "github.com/gopxl/beep/v2"

// Sink is the hardware output contract.
type Sink interface {
	// Start begins pulling from stream, which produces frames at sampleRate.
	// A failure to start the hardware is surfaced as an error.
	Start(stream beep.Streamer, sampleRate int) error

	// Stop halts the hardware request and detaches the stream.
	Stop()

	// SetPaused suspends or resumes pulling without detaching the stream.
	SetPaused(paused bool)

	// SetVolume sets the output volume, level in [0, 1].
	SetVolume(level float64)

	// SetMuted silences output without touching the volume level.
	SetMuted(muted bool)

	// SetRate adjusts the playback rate (1.0 is normal speed).
	SetRate(rate float64)

	// SampleRate reports the rate the hardware consumes at, 0 before Start.
	SampleRate() int

	// Lock and Unlock bracket mutations of state shared with the render
	// callback. The callback never runs while the lock is held.
	Lock()
	Unlock()
}
