package player

import (
	"sync/atomic"

	"github.com/gopxl/beep/v2"
)

// renderProcessor is the real-time consumer. The output sink invokes Stream
// on its render goroutine with a hard deadline, so this path is lock-free:
// it touches only the ring's consumer side, the gate, and the playing
// entry's atomic play counter. No allocation, no blocking, no mutex.
//
// The gate holds rendering to silence until ingestion has buffered enough
// audio (the secondsRequiredToStartPlaying thresholds); without it a few
// early frames would play and immediately re-underrun.
type renderProcessor struct {
	ring *frameRing

	playing   atomic.Pointer[PlaybackEntry]
	gateOpen  atomic.Bool
	underruns atomic.Int64
}

var _ beep.Streamer = (*renderProcessor)(nil)

func newRenderProcessor(ring *frameRing) *renderProcessor {
	return &renderProcessor{ring: ring}
}

// Stream fills samples with decoded frames, padding with silence on
// underrun. Underrun degrades, it never stalls: the callback always
// completes with a full buffer.
func (r *renderProcessor) Stream(samples [][2]float64) (int, bool) {
	n := 0
	if r.gateOpen.Load() {
		n = r.ring.Read(samples)
		if n > 0 {
			if e := r.playing.Load(); e != nil {
				e.addPlayed(int64(n))
			}
		}
		if n < len(samples) {
			// Starved. Flag it; the producer clears the flag and fires the
			// backpressure signal exactly once on its next write.
			r.ring.MarkWaiting()
			r.underruns.Add(1)
		}
	}

	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

// Err implements beep.Streamer. The render path never errors; failures
// travel through the engine's state machine instead.
func (r *renderProcessor) Err() error { return nil }

// setPlaying swaps the entry consumed frames are attributed to.
func (r *renderProcessor) setPlaying(e *PlaybackEntry) {
	r.playing.Store(e)
}

// setGate opens or closes real-frame copying.
func (r *renderProcessor) setGate(open bool) {
	r.gateOpen.Store(open)
}

// takeUnderruns returns and clears the underrun count since the last call.
// Read by the ingestion loop to decide on rebuffering transitions.
func (r *renderProcessor) takeUnderruns() int64 {
	return r.underruns.Swap(0)
}
