package output

import (
	"sync"

	"github.com/gopxl/beep/v2"
)

// ManualSink is a test double: it performs no I/O and lets the caller drive
// the render callback by hand with Render.
type ManualSink struct {
	mu sync.Mutex

	stream     beep.Streamer
	sampleRate int
	started    bool
	paused     bool
	volume     float64
	muted      bool
	rate       float64

	// StartErr, when set, is returned by Start to simulate hardware failure.
	StartErr error
}

var _ Sink = (*ManualSink)(nil)

// NewManualSink creates a manual sink with a 44100 default device rate.
func NewManualSink() *ManualSink {
	return &ManualSink{volume: 1.0, rate: 1.0, sampleRate: 44100}
}

func (s *ManualSink) Start(stream beep.Streamer, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		return s.StartErr
	}
	s.stream = stream
	s.sampleRate = sampleRate
	s.started = true
	s.paused = false
	return nil
}

func (s *ManualSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = nil
	s.started = false
}

func (s *ManualSink) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

func (s *ManualSink) SetVolume(level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = level
}

func (s *ManualSink) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *ManualSink) SetRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
}

func (s *ManualSink) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

func (s *ManualSink) Lock()   { s.mu.Lock() }
func (s *ManualSink) Unlock() { s.mu.Unlock() }

// Render invokes the render callback for n frames and returns what it
// produced. Returns nil when no stream is attached or the sink is paused.
// The sink mutex is held across the callback, so Lock excludes it the same
// way speaker.Lock excludes the real render goroutine.
func (s *ManualSink) Render(n int) [][2]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || !s.started || s.paused {
		return nil
	}
	samples := make([][2]float64, n)
	s.stream.Stream(samples)
	return samples
}

// Test inspection helpers.

func (s *ManualSink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *ManualSink) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *ManualSink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *ManualSink) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *ManualSink) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}
