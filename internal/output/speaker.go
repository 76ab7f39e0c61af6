package output

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

// The speaker package owns the audio device globally and can only be
// initialized once per process.
var (
	speakerInitMu      sync.Mutex
	speakerInitialized bool
	speakerSampleRate  beep.SampleRate
)

// SpeakerSink plays through the gopxl/beep speaker.
//
// The stream chain is ctrl (pause) -> resampler (rate and device rate
// matching) -> volume, mirroring how the speaker is normally driven. The sink
// mutex guards the chain pointers and the control levels: Start and Stop run
// on the engine's ingestion goroutine while the setters arrive from any
// caller goroutine. speaker.Lock only excludes the render pull, never those
// callers.
type SpeakerSink struct {
	mu        sync.Mutex
	ctrl      *beep.Ctrl
	resampler *beep.Resampler
	volume    *effects.Volume

	streamRate  int
	baseRatio   float64
	rate        float64
	volumeLevel float64
	muted       bool
	started     bool
}

var _ Sink = (*SpeakerSink)(nil)

// NewSpeakerSink creates a speaker-backed sink.
func NewSpeakerSink() *SpeakerSink {
	return &SpeakerSink{rate: 1.0, volumeLevel: 1.0}
}

// initSpeaker initializes the device on first use and returns its rate.
func initSpeaker(sampleRate int) (beep.SampleRate, error) {
	speakerInitMu.Lock()
	defer speakerInitMu.Unlock()
	if !speakerInitialized {
		sr := beep.SampleRate(sampleRate)
		if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
			return 0, fmt.Errorf("output: speaker init: %w", err)
		}
		speakerInitialized = true
		speakerSampleRate = sr
	}
	return speakerSampleRate, nil
}

// Start initializes the speaker on first use and begins pulling from stream.
func (s *SpeakerSink) Start(stream beep.Streamer, sampleRate int) error {
	deviceRate, err := initSpeaker(sampleRate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		speaker.Clear()
	}

	s.streamRate = sampleRate
	s.baseRatio = float64(sampleRate) / float64(deviceRate)

	s.ctrl = &beep.Ctrl{Streamer: stream}
	s.resampler = beep.ResampleRatio(4, s.baseRatio*s.rate, s.ctrl)
	s.volume = &effects.Volume{
		Streamer: s.resampler,
		Base:     2,
		Volume:   levelToVolume(s.volumeLevel),
		Silent:   s.muted || s.volumeLevel <= 0,
	}

	speaker.Play(s.volume)
	s.started = true
	return nil
}

// Stop detaches the stream from the speaker.
func (s *SpeakerSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	speaker.Clear()
	s.ctrl = nil
	s.resampler = nil
	s.volume = nil
	s.started = false
}

// SetPaused suspends or resumes the hardware pull.
func (s *SpeakerSink) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return
	}
	speaker.Lock()
	s.ctrl.Paused = paused
	speaker.Unlock()
}

// SetVolume sets the volume level, clamped to [0, 1].
func (s *SpeakerSink) SetVolume(level float64) {
	level = math.Max(0, math.Min(1, level))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumeLevel = level
	if s.volume == nil {
		return
	}
	speaker.Lock()
	s.volume.Volume = levelToVolume(level)
	s.volume.Silent = s.muted || level <= 0
	speaker.Unlock()
}

// SetMuted silences output, preserving the volume level for unmute.
func (s *SpeakerSink) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	if s.volume == nil {
		return
	}
	speaker.Lock()
	s.volume.Silent = muted || s.volumeLevel <= 0
	speaker.Unlock()
}

// SetRate adjusts playback speed; 1.0 is normal.
func (s *SpeakerSink) SetRate(rate float64) {
	if rate <= 0 {
		rate = 1.0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	if s.resampler == nil {
		return
	}
	speaker.Lock()
	s.resampler.SetRatio(s.baseRatio * rate)
	speaker.Unlock()
}

// SampleRate returns the device rate, 0 before the speaker is initialized.
func (s *SpeakerSink) SampleRate() int {
	speakerInitMu.Lock()
	defer speakerInitMu.Unlock()
	if !speakerInitialized {
		return 0
	}
	return int(speakerSampleRate)
}

// Lock excludes the render callback while shared state is mutated.
func (s *SpeakerSink) Lock() { speaker.Lock() }

// Unlock releases the render callback.
func (s *SpeakerSink) Unlock() { speaker.Unlock() }

// levelToVolume converts a 0-1 level to beep's base-2 logarithmic volume.
// 1.0 -> 0 (unchanged), 0.5 -> -1 (half), 0.25 -> -2, and so on.
func levelToVolume(level float64) float64 {
	if level <= 0 {
		return -10
	}
	if level >= 1 {
		return 0
	}
	return math.Log2(level)
}
