package player

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lmenard/wavecast/internal/source"
)

// EntryID identifies one playable unit. Derived from the source locator plus
// a monotonic sequence so replaying the same locator yields a distinct entry.
type EntryID string

// PlaybackEntry is the per-track state: identity, the owned byte source, the
// seek offset and the frame counters.
//
// Two lock domains apply. The entry mutex guards the fields the ingestion
// goroutine mutates (seek time, queued counters, format). The played counter
// is an atomic because its writer is the real-time render callback, which
// must not take a mutex another goroutine can hold for unbounded time.
// Equality is by identity, never by value.
type PlaybackEntry struct {
	id  EntryID
	src source.Source

	mu              sync.Mutex
	seekTime        float64 // seconds
	framesQueued    int64
	bytesConsumed   int64 // source bytes fed to the decoder since start or seek
	lastFrameQueued int64 // total frames at EOF; -1 until EOF observed
	sampleRate      int
	duration        float64 // known duration in seconds, 0 when unknown

	framesPlayed atomic.Int64
}

func newPlaybackEntry(src source.Source, seq int64, defaultRate int) *PlaybackEntry {
	return &PlaybackEntry{
		id:              EntryID(fmt.Sprintf("%s#%d", src.ID(), seq)),
		src:             src,
		lastFrameQueued: -1,
		sampleRate:      defaultRate,
	}
}

// ID returns the entry's stable identity.
func (e *PlaybackEntry) ID() EntryID { return e.id }

// Source returns the entry's byte source.
func (e *PlaybackEntry) Source() source.Source { return e.src }

// SampleRate returns the decoded stream's sample rate.
func (e *PlaybackEntry) SampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampleRate
}

func (e *PlaybackEntry) setFormat(sampleRate int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sampleRate > 0 {
		e.sampleRate = sampleRate
	}
}

// SeekTime returns the entry's current seek offset in seconds.
func (e *PlaybackEntry) SeekTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seekTime
}

// Duration returns the entry's known duration, 0 when unknown.
func (e *PlaybackEntry) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *PlaybackEntry) setDuration(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.duration = seconds
}

// Progress returns seekTime + framesPlayed/sampleRate in seconds.
func (e *PlaybackEntry) Progress() float64 {
	e.mu.Lock()
	seek, rate := e.seekTime, e.sampleRate
	e.mu.Unlock()
	if rate <= 0 {
		return seek
	}
	return seek + float64(e.framesPlayed.Load())/float64(rate)
}

// FramesPlayed returns the monotonic count of frames the render callback
// consumed for this entry.
func (e *PlaybackEntry) FramesPlayed() int64 {
	return e.framesPlayed.Load()
}

// addPlayed is called from the render callback. Lock-free.
func (e *PlaybackEntry) addPlayed(n int64) {
	e.framesPlayed.Add(n)
}

// FramesQueued returns how many decoded frames ingestion queued so far.
func (e *PlaybackEntry) FramesQueued() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.framesQueued
}

func (e *PlaybackEntry) addQueued(n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.framesQueued += n
}

func (e *PlaybackEntry) addBytesConsumed(n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bytesConsumed += n
}

// byteRate returns the observed compressed-byte rate in bytes per second of
// decoded audio, 0 until at least one frame decoded. Seeking uses it to map a
// time target onto a byte offset before the stream's duration is known.
func (e *PlaybackEntry) byteRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.framesQueued <= 0 || e.sampleRate <= 0 || e.bytesConsumed <= 0 {
		return 0
	}
	return float64(e.bytesConsumed) * float64(e.sampleRate) / float64(e.framesQueued)
}

// markLastFrameQueued records the final frame count at EOF.
func (e *PlaybackEntry) markLastFrameQueued() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastFrameQueued = e.framesQueued
	// A finished stream has a known duration now.
	if e.sampleRate > 0 {
		e.duration = e.seekTime + float64(e.lastFrameQueued)/float64(e.sampleRate)
	}
}

// lastQueued returns the final frame count and whether EOF was observed.
func (e *PlaybackEntry) lastQueued() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFrameQueued, e.lastFrameQueued >= 0
}

// resetForSeek rebases the entry at the given time offset: counters restart
// from zero so Progress reflects the seek target.
func (e *PlaybackEntry) resetForSeek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seekTime = seconds
	e.framesQueued = 0
	e.bytesConsumed = 0
	e.lastFrameQueued = -1
	e.framesPlayed.Store(0)
}
