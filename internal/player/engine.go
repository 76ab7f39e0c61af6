// Package player implements the streaming playback engine: it turns the
// compressed bytes pulled from a source into rendered PCM, coordinating the
// entry queue, the playback state machine, the decoded-frame ring buffer and
// the backpressure protocol between the asynchronous ingestion path and the
// real-time render callback.
package player

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmenard/wavecast/internal/config"
	"github.com/lmenard/wavecast/internal/decoder"
	"github.com/lmenard/wavecast/internal/log"
	"github.com/lmenard/wavecast/internal/output"
	"github.com/lmenard/wavecast/internal/source"
)

const (
	// defaultSampleRate seeds entries until the decoder reports the
	// stream's real rate.
	defaultSampleRate = 44100

	// maxDecodedSampleRate sizes the ring: the highest rate the decoders
	// produce, so the configured buffered seconds fit at any stream rate.
	maxDecodedSampleRate = 48000

	// defaultTickInterval drives the ingestion loop between wake-ups.
	defaultTickInterval = 500 * time.Millisecond

	// minFreeFrames is the ring headroom required before ingestion reads
	// more source bytes, so one decode burst always fits. Clamped to half
	// the ring capacity so small buffers still admit reads.
	minFreeFrames = 16384
)

// SourceFactory builds a source for a locator.
type SourceFactory func(locator string, headers map[string]string) (source.Source, error)

// Engine is the public playback coordinator.
//
// All methods are safe to call from any goroutine. Long-running work is
// dispatched onto the single ingestion goroutine; public methods only take
// the player state lock for short transitions.
type Engine struct {
	cfg  config.Config
	sink output.Sink

	state    *playerState
	queue    *entryQueue
	ring     *frameRing
	render   *renderProcessor
	signal   *backpressureSignal
	notifier *notifier

	newSource  SourceFactory
	newDecoder decoder.Factory

	decMu sync.Mutex
	dec   decoder.Decoder

	readBuf []byte
	minFree int // effective read headroom, minFreeFrames clamped to the ring

	entrySeq      atomic.Int64
	graceUntil    atomic.Int64 // unix nanos; post-seek underrun suppression
	pendingSrcErr atomic.Pointer[sourceFailure]

	volume float64 // guarded by state.mu
	rate   float64 // guarded by state.mu

	tickInterval time.Duration
	wakeCh       chan struct{}
	seekCh       chan float64
	stopCh       chan struct{}
	loopDone     chan struct{}
	disposed     atomic.Bool
}

type sourceFailure struct {
	src source.Source
	err error
}

// Option customizes engine construction.
type Option func(*Engine)

// WithSourceFactory overrides how locators become sources.
func WithSourceFactory(f SourceFactory) Option {
	return func(e *Engine) { e.newSource = f }
}

// WithDecoderFactory overrides how decoders are chosen.
func WithDecoderFactory(f decoder.Factory) Option {
	return func(e *Engine) { e.newDecoder = f }
}

// WithTickInterval overrides the ingestion tick, mainly for tests.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickInterval = d
		}
	}
}

// New creates an engine playing through the given sink. The configuration is
// normalized before use; zero values get the documented defaults.
func New(cfg config.Config, sink output.Sink, opts ...Option) *Engine {
	cfg.Normalize()
	log.Setup(cfg.EnableLogs)

	ring := newFrameRing(int(cfg.BufferSizeInSeconds * maxDecodedSampleRate))

	minFree := minFreeFrames
	if half := ring.Capacity() / 2; half < minFree {
		minFree = half
	}

	e := &Engine{
		cfg:          cfg,
		sink:         sink,
		state:        newPlayerState(),
		queue:        newEntryQueue(),
		ring:         ring,
		render:       newRenderProcessor(ring),
		signal:       newBackpressureSignal(),
		notifier:     newNotifier(),
		newSource:    source.Open,
		newDecoder:   decoder.ForLocator,
		readBuf:      make([]byte, cfg.ReadBufferSize),
		minFree:      minFree,
		volume:       1.0,
		rate:         1.0,
		tickInterval: defaultTickInterval,
		wakeCh:       make(chan struct{}, 1),
		seekCh:       make(chan float64, 1),
		stopCh:       make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.ingestLoop()
	return e
}

// SetObserver registers the lifecycle observer; nil unregisters. The engine
// does not own the observer.
func (e *Engine) SetObserver(o Observer) {
	e.notifier.SetObserver(o)
}

// Play interrupts whatever is playing, cancels the pending queue, enqueues
// the locator and begins ingestion. Asynchronous: completion is signaled
// through the observer.
func (e *Engine) Play(locator string, headers map[string]string) {
	if e.disposed.Load() {
		return
	}
	src, err := e.newSource(locator, headers)
	if err != nil {
		e.notifier.Emit(func(o Observer) {
			o.UnexpectedError(fmt.Errorf("%w: %v", ErrDataNotFound, err))
		})
		return
	}
	entry := newPlaybackEntry(src, e.entrySeq.Add(1), defaultSampleRate)

	st := e.state
	st.mu.Lock()
	if st.disposeRequested {
		st.mu.Unlock()
		src.Close()
		return
	}
	cancelled := e.queue.RemoveAll()
	oldReading := st.reading
	oldPlaying := st.playing
	st.reading = nil
	if oldPlaying != nil {
		st.stopReason = StopReasonPendingNext
		e.processFinishPlayingLocked(nil, StopReasonPendingNext)
	}
	e.emitCancelledLocked(cancelled, oldPlaying)
	e.queue.Enqueue(entry, RoleUpcoming)
	e.setStateLocked(StatePendingNext)
	st.mu.Unlock()

	e.flushPipeline()
	closeCancelled(cancelled, oldPlaying)
	if oldReading != nil {
		oldReading.Source().Close()
	}

	log.Infof("player: play %s", locator)
	e.wake()
}

// Queue appends the locator after the current playback without interrupting
// it. When nothing is playing it behaves like Play minus the cancellation.
func (e *Engine) Queue(locator string, headers map[string]string) {
	if e.disposed.Load() {
		return
	}
	src, err := e.newSource(locator, headers)
	if err != nil {
		e.notifier.Emit(func(o Observer) {
			o.UnexpectedError(fmt.Errorf("%w: %v", ErrDataNotFound, err))
		})
		return
	}
	entry := newPlaybackEntry(src, e.entrySeq.Add(1), defaultSampleRate)

	st := e.state
	st.mu.Lock()
	if st.disposeRequested {
		st.mu.Unlock()
		src.Close()
		return
	}
	e.queue.Enqueue(entry, RoleUpcoming)
	if !st.current.IsRunning() && st.current != StatePendingNext && st.current != StatePaused {
		e.setStateLocked(StatePendingNext)
	}
	st.mu.Unlock()

	log.Infof("player: queue %s", locator)
	e.wake()
}

// Stop halts playback, clears the queue and releases the current sources.
// Idempotent: calling it while already stopped is a no-op.
func (e *Engine) Stop() {
	e.stop(StopReasonUserAction)
}

func (e *Engine) stop(reason StopReason) {
	st := e.state
	st.mu.Lock()
	if st.current == StateStopped || st.current == StateDisposed {
		st.mu.Unlock()
		return
	}
	st.stopReason = reason
	oldReading := st.reading
	oldPlaying := st.playing
	st.reading = nil
	cancelled := e.queue.RemoveAll()
	e.processFinishPlayingLocked(nil, reason)
	e.emitCancelledLocked(cancelled, oldPlaying)
	e.setStateLocked(StateStopped)
	st.mu.Unlock()

	e.sink.Stop()
	e.flushPipeline()
	closeCancelled(cancelled, oldPlaying)
	if oldReading != nil {
		oldReading.Source().Close()
	}
	log.Infof("player: stopped (%s)", reason)
}

// emitCancelledLocked notifies the ids of cancelled entries, excluding the
// playing entry, which travels the finish-playing path instead. Caller holds
// the state lock; queuing the notification there pins its order ahead of
// whatever starts next.
func (e *Engine) emitCancelledLocked(cancelled []*PlaybackEntry, playing *PlaybackEntry) {
	ids := make([]EntryID, 0, len(cancelled))
	for _, entry := range cancelled {
		if entry == playing {
			continue
		}
		ids = append(ids, entry.ID())
	}
	if len(ids) == 0 {
		return
	}
	e.notifier.Emit(func(o Observer) { o.DidCancel(ids) })
}

// closeCancelled releases the sources of cancelled entries. The playing
// entry's source is closed by the caller's reading-entry path.
func closeCancelled(cancelled []*PlaybackEntry, playing *PlaybackEntry) {
	for _, entry := range cancelled {
		if entry != playing {
			entry.Source().Close()
		}
	}
}

// Pause suspends a running session. A no-op outside running states. The
// pre-pause state is recorded so Resume restores it exactly.
func (e *Engine) Pause() {
	st := e.state
	st.mu.Lock()
	if !st.current.IsRunning() {
		st.mu.Unlock()
		return
	}
	st.beforePause = st.current
	e.setStateLocked(StatePaused)
	st.mu.Unlock()

	e.sink.SetPaused(true)
	log.Debugf("player: paused")
}

// Resume restores the exact pre-pause state. A no-op unless paused.
func (e *Engine) Resume() {
	st := e.state
	st.mu.Lock()
	if st.current != StatePaused {
		st.mu.Unlock()
		return
	}
	e.setStateLocked(st.beforePause)
	st.mu.Unlock()

	e.sink.SetPaused(false)
	e.wake()
	log.Debugf("player: resumed")
}

// Seek requests a jump to the given position in seconds. Non-blocking and
// latest-wins: a pending unprocessed seek is replaced.
func (e *Engine) Seek(seconds float64) {
	if e.disposed.Load() || seconds < 0 {
		return
	}
	select {
	case e.seekCh <- seconds:
	default:
		// A seek is pending; drop it and install the newer target.
		select {
		case <-e.seekCh:
		default:
		}
		select {
		case e.seekCh <- seconds:
		default:
		}
	}
}

// Duration returns the current entry's duration in seconds. Zero while no
// entry is installed or the engine is between entries. Streaming entries
// with unknown duration report observed progress instead, so duration never
// trails progress.
func (e *Engine) Duration() float64 {
	st := e.state
	st.mu.Lock()
	defer st.mu.Unlock()
	entry := e.currentEntryLocked()
	if entry == nil {
		return 0
	}
	d := entry.Duration()
	if p := entry.Progress(); p > d {
		return p
	}
	return d
}

// Progress returns the playback position in seconds:
// seekTime + framesPlayed/sampleRate. Zero while no entry is installed.
func (e *Engine) Progress() float64 {
	st := e.state
	st.mu.Lock()
	defer st.mu.Unlock()
	entry := e.currentEntryLocked()
	if entry == nil {
		return 0
	}
	return entry.Progress()
}

// currentEntryLocked resolves the entry duration/progress refer to. Nil
// while pendingNext: the previous entry is gone and the next one is not
// installed yet.
func (e *Engine) currentEntryLocked() *PlaybackEntry {
	st := e.state
	if st.current == StatePendingNext {
		return nil
	}
	if st.playing != nil {
		return st.playing
	}
	return st.reading
}

// State returns the current internal state.
func (e *Engine) State() InternalState {
	st := e.state
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// LastStopReason returns why the most recent playback ended,
// StopReasonNone before anything stopped.
func (e *Engine) LastStopReason() StopReason {
	st := e.state
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stopReason
}

// SetVolume sets output volume, clamped to [0, 1].
func (e *Engine) SetVolume(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	st := e.state
	st.mu.Lock()
	e.volume = level
	st.mu.Unlock()
	e.sink.SetVolume(level)
}

// Volume returns the last set volume level.
func (e *Engine) Volume() float64 {
	st := e.state
	st.mu.Lock()
	defer st.mu.Unlock()
	return e.volume
}

// SetMuted silences output without touching the volume level.
func (e *Engine) SetMuted(muted bool) {
	st := e.state
	st.mu.Lock()
	st.muted = muted
	st.mu.Unlock()
	e.sink.SetMuted(muted)
}

// Muted reports whether output is muted.
func (e *Engine) Muted() bool {
	st := e.state
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.muted
}

// SetRate adjusts playback speed; 1.0 is normal.
func (e *Engine) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	st := e.state
	st.mu.Lock()
	e.rate = rate
	st.mu.Unlock()
	e.sink.SetRate(rate)
}

// Rate returns the last set playback rate.
func (e *Engine) Rate() float64 {
	st := e.state
	st.mu.Lock()
	defer st.mu.Unlock()
	return e.rate
}

// Dispose permanently shuts the engine down: the poison pill is set first so
// no further transitions occur, then the ingestion goroutine is joined and
// every resource released. The engine cannot be reused afterwards.
func (e *Engine) Dispose() {
	if !e.disposed.CompareAndSwap(false, true) {
		return
	}

	st := e.state
	st.mu.Lock()
	st.disposeRequested = true
	st.mu.Unlock()

	close(e.stopCh)
	<-e.loopDone

	st.mu.Lock()
	st.stopReason = StopReasonDisposed
	oldReading := st.reading
	oldPlaying := st.playing
	st.reading = nil
	cancelled := e.queue.RemoveAll()
	e.processFinishPlayingLocked(nil, StopReasonDisposed)
	e.emitCancelledLocked(cancelled, oldPlaying)
	e.setStateLocked(StateDisposed)
	st.mu.Unlock()

	e.sink.Stop()
	e.flushPipeline()
	closeCancelled(cancelled, oldPlaying)
	if oldReading != nil {
		oldReading.Source().Close()
	}

	e.notifier.Close()
	log.Infof("player: disposed")
}

// setStateLocked transitions the state machine and queues the notification.
// Caller holds the state lock. Once dispose is requested only the final
// transition to Disposed may pass.
func (e *Engine) setStateLocked(to InternalState) {
	st := e.state
	if st.disposeRequested && to != StateDisposed {
		return
	}
	prev := st.current
	if prev == to {
		return
	}
	st.current = to
	log.Debugf("player: state %s -> %s", prev, to)
	e.notifier.Emit(func(o Observer) { o.StateChanged(to, prev) })
}

// processFinishPlayingLocked is the single choke point that reassigns the
// playing entry. Caller holds the state lock. The previous entry, if any,
// gets its DidFinishPlaying with the given reason.
func (e *Engine) processFinishPlayingLocked(next *PlaybackEntry, reason StopReason) {
	st := e.state
	prev := st.playing
	if prev == next {
		return
	}
	st.playing = next
	e.render.setPlaying(next)
	if next == nil {
		e.render.setGate(false)
	}

	if prev != nil {
		id := prev.ID()
		progress, duration := prev.Progress(), prev.Duration()
		if duration < progress {
			duration = progress
		}
		e.notifier.Emit(func(o Observer) {
			o.DidFinishPlaying(id, reason, progress, duration)
		})
	}
	if next != nil {
		id := next.ID()
		e.notifier.Emit(func(o Observer) { o.DidStartPlaying(id) })
	}
}

// wake nudges the ingestion loop without waiting for the tick.
func (e *Engine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}
