package player

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lmenard/wavecast/internal/decoder"
	"github.com/lmenard/wavecast/internal/log"
	"github.com/lmenard/wavecast/internal/source"
)

// ingestLoop is the engine's single ingestion goroutine. Everything that
// pulls bytes, feeds the decoder or advances the state machine between
// entries runs here; the loop wakes on the periodic tick, on explicit nudges
// from the public API and source delegates, on seek requests, and on the
// backpressure signal fired when the starved render callback gets fresh
// frames.
func (e *Engine) ingestLoop() {
	defer close(e.loopDone)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case seconds := <-e.seekCh:
			e.processSeek(seconds)
		case <-ticker.C:
		case <-e.wakeCh:
		case <-e.signal.C():
		}
		e.processSource()
	}
}

// processSource is one ingestion step: advance pending transitions, then pull
// at most one buffer of bytes from the reading entry's source.
func (e *Engine) processSource() {
	st := e.state
	st.mu.Lock()
	if st.disposeRequested {
		st.mu.Unlock()
		return
	}
	cur := st.current
	reading := st.reading
	st.mu.Unlock()

	switch cur {
	case StateInitial, StateStopped, StatePaused, StateErrored, StateDisposed:
		return
	case StatePendingNext:
		e.startNextEntry()
		e.wake()
		return
	}

	if fail := e.pendingSrcErr.Swap(nil); fail != nil {
		e.handleSourceError(fail.src, fail.err)
		return
	}

	e.checkUnderrun()
	e.updateBufferingState()

	if reading == nil {
		e.checkFinished()
		return
	}

	// Backpressure: keep enough ring headroom that one decode burst always
	// lands whole. A full-ish ring means the consumer is behind; wait for the
	// signal or the tick instead of spinning.
	if e.ring.Free() < e.minFree {
		return
	}

	n, err := reading.Source().Read(e.readBuf)
	if n > 0 {
		if perr := e.parseBytes(e.readBuf[:n]); perr != nil {
			e.handleParseError(reading, perr)
			return
		}
		reading.addBytesConsumed(int64(n))
	}
	switch {
	case err == nil:
		// n == 0 with a nil error is a transient stall, not a failure; the
		// next tick or DataAvailable retries.
	case errors.Is(err, io.EOF):
		e.handleEOF(reading)
	default:
		e.handleSourceError(reading.Source(), err)
	}
}

// startNextEntry installs the head of the upcoming queue as the reading
// entry: fresh ring, fresh decoder, source wired to the engine delegate, and
// the output sink started against the render processor.
func (e *Engine) startNextEntry() {
	st := e.state
	st.mu.Lock()
	if st.current != StatePendingNext {
		st.mu.Unlock()
		return
	}
	next := e.queue.Dequeue(RoleUpcoming)
	if next == nil {
		// Pending with nothing queued: settle into Stopped.
		st.stopReason = StopReasonNone
		e.setStateLocked(StateStopped)
		st.mu.Unlock()
		e.sink.Stop()
		return
	}
	st.reading = next
	e.queue.Enqueue(next, RoleBuffering)
	e.setStateLocked(StateWaitingForData)
	st.mu.Unlock()

	// The previous producer is gone (flushed at Play, or closed at EOF), so
	// only the consumer side needs excluding for the reset.
	e.sink.Lock()
	e.ring.Reset()
	e.sink.Unlock()
	e.render.takeUnderruns()

	dec, err := e.newDecoder(next.Source().ID(), frameSink{e})
	if err != nil {
		e.failEntry(next, &AudioSystemError{Kind: FileStreamError, Err: err})
		return
	}
	if err := dec.OpenStream(next.Source().ID()); err != nil {
		e.failEntry(next, &AudioSystemError{Kind: FileStreamError, Err: err})
		return
	}
	e.decMu.Lock()
	e.dec = dec
	e.decMu.Unlock()

	next.Source().Setup(srcDelegate{e})

	if err := e.sink.Start(e.render, defaultSampleRate); err != nil {
		e.failEntry(next, &AudioSystemError{Kind: PlayerStartError, Err: err})
		return
	}
	log.Debugf("player: reading entry %s", next.ID())
}

// parseBytes feeds bytes to the current decoder, if any.
func (e *Engine) parseBytes(p []byte) error {
	e.decMu.Lock()
	dec := e.dec
	e.decMu.Unlock()
	if dec == nil {
		return nil
	}
	return dec.ParseBytes(p)
}

// updateBufferingState applies the buffered-seconds thresholds. Called from
// the ingestion loop and from the frame sink whenever frames land, so the
// WaitingForData -> BufferingInProgress -> Playing chain advances as soon as
// the data allows instead of waiting out a tick.
func (e *Engine) updateBufferingState() {
	st := e.state
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.disposeRequested {
		return
	}
	entry := st.reading
	if entry == nil {
		entry = e.queue.Peek(RoleBuffering)
	}
	if entry == nil {
		return
	}

	rate := entry.SampleRate()
	if rate <= 0 {
		rate = defaultSampleRate
	}
	avail := e.ring.Available()
	buffered := float64(avail) / float64(rate)
	// A stream that hit EOF cannot buffer any further, so whatever it has is
	// enough to start.
	_, eof := entry.lastQueued()
	complete := eof && avail > 0

	if st.current == StateWaitingForData && avail > 0 {
		e.setStateLocked(StateBufferingInProgress)
	}

	switch st.current {
	case StateBufferingInProgress:
		if buffered >= e.cfg.SecondsRequiredToStartPlaying || complete {
			e.beginPlaybackLocked(entry)
		}
	case StateRebuffering:
		if buffered >= e.cfg.SecondsRequiredToStartPlayingAfterBufferUnderrun || complete {
			e.setStateLocked(StatePlaying)
			e.render.setGate(true)
			log.Debugf("player: rebuffered %.2fs, resuming", buffered)
		}
	}
}

// beginPlaybackLocked promotes the buffering entry to playing and opens the
// render gate. Caller holds the state lock.
func (e *Engine) beginPlaybackLocked(entry *PlaybackEntry) {
	e.queue.Remove(entry)
	id := entry.ID()
	e.notifier.Emit(func(o Observer) { o.DidFinishBuffering(id) })
	e.processFinishPlayingLocked(entry, StopReasonEOF)
	e.setStateLocked(StatePlaying)
	e.render.setGate(true)
}

// checkUnderrun converts render starvation into a Rebuffering transition.
// Underruns inside the post-seek grace window are expected (the pipeline was
// just flushed) and ignored.
func (e *Engine) checkUnderrun() {
	if e.render.takeUnderruns() == 0 {
		return
	}
	if time.Now().UnixNano() < e.graceUntil.Load() {
		return
	}
	st := e.state
	st.mu.Lock()
	if st.current == StatePlaying {
		e.render.setGate(false)
		e.setStateLocked(StateRebuffering)
		log.Debugf("player: underrun, rebuffering")
	}
	st.mu.Unlock()
}

// handleEOF finishes the reading side of an entry: record the final frame
// count, release the source, and let checkFinished drive the drain.
func (e *Engine) handleEOF(entry *PlaybackEntry) {
	e.closeDecoder()

	st := e.state
	st.mu.Lock()
	if st.reading != entry {
		st.mu.Unlock()
		return
	}
	entry.markLastFrameQueued()
	st.reading = nil
	st.mu.Unlock()

	entry.Source().Close()
	log.Debugf("player: source EOF for %s (%d frames)", entry.ID(), entry.FramesQueued())
	e.wake()
}

// checkFinished runs while no reading entry exists: once the playing entry's
// buffered tail is fully consumed it is finished with reason EOF and the
// engine advances to the next queued entry or stops.
func (e *Engine) checkFinished() {
	st := e.state
	st.mu.Lock()

	finished := false
	if playing := st.playing; playing != nil {
		_, eof := playing.lastQueued()
		if !eof || e.ring.Available() > 0 {
			st.mu.Unlock()
			return
		}
		st.stopReason = StopReasonEOF
		e.processFinishPlayingLocked(nil, StopReasonEOF)
		e.advanceAfterFinishLocked()
		finished = true
	} else if b := e.queue.Peek(RoleBuffering); b != nil {
		// Degenerate entry: EOF before a single frame decoded. Drop it and
		// move on so an empty stream cannot wedge the queue.
		if _, eof := b.lastQueued(); eof && e.ring.Available() == 0 {
			e.queue.Remove(b)
			id := b.ID()
			log.Warnf("player: entry %s produced no audio", id)
			e.notifier.Emit(func(o Observer) { o.DidCancel([]EntryID{id}) })
			st.stopReason = StopReasonEOF
			e.advanceAfterFinishLocked()
			finished = true
		}
	}
	stopped := st.current == StateStopped
	st.mu.Unlock()

	if finished && stopped {
		e.sink.Stop()
		e.flushPipeline()
	}
}

// advanceAfterFinishLocked moves to the next upcoming entry, or Stopped when
// the queue is empty. Caller holds the state lock.
func (e *Engine) advanceAfterFinishLocked() {
	if e.queue.Len(RoleUpcoming) > 0 {
		e.setStateLocked(StatePendingNext)
		e.wake()
		return
	}
	e.setStateLocked(StateStopped)
}

// failEntry drives the engine into the error state because of the given
// entry. The entry's resources are released on the way.
func (e *Engine) failEntry(entry *PlaybackEntry, err error) {
	st := e.state
	st.mu.Lock()
	st.stopReason = StopReasonError
	if st.reading == entry {
		st.reading = nil
	}
	e.queue.Remove(entry)
	e.processFinishPlayingLocked(nil, StopReasonError)
	e.setStateLocked(StateErrored)
	st.mu.Unlock()

	e.sink.Stop()
	e.flushPipeline()
	entry.Source().Close()

	log.Errorf("player: %v", err)
	e.notifier.Emit(func(o Observer) { o.UnexpectedError(err) })
}

// handleParseError applies the decode failure policy: fatal for the entry
// whose audio the listener is hearing (or about to hear, when nothing is
// playing yet), swallowed for read-ahead of a superseded or queued entry.
func (e *Engine) handleParseError(entry *PlaybackEntry, err error) {
	st := e.state
	st.mu.Lock()
	fatal := st.playing == entry || (st.playing == nil && st.reading == entry)
	st.mu.Unlock()

	if !fatal {
		log.Warnf("player: discarding decode error for non-playing entry %s: %v", entry.ID(), err)
		return
	}
	e.failEntry(entry, fmt.Errorf("%w: %v", ErrStreamParseBytesFailure, err))
}

// handleSourceError applies the source failure policy: fatal when the source
// still belongs to the reading entry, discarded when it is stale.
func (e *Engine) handleSourceError(src source.Source, err error) {
	st := e.state
	st.mu.Lock()
	entry := st.reading
	stale := entry == nil || entry.Source() != src
	st.mu.Unlock()

	if stale {
		log.Warnf("player: discarding error from stale source %s: %v", src.ID(), err)
		return
	}
	e.failEntry(entry, fmt.Errorf("%w: %v", ErrDataNotFound, err))
}

// processSeek repositions the current entry. The decoded pipeline restarts at
// the target: the decoder is rebuilt, the source re-sought, and (policy
// permitting) buffered frames flushed. A grace window suppresses the
// underruns the flush inevitably causes.
func (e *Engine) processSeek(seconds float64) {
	st := e.state
	st.mu.Lock()
	if st.disposeRequested || !(st.current.IsRunning() || st.current == StatePaused) {
		st.mu.Unlock()
		return
	}
	entry := st.reading
	if entry == nil {
		entry = st.playing
	}
	if entry == nil {
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()

	duration := entry.Duration()
	length := entry.Source().Length()
	byteRate := entry.byteRate()
	if duration <= 0 && byteRate > 0 && length > 0 {
		// Duration is only recorded at EOF; estimate it from the observed
		// byte rate so mid-play seeks on finite streams land on target.
		duration = float64(length) / byteRate
	}
	if duration > 0 && seconds > duration {
		seconds = duration
	}

	if e.cfg.FlushOnSeek() {
		e.flushPipeline()
	} else {
		e.closeDecoder()
	}

	var offset int64
	switch {
	case duration > 0 && length > 0:
		offset = int64(seconds / duration * float64(length))
	case byteRate > 0:
		offset = int64(seconds * byteRate)
	}
	if length > 0 && offset > length {
		offset = length
	}
	if offset == 0 {
		// No timeline information at all: the source restarts at the head,
		// so the reported position restarts there too.
		seconds = 0
	}
	entry.resetForSeek(seconds)

	if err := entry.Source().Seek(offset); err != nil {
		e.handleSourceError(entry.Source(), err)
		return
	}

	dec, err := e.newDecoder(entry.Source().ID(), frameSink{e})
	if err == nil {
		err = dec.OpenStream(entry.Source().ID())
	}
	if err != nil {
		e.failEntry(entry, &AudioSystemError{Kind: FileStreamError, Err: err})
		return
	}
	e.decMu.Lock()
	e.dec = dec
	e.decMu.Unlock()

	grace := time.Duration(e.cfg.GracePeriodAfterSeekInSeconds * float64(time.Second))
	e.graceUntil.Store(time.Now().Add(grace).UnixNano())
	e.render.takeUnderruns()

	log.Debugf("player: seek %s to %.2fs (offset %d)", entry.ID(), seconds, offset)
	e.wake()
}

// flushPipeline tears down the active decoder and empties the ring. Draining
// mode releases any producer blocked on a full ring before the decoder close
// waits on it; the sink lock excludes the render consumer for the reset.
func (e *Engine) flushPipeline() {
	e.ring.SetDraining(true)
	e.closeDecoder()
	e.sink.Lock()
	e.ring.Reset()
	e.sink.Unlock()
	e.ring.SetDraining(false)
}

// closeDecoder detaches and closes the current decoder, if any.
func (e *Engine) closeDecoder() {
	e.decMu.Lock()
	dec := e.dec
	e.dec = nil
	e.decMu.Unlock()
	if dec != nil {
		dec.CloseStream()
	}
}

// frameSink is the decoder-facing producer side of the engine: frames go into
// the ring, queued counters advance, the starved consumer gets its
// exactly-once wake, and the buffering thresholds re-evaluate.
type frameSink struct{ e *Engine }

var _ decoder.FrameSink = frameSink{}

func (s frameSink) SetFormat(sampleRate, channels int) {
	e := s.e
	st := e.state
	st.mu.Lock()
	entry := st.reading
	st.mu.Unlock()
	if entry == nil {
		return
	}
	entry.setFormat(sampleRate)
	log.Debugf("player: stream format %d Hz, %d ch", sampleRate, channels)
}

func (s frameSink) WriteFrames(frames []decoder.Frame) int {
	e := s.e
	if e.disposed.Load() {
		return len(frames)
	}
	n := e.ring.Write(frames)
	if n == 0 {
		return 0
	}

	st := e.state
	st.mu.Lock()
	entry := st.reading
	st.mu.Unlock()
	if entry != nil {
		entry.addQueued(int64(n))
	}

	if e.ring.TakeWaiting() {
		e.signal.Fire()
	}
	e.updateBufferingState()
	return n
}

// srcDelegate receives source callbacks on arbitrary goroutines and reduces
// them to wake-ups and a recorded failure; the ingestion loop does the rest.
// Identity checks happen at processing time, so late callbacks from a
// superseded source degrade into no-ops.
type srcDelegate struct{ e *Engine }

var _ source.Delegate = srcDelegate{}

func (d srcDelegate) DataAvailable(s source.Source) {
	d.e.wake()
}

func (d srcDelegate) ErrorOccurred(s source.Source, err error) {
	d.e.pendingSrcErr.Store(&sourceFailure{src: s, err: err})
	d.e.wake()
}

func (d srcDelegate) EndOfFile(s source.Source) {
	// The next Read observes io.EOF; just make it happen promptly.
	d.e.wake()
}

func (d srcDelegate) MetadataReceived(tags map[string]string) {
	d.e.notifier.Emit(func(o Observer) { o.DidReadMetadata(tags) })
}
