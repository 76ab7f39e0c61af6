package player

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmenard/wavecast/internal/config"
	"github.com/lmenard/wavecast/internal/decoder"
	"github.com/lmenard/wavecast/internal/output"
	"github.com/lmenard/wavecast/internal/source"
)

// Test geometry: each source byte decodes to 100 stereo frames at 44100 Hz,
// so the 0.2s start threshold is 8820 frames = 89 bytes.
const testFramesPerByte = 100

type engineFixture struct {
	t    *testing.T
	eng  *Engine
	sink *output.ManualSink
	obs  *recordingObserver

	mu      sync.Mutex
	srcs    map[string]*mockSource
	decs    map[string][]*mockDecoder
	decRate int
}

func newFixture(t *testing.T, mutate func(*config.Config)) *engineFixture {
	t.Helper()

	flush := true
	cfg := config.Config{
		FlushQueueOnSeek:              &flush,
		ReadBufferSize:                64,
		BufferSizeInSeconds:           1.0,
		SecondsRequiredToStartPlaying: 0.2,
		SecondsRequiredToStartPlayingAfterBufferUnderrun: 0.2,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f := &engineFixture{
		t:       t,
		sink:    output.NewManualSink(),
		obs:     &recordingObserver{},
		srcs:    make(map[string]*mockSource),
		decs:    make(map[string][]*mockDecoder),
		decRate: defaultSampleRate,
	}

	f.eng = New(cfg, f.sink,
		WithTickInterval(2*time.Millisecond),
		WithSourceFactory(func(locator string, headers map[string]string) (source.Source, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			src, ok := f.srcs[locator]
			if !ok {
				return nil, fmt.Errorf("no such source %q", locator)
			}
			return src, nil
		}),
		WithDecoderFactory(func(locator string, sink decoder.FrameSink) (decoder.Decoder, error) {
			f.mu.Lock()
			d := newMockDecoder(sink, f.decRate, testFramesPerByte)
			f.decs[locator] = append(f.decs[locator], d)
			f.mu.Unlock()
			return d, nil
		}),
	)
	f.eng.SetObserver(f.obs)
	t.Cleanup(f.eng.Dispose)
	return f
}

func (f *engineFixture) addSource(locator string, bytes int, finished bool) *mockSource {
	src := newMockSource(locator, make([]byte, bytes))
	src.finished = finished
	f.mu.Lock()
	f.srcs[locator] = src
	f.mu.Unlock()
	return src
}

func (f *engineFixture) decoders(locator string) []*mockDecoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mockDecoder(nil), f.decs[locator]...)
}

func (f *engineFixture) setDecoderRate(rate int) {
	f.mu.Lock()
	f.decRate = rate
	f.mu.Unlock()
}

// startPump drives the render callback from a background goroutine, the way
// the hardware would, until the returned stop function is called.
func (f *engineFixture) startPump(framesPerCall int) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			f.sink.Render(framesPerCall)
			time.Sleep(time.Millisecond)
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *engineFixture) waitState(s InternalState) {
	f.t.Helper()
	waitFor(f.t, "state "+s.String(), func() bool { return f.eng.State() == s })
}

// containsSubsequence reports whether want appears in got, in order, with
// arbitrary gaps.
func containsSubsequence(got, want []InternalState) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestEnginePlayThroughToEOF(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("a.mp3", 512, true)

	f.eng.Play("a.mp3", nil)
	f.waitState(StatePlaying)

	stop := f.startPump(4096)
	defer stop()
	f.waitState(StateStopped)

	assert.Equal(t, []EntryID{"a.mp3#1"}, f.obs.startedIDs())

	finished := f.obs.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, EntryID("a.mp3#1"), finished[0].id)
	assert.Equal(t, StopReasonEOF, finished[0].reason)

	wantSeconds := float64(512*testFramesPerByte) / float64(defaultSampleRate)
	assert.InDelta(t, wantSeconds, finished[0].duration, 0.01)
	assert.InDelta(t, finished[0].duration, finished[0].progress, 0.01,
		"a track played to the end finishes with progress at its duration")

	assert.True(t, containsSubsequence(f.obs.stateHistory(), []InternalState{
		StatePendingNext,
		StateWaitingForData,
		StateBufferingInProgress,
		StatePlaying,
		StateStopped,
	}), "state history %v", f.obs.stateHistory())

	assert.True(t, src.isClosed())
	assert.Equal(t, 0.0, f.eng.Progress())
	assert.Equal(t, 0.0, f.eng.Duration())
}

func TestEngineSmallBufferStillIngests(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		// Small enough that the full headroom requirement could never be
		// met; the effective requirement must scale down with the ring.
		c.BufferSizeInSeconds = 0.3
	})
	f.addSource("a.mp3", 512, true)

	f.eng.Play("a.mp3", nil)
	f.waitState(StatePlaying)

	stop := f.startPump(4096)
	defer stop()
	f.waitState(StateStopped)

	finished := f.obs.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, StopReasonEOF, finished[0].reason)
}

func TestEngineHighRateStreamKeepsConfiguredBuffer(t *testing.T) {
	f := newFixture(t, nil)
	f.setDecoderRate(48000)
	f.addSource("a.wav", 512, true)

	require.GreaterOrEqual(t, f.eng.ring.Capacity(), 48000,
		"one configured second must fit at the highest decoded rate")

	f.eng.Play("a.wav", nil)
	f.waitState(StatePlaying)

	stop := f.startPump(4096)
	defer stop()
	f.waitState(StateStopped)

	finished := f.obs.finishedEvents()
	require.Len(t, finished, 1)
	wantSeconds := float64(512*testFramesPerByte) / 48000.0
	assert.InDelta(t, wantSeconds, finished[0].duration, 0.01)
}

func TestEngineBufferingThresholds(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("live.mp3", 50, false) // 5000 frames, below threshold

	f.eng.Play("live.mp3", nil)
	f.waitState(StateBufferingInProgress)

	// Below the start threshold, playback must not begin.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateBufferingInProgress, f.eng.State())
	assert.Empty(t, f.obs.startedIDs())

	src.appendData(make([]byte, 100)) // past the threshold now
	f.waitState(StatePlaying)

	assert.Equal(t, []EntryID{"live.mp3#1"}, f.obs.startedIDs())
	waitFor(t, "buffering notification", func() bool {
		f.obs.mu.Lock()
		defer f.obs.mu.Unlock()
		return len(f.obs.buffered) == 1
	})
}

func TestEnginePauseResumeRestoresState(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("live.mp3", 50, false)

	f.eng.Play("live.mp3", nil)
	f.waitState(StateBufferingInProgress)

	f.eng.Pause()
	f.waitState(StatePaused)
	assert.True(t, f.sink.Paused())

	// Data arriving while paused must not advance the state machine.
	src.appendData(make([]byte, 100))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatePaused, f.eng.State())

	f.eng.Resume()
	assert.False(t, f.sink.Paused())
	f.waitState(StatePlaying)

	assert.True(t, containsSubsequence(f.obs.stateHistory(), []InternalState{
		StateBufferingInProgress,
		StatePaused,
		StateBufferingInProgress,
		StatePlaying,
	}), "pause must resume into the state it interrupted, history %v", f.obs.stateHistory())
}

func TestEnginePauseOutsideRunningIsNoop(t *testing.T) {
	f := newFixture(t, nil)

	f.eng.Pause()
	assert.Equal(t, StateInitial, f.eng.State())
	assert.False(t, f.sink.Paused())

	f.eng.Resume()
	assert.Equal(t, StateInitial, f.eng.State())
}

func TestEngineStopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("a.mp3", 512, true)

	f.eng.Play("a.mp3", nil)
	f.waitState(StatePlaying)

	f.eng.Stop()
	f.waitState(StateStopped)
	f.eng.Stop()
	f.eng.Stop()

	time.Sleep(10 * time.Millisecond)

	finished := f.obs.finishedEvents()
	require.Len(t, finished, 1, "repeated stops must not re-finish the entry")
	assert.Equal(t, StopReasonUserAction, finished[0].reason)

	stops := 0
	for _, s := range f.obs.stateHistory() {
		if s == StateStopped {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
	assert.Equal(t, StopReasonUserAction, f.eng.LastStopReason())
	assert.True(t, src.isClosed())
}

func TestEnginePlayCancelsQueuedExactly(t *testing.T) {
	f := newFixture(t, nil)
	f.addSource("a.mp3", 512, true)
	f.addSource("b.mp3", 512, true)
	f.addSource("c.mp3", 512, true)
	f.addSource("d.mp3", 512, true)

	f.eng.Play("a.mp3", nil)
	f.waitState(StatePlaying)
	f.eng.Queue("b.mp3", nil)
	f.eng.Queue("c.mp3", nil)

	f.eng.Play("d.mp3", nil)
	waitFor(t, "d playing", func() bool {
		ids := f.obs.startedIDs()
		return len(ids) == 2 && ids[1] == "d.mp3#4"
	})

	batches := f.obs.cancelledBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, []EntryID{"b.mp3#2", "c.mp3#3"}, batches[0],
		"cancellation reports exactly the queued entries, not the interrupted one")

	finished := f.obs.finishedEvents()
	require.NotEmpty(t, finished)
	assert.Equal(t, EntryID("a.mp3#1"), finished[0].id)
	assert.Equal(t, StopReasonPendingNext, finished[0].reason)
}

func TestEnginePlayReplacesUnstartedEntry(t *testing.T) {
	f := newFixture(t, nil)
	a := f.addSource("a.mp3", 512, true)
	a.setStalled(true) // a can never buffer, let alone start
	f.addSource("b.mp3", 512, true)

	f.eng.Play("a.mp3", nil)
	f.eng.Play("b.mp3", nil)
	f.waitState(StatePlaying)

	assert.Equal(t, []EntryID{"b.mp3#2"}, f.obs.startedIDs())
	assert.Empty(t, f.obs.finishedEvents(), "an entry that never played does not finish")

	batches := f.obs.cancelledBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, []EntryID{"a.mp3#1"}, batches[0])

	events := f.obs.eventLog()
	cancelIdx, startIdx := -1, -1
	for i, ev := range events {
		switch ev {
		case "cancelled [a.mp3#1]":
			cancelIdx = i
		case "started b.mp3#2":
			startIdx = i
		}
	}
	require.GreaterOrEqual(t, cancelIdx, 0, "event log %v", events)
	require.GreaterOrEqual(t, startIdx, 0, "event log %v", events)
	assert.Less(t, cancelIdx, startIdx,
		"the superseded entry is cancelled before its replacement starts")

	waitFor(t, "superseded source closed", a.isClosed)
}

func TestEngineQueuePlaysSequentially(t *testing.T) {
	f := newFixture(t, nil)
	f.addSource("a.mp3", 200, true)
	f.addSource("b.mp3", 200, true)

	f.eng.Play("a.mp3", nil)
	f.eng.Queue("b.mp3", nil)

	stop := f.startPump(4096)
	defer stop()
	f.waitState(StateStopped)

	assert.Equal(t, []EntryID{"a.mp3#1", "b.mp3#2"}, f.obs.startedIDs())

	finished := f.obs.finishedEvents()
	require.Len(t, finished, 2)
	assert.Equal(t, StopReasonEOF, finished[0].reason)
	assert.Equal(t, StopReasonEOF, finished[1].reason)
	assert.Empty(t, f.obs.cancelledBatches(), "a natural handoff cancels nothing")
}

func TestEngineQueueFromIdleStartsPlayback(t *testing.T) {
	f := newFixture(t, nil)
	f.addSource("a.mp3", 512, true)

	f.eng.Queue("a.mp3", nil)
	f.waitState(StatePlaying)

	assert.Equal(t, []EntryID{"a.mp3#1"}, f.obs.startedIDs())
}

func TestEngineUnderrunRebuffersAndRecovers(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("live.mp3", 100, false) // 10000 frames buffered, then stall

	f.eng.Play("live.mp3", nil)
	f.waitState(StatePlaying)

	// Drain faster than the stalled source can refill.
	stop := f.startPump(4096)
	f.waitState(StateRebuffering)
	stop()

	// Fresh data past the rebuffer threshold resumes playback.
	src.appendData(make([]byte, 100))
	f.waitState(StatePlaying)

	assert.True(t, containsSubsequence(f.obs.stateHistory(), []InternalState{
		StatePlaying,
		StateRebuffering,
		StatePlaying,
	}), "state history %v", f.obs.stateHistory())

	// One session, one entry: rebuffering emits no extra start events.
	assert.Equal(t, []EntryID{"live.mp3#1"}, f.obs.startedIDs())
}

func TestEngineSeekRestartsPipeline(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("a.mp3", 512, true)

	f.eng.Play("a.mp3", nil)
	f.waitState(StatePlaying)

	f.eng.Seek(0.5)
	waitFor(t, "seek applied", func() bool { return len(src.seekOffsets()) == 1 })

	// Each byte decodes to 100 frames at 44100 Hz, so one second of audio
	// costs 441 bytes. The duration is still unknown (no EOF yet); the
	// offset must come from the observed byte rate, not default to zero.
	assert.Equal(t, int64(220), src.seekOffsets()[0],
		"a 0.5s target maps to byte 220 at the observed rate")

	assert.InDelta(t, 0.5, f.eng.Progress(), 0.01,
		"progress rebases on the seek target before any new frame plays")

	decs := f.decoders("a.mp3")
	require.Len(t, decs, 2, "seek rebuilds the decoder")
	waitFor(t, "old decoder closed", func() bool {
		decs[0].mu.Lock()
		defer decs[0].mu.Unlock()
		return decs[0].closedCount > 0
	})
}

func TestEngineSeekPastEndClampsToEstimatedDuration(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("a.mp3", 512, true)

	f.eng.Play("a.mp3", nil)
	f.waitState(StatePlaying)

	f.eng.Seek(60)
	waitFor(t, "seek applied", func() bool { return len(src.seekOffsets()) == 1 })
	assert.Equal(t, int64(512), src.seekOffsets()[0],
		"a target past the end clamps to the last byte")

	// The re-sought source hits EOF at once with nothing left to decode,
	// so the entry finishes naturally.
	f.waitState(StateStopped)
	finished := f.obs.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, StopReasonEOF, finished[0].reason)
	assert.InDelta(t, 512.0/441.0, finished[0].progress, 0.01,
		"the final position is the clamped seek target")
}

func TestEngineSeekWithoutTimelineRestartsAtHead(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("live.mp3", 100, false)
	src.setStalled(true)

	f.eng.Play("live.mp3", nil)
	f.waitState(StateWaitingForData)

	// Nothing decoded yet: no byte rate, no duration. The only reachable
	// position is the head, and the reported position must match it.
	f.eng.Seek(3.0)
	waitFor(t, "seek applied", func() bool { return len(src.seekOffsets()) == 1 })
	assert.Equal(t, int64(0), src.seekOffsets()[0])
	assert.Equal(t, 0.0, f.eng.Progress(),
		"position reports where the source actually is, not the unreachable target")
}

func TestEngineSeekGraceSuppressesRebuffering(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.GracePeriodAfterSeekInSeconds = 5.0
	})
	src := f.addSource("live.mp3", 100, false)

	f.eng.Play("live.mp3", nil)
	f.waitState(StatePlaying)

	src.setStalled(true)
	f.eng.Seek(1.0)
	waitFor(t, "seek applied", func() bool { return len(src.seekOffsets()) == 1 })

	// The flushed ring underruns immediately, but inside the grace window
	// that must not demote the session to rebuffering.
	for i := 0; i < 5; i++ {
		f.sink.Render(4096)
		time.Sleep(3 * time.Millisecond)
	}

	assert.Equal(t, StatePlaying, f.eng.State())
	for _, s := range f.obs.stateHistory() {
		assert.NotEqual(t, StateRebuffering, s)
	}
}

func TestEngineAsyncSourceErrorIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("a.mp3", 512, true)

	f.eng.Play("a.mp3", nil)
	f.waitState(StatePlaying)

	src.failAsync(errors.New("connection reset"))
	f.waitState(StateErrored)

	errs := f.obs.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrDataNotFound)

	finished := f.obs.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, StopReasonError, finished[0].reason)
	assert.True(t, src.isClosed())
}

func TestEngineStaleSourceErrorDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	a := f.addSource("a.mp3", 512, true)
	f.addSource("b.mp3", 100, false)

	f.eng.Play("a.mp3", nil)
	f.waitState(StatePlaying)

	f.eng.Play("b.mp3", nil)
	waitFor(t, "b playing", func() bool {
		ids := f.obs.startedIDs()
		return len(ids) == 2
	})

	// The superseded source fails; nobody cares anymore.
	a.failAsync(errors.New("late failure"))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, StatePlaying, f.eng.State())
	assert.Empty(t, f.obs.errors())
}

func TestEngineParseErrorOnPlayingEntryIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("live.mp3", 100, false)

	f.eng.Play("live.mp3", nil)
	f.waitState(StatePlaying)

	f.decoders("live.mp3")[0].setParseErr(errors.New("garbage frame header"))
	src.appendData(make([]byte, 10))

	f.waitState(StateErrored)
	errs := f.obs.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrStreamParseBytesFailure)
}

func TestEnginePlayUnknownLocator(t *testing.T) {
	f := newFixture(t, nil)

	f.eng.Play("missing.mp3", nil)

	waitFor(t, "error notification", func() bool { return len(f.obs.errors()) == 1 })
	assert.ErrorIs(t, f.obs.errors()[0], ErrDataNotFound)
	assert.Equal(t, StateInitial, f.eng.State(),
		"a locator that cannot resolve leaves the engine untouched")
}

func TestEngineDisposeIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("a.mp3", 512, true)
	f.addSource("b.mp3", 512, true)

	f.eng.Play("a.mp3", nil)
	f.waitState(StatePlaying)

	f.eng.Dispose()
	assert.Equal(t, StateDisposed, f.eng.State())
	assert.True(t, src.isClosed())

	// Everything after dispose is a no-op, including a second dispose.
	f.eng.Dispose()
	f.eng.Play("b.mp3", nil)
	f.eng.Seek(3)
	f.eng.Stop()
	assert.Equal(t, StateDisposed, f.eng.State())
	assert.Equal(t, []EntryID{"a.mp3#1"}, f.obs.startedIDs())
}

func TestEngineProgressAdvancesWithRenderedFrames(t *testing.T) {
	f := newFixture(t, nil)
	f.addSource("live.mp3", 200, false)

	f.eng.Play("live.mp3", nil)
	f.waitState(StatePlaying)

	require.Equal(t, 0.0, f.eng.Progress())

	rendered := f.sink.Render(4410) // 0.1s worth
	require.NotNil(t, rendered)

	assert.InDelta(t, 0.1, f.eng.Progress(), 0.01)
	assert.GreaterOrEqual(t, f.eng.Duration(), f.eng.Progress(),
		"unknown duration reports observed progress, never less")
}

func TestEngineVolumeMuteRate(t *testing.T) {
	f := newFixture(t, nil)

	f.eng.SetVolume(0.5)
	assert.Equal(t, 0.5, f.eng.Volume())
	assert.Equal(t, 0.5, f.sink.Volume())

	f.eng.SetVolume(2.0)
	assert.Equal(t, 1.0, f.eng.Volume(), "volume clamps to [0, 1]")
	f.eng.SetVolume(-1)
	assert.Equal(t, 0.0, f.eng.Volume())

	f.eng.SetMuted(true)
	assert.True(t, f.eng.Muted())
	assert.True(t, f.sink.Muted())

	f.eng.SetRate(1.5)
	assert.Equal(t, 1.5, f.eng.Rate())
	assert.Equal(t, 1.5, f.sink.Rate())
	f.eng.SetRate(0)
	assert.Equal(t, 1.5, f.eng.Rate(), "non-positive rates are rejected")
}

func TestEngineMetadataForwarded(t *testing.T) {
	f := newFixture(t, nil)
	src := f.addSource("live.mp3", 100, false)

	f.eng.Play("live.mp3", nil)
	f.waitState(StatePlaying)

	src.mu.Lock()
	d := src.delegate
	src.mu.Unlock()
	require.NotNil(t, d)
	d.MetadataReceived(map[string]string{"title": "Test Track"})

	waitFor(t, "metadata notification", func() bool {
		f.obs.mu.Lock()
		defer f.obs.mu.Unlock()
		return len(f.obs.metadata) == 1
	})
	f.obs.mu.Lock()
	assert.Equal(t, "Test Track", f.obs.metadata[0]["title"])
	f.obs.mu.Unlock()
}
