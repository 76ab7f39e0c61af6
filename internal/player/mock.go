package player

import (
	"fmt"
	"io"
	"sync"

	"github.com/lmenard/wavecast/internal/decoder"
	"github.com/lmenard/wavecast/internal/source"
)

// mockSource is an in-memory byte source for engine tests. It can stall,
// fail asynchronously through the delegate, and records seeks.
type mockSource struct {
	mu       sync.Mutex
	id       string
	data     []byte
	pos      int
	finished bool // false models a live stream: exhaustion stalls instead of EOF
	stalled  bool
	closed   bool
	delegate source.Delegate
	seeks    []int64
}

var _ source.Source = (*mockSource)(nil)

func newMockSource(id string, data []byte) *mockSource {
	return &mockSource{id: id, data: data, finished: true}
}

func (m *mockSource) Setup(d source.Delegate) {
	m.mu.Lock()
	m.delegate = d
	m.mu.Unlock()
	d.DataAvailable(m)
}

func (m *mockSource) Seek(offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeks = append(m.seeks, offset)
	if offset > int64(len(m.data)) {
		offset = int64(len(m.data))
	}
	m.pos = int(offset)
	return nil
}

func (m *mockSource) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if m.stalled {
		return 0, nil
	}
	if m.pos >= len(m.data) {
		if m.finished {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, m.data[m.pos:])
	m.pos += n
	return n, nil
}

func (m *mockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSource) ID() string { return m.id }

func (m *mockSource) Length() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data))
}

func (m *mockSource) appendData(b []byte) {
	m.mu.Lock()
	m.data = append(m.data, b...)
	d := m.delegate
	m.mu.Unlock()
	if d != nil {
		d.DataAvailable(m)
	}
}

func (m *mockSource) setStalled(stalled bool) {
	m.mu.Lock()
	m.stalled = stalled
	m.mu.Unlock()
}

func (m *mockSource) failAsync(err error) {
	m.mu.Lock()
	d := m.delegate
	m.mu.Unlock()
	if d != nil {
		d.ErrorOccurred(m, err)
	}
}

func (m *mockSource) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockSource) seekOffsets() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.seeks...)
}

// mockDecoder expands every input byte into a fixed number of silent frames,
// so tests can reason about buffered seconds in terms of source bytes. Frames
// the sink refuses are held and retried on the next ParseBytes, like the
// synchronous WAV decoder does.
type mockDecoder struct {
	mu            sync.Mutex
	sink          decoder.FrameSink
	sampleRate    int
	framesPerByte int
	parseErr      error
	opened        bool
	closedCount   int
	pending       []decoder.Frame
}

var _ decoder.Decoder = (*mockDecoder)(nil)

func newMockDecoder(sink decoder.FrameSink, sampleRate, framesPerByte int) *mockDecoder {
	return &mockDecoder{sink: sink, sampleRate: sampleRate, framesPerByte: framesPerByte}
}

func (d *mockDecoder) OpenStream(hint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = true
	d.sink.SetFormat(d.sampleRate, 2)
	return nil
}

func (d *mockDecoder) ParseBytes(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.parseErr; err != nil {
		return err
	}
	frames := d.pending
	d.pending = nil
	frames = append(frames, make([]decoder.Frame, len(p)*d.framesPerByte)...)
	n := d.sink.WriteFrames(frames)
	d.pending = frames[n:]
	return nil
}

func (d *mockDecoder) CloseStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closedCount++
	d.pending = nil
	return nil
}

func (d *mockDecoder) setParseErr(err error) {
	d.mu.Lock()
	d.parseErr = err
	d.mu.Unlock()
}

// recordingObserver captures every notification in arrival order, both in
// per-kind slices and in one interleaved log for cross-kind ordering
// assertions.
type recordingObserver struct {
	mu sync.Mutex

	started   []EntryID
	buffered  []EntryID
	states    []InternalState
	finished  []finishedEvent
	cancelled [][]EntryID
	errs      []error
	metadata  []map[string]string
	events    []string
}

type finishedEvent struct {
	id       EntryID
	reason   StopReason
	progress float64
	duration float64
}

var _ Observer = (*recordingObserver)(nil)

func (r *recordingObserver) DidStartPlaying(id EntryID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
	r.events = append(r.events, fmt.Sprintf("started %s", id))
}

func (r *recordingObserver) DidFinishBuffering(id EntryID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffered = append(r.buffered, id)
	r.events = append(r.events, fmt.Sprintf("buffered %s", id))
}

func (r *recordingObserver) StateChanged(current, previous InternalState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, current)
	r.events = append(r.events, fmt.Sprintf("state %s", current))
}

func (r *recordingObserver) DidFinishPlaying(id EntryID, reason StopReason, progress, duration float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, finishedEvent{id, reason, progress, duration})
	r.events = append(r.events, fmt.Sprintf("finished %s (%s)", id, reason))
}

func (r *recordingObserver) DidCancel(ids []EntryID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, append([]EntryID(nil), ids...))
	r.events = append(r.events, fmt.Sprintf("cancelled %v", ids))
}

func (r *recordingObserver) UnexpectedError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.events = append(r.events, "error")
}

func (r *recordingObserver) DidReadMetadata(tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = append(r.metadata, tags)
	r.events = append(r.events, "metadata")
}

func (r *recordingObserver) startedIDs() []EntryID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EntryID(nil), r.started...)
}

func (r *recordingObserver) stateHistory() []InternalState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InternalState(nil), r.states...)
}

func (r *recordingObserver) finishedEvents() []finishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]finishedEvent(nil), r.finished...)
}

func (r *recordingObserver) cancelledBatches() [][]EntryID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]EntryID(nil), r.cancelled...)
}

func (r *recordingObserver) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recordingObserver) eventLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}
