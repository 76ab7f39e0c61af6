package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llehouerou/go-mp3"
)

// mp3FlushInterval paces sink retries when the frame ring is full.
const mp3FlushInterval = 5 * time.Millisecond

// MP3Decoder adapts llehouerou/go-mp3 to the push contract.
//
// go-mp3 pulls from an io.Reader, so the adapter bridges with a pipe:
// ParseBytes writes into the pipe, a decode goroutine reads PCM out of the
// library and pushes frames to the sink. Closing the pipe's write end makes
// the goroutine drain its tail and exit.
type MP3Decoder struct {
	sink FrameSink

	mu   sync.Mutex
	pw   *io.PipeWriter
	pr   *io.PipeReader
	done chan struct{}

	err atomic.Pointer[error]
}

var _ Decoder = (*MP3Decoder)(nil)

// NewMP3Decoder creates an MP3 decoder delivering frames to sink.
func NewMP3Decoder(sink FrameSink) *MP3Decoder {
	return &MP3Decoder{sink: sink}
}

// OpenStream starts the decode goroutine.
func (d *MP3Decoder) OpenStream(_ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw != nil {
		return errors.New("mp3: stream already open")
	}
	d.pr, d.pw = io.Pipe()
	d.done = make(chan struct{})
	d.err.Store(nil)
	go d.decodeLoop(d.pr, d.done)
	return nil
}

// ParseBytes feeds raw MP3 bytes. Returns any decode error raised by the
// goroutine since the last call; bytes fed after a failure are discarded.
func (d *MP3Decoder) ParseBytes(p []byte) error {
	if errp := d.err.Load(); errp != nil {
		return *errp
	}

	d.mu.Lock()
	pw := d.pw
	d.mu.Unlock()
	if pw == nil {
		return errors.New("mp3: stream not open")
	}

	if _, err := pw.Write(p); err != nil {
		// The decode goroutine closed its end, typically because the stream
		// is malformed. Surface its error if it recorded one.
		if errp := d.err.Load(); errp != nil {
			return *errp
		}
		return fmt.Errorf("mp3: feed: %w", err)
	}
	return nil
}

// CloseStream stops feeding, waits for the goroutine to drain, and resets
// the adapter for a new OpenStream.
func (d *MP3Decoder) CloseStream() error {
	d.mu.Lock()
	pw, pr, done := d.pw, d.pr, d.done
	d.pw, d.pr, d.done = nil, nil, nil
	d.mu.Unlock()

	if pw == nil {
		return nil
	}
	pw.Close()
	<-done
	pr.Close()
	return nil
}

func (d *MP3Decoder) decodeLoop(pr *io.PipeReader, done chan struct{}) {
	defer close(done)

	dec, err := mp3.NewDecoder(pr)
	if err != nil {
		d.fail(fmt.Errorf("mp3: open stream: %w", err))
		pr.CloseWithError(err)
		return
	}
	if dec.SampleRate() == 0 {
		err := errors.New("mp3: invalid sample rate")
		d.fail(err)
		pr.CloseWithError(err)
		return
	}

	// go-mp3 always outputs 16-bit stereo.
	d.sink.SetFormat(dec.SampleRate(), 2)

	buf := make([]byte, 8192)
	var pending []Frame
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pending = append(pending, bytesToFrames(buf[:n])...)
			pending = d.flush(pending)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.fail(fmt.Errorf("mp3: decode: %w", err))
			}
			d.flush(pending)
			return
		}
	}
}

// flush pushes pending frames into the sink, pacing retries while the ring
// is full. Returns whatever the sink did not accept before the stream ended.
func (d *MP3Decoder) flush(pending []Frame) []Frame {
	for len(pending) > 0 {
		n := d.sink.WriteFrames(pending)
		if n == 0 {
			time.Sleep(mp3FlushInterval)
			continue
		}
		pending = pending[n:]
	}
	return pending[:0]
}

func (d *MP3Decoder) fail(err error) {
	d.err.Store(&err)
}

// bytesToFrames converts 16-bit little-endian stereo PCM to frames.
func bytesToFrames(p []byte) []Frame {
	frames := make([]Frame, 0, len(p)/4)
	for i := 0; i+4 <= len(p); i += 4 {
		left := int16(binary.LittleEndian.Uint16(p[i:]))    //nolint:gosec // audio samples
		right := int16(binary.LittleEndian.Uint16(p[i+2:])) //nolint:gosec // audio samples
		frames = append(frames, Frame{
			float64(left) / 32768.0,
			float64(right) / 32768.0,
		})
	}
	return frames
}
