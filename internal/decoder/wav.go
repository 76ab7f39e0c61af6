package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVDecoder push-parses a RIFF/WAVE stream: chunk headers are consumed
// incrementally as bytes arrive, then PCM samples are converted straight to
// frames. Only uncompressed 16-bit PCM (mono or stereo) is supported, which
// covers what WAV network streams actually carry.
type WAVDecoder struct {
	sink FrameSink

	open       bool
	header     []byte // unparsed bytes while hunting for the data chunk
	inData     bool
	channels   int
	sampleRate int
	carry      []byte  // partial sample bytes between ParseBytes calls
	pending    []Frame // frames the sink did not accept yet
}

var _ Decoder = (*WAVDecoder)(nil)

const wavHeaderMax = 1 << 16

// NewWAVDecoder creates a WAV decoder delivering frames to sink.
func NewWAVDecoder(sink FrameSink) *WAVDecoder {
	return &WAVDecoder{sink: sink}
}

// OpenStream resets the parser for a new stream.
func (d *WAVDecoder) OpenStream(_ string) error {
	if d.open {
		return errors.New("wav: stream already open")
	}
	d.open = true
	d.header = nil
	d.inData = false
	d.channels = 0
	d.sampleRate = 0
	d.carry = nil
	d.pending = nil
	return nil
}

// ParseBytes feeds raw WAV bytes, converting PCM data to frames once the
// header has been consumed.
func (d *WAVDecoder) ParseBytes(p []byte) error {
	if !d.open {
		return errors.New("wav: stream not open")
	}

	if !d.inData {
		d.header = append(d.header, p...)
		rest, err := d.parseHeader()
		if err != nil {
			return err
		}
		if !d.inData {
			if len(d.header) > wavHeaderMax {
				return errors.New("wav: data chunk not found")
			}
			return nil
		}
		d.header = nil
		p = rest
	}

	d.convert(p)
	d.flush()
	return nil
}

// CloseStream flushes remaining frames. Safe to call more than once.
func (d *WAVDecoder) CloseStream() error {
	if !d.open {
		return nil
	}
	d.flush()
	d.open = false
	d.pending = nil
	d.carry = nil
	return nil
}

// parseHeader walks RIFF chunks in d.header until the data chunk starts.
// Returns the bytes following the data chunk header, if reached.
func (d *WAVDecoder) parseHeader() ([]byte, error) {
	buf := d.header
	if len(buf) < 12 {
		return nil, nil
	}
	if string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return nil, errors.New("wav: not a RIFF/WAVE stream")
	}

	off := 12
	for {
		if len(buf) < off+8 {
			return nil, nil // need more bytes for the next chunk header
		}
		id := string(buf[off : off+4])
		size := int(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		off += 8

		switch id {
		case "fmt ":
			if len(buf) < off+size {
				return nil, nil
			}
			if err := d.parseFmt(buf[off : off+size]); err != nil {
				return nil, err
			}
			off += size + size%2 // chunks are word aligned
		case "data":
			if d.sampleRate == 0 {
				return nil, errors.New("wav: data chunk before fmt chunk")
			}
			d.inData = true
			d.sink.SetFormat(d.sampleRate, d.channels)
			return buf[off:], nil
		default:
			// Skip LIST, id3 and friends.
			if len(buf) < off+size {
				return nil, nil
			}
			off += size + size%2
		}
	}
}

func (d *WAVDecoder) parseFmt(b []byte) error {
	if len(b) < 16 {
		return errors.New("wav: short fmt chunk")
	}
	format := binary.LittleEndian.Uint16(b[0:2])
	channels := int(binary.LittleEndian.Uint16(b[2:4]))
	rate := int(binary.LittleEndian.Uint32(b[4:8]))
	bits := binary.LittleEndian.Uint16(b[14:16])

	if format != 1 {
		return fmt.Errorf("wav: unsupported format code %d", format)
	}
	if bits != 16 {
		return fmt.Errorf("wav: unsupported bit depth %d", bits)
	}
	if channels != 1 && channels != 2 {
		return fmt.Errorf("wav: unsupported channel count %d", channels)
	}
	if rate <= 0 {
		return errors.New("wav: invalid sample rate")
	}
	d.channels = channels
	d.sampleRate = rate
	return nil
}

// convert turns PCM bytes into frames, carrying partial samples over to the
// next call.
func (d *WAVDecoder) convert(p []byte) {
	if len(d.carry) > 0 {
		p = append(d.carry, p...)
		d.carry = nil
	}

	stride := 2 * d.channels
	usable := len(p) - len(p)%stride
	if rem := len(p) - usable; rem > 0 {
		d.carry = append(d.carry, p[usable:]...)
	}

	for i := 0; i+stride <= usable; i += stride {
		left := float64(int16(binary.LittleEndian.Uint16(p[i:]))) / 32768.0 //nolint:gosec // audio samples
		right := left
		if d.channels == 2 {
			right = float64(int16(binary.LittleEndian.Uint16(p[i+2:]))) / 32768.0 //nolint:gosec // audio samples
		}
		d.pending = append(d.pending, Frame{left, right})
	}
}

// flush offers pending frames to the sink; leftovers wait for the next call.
func (d *WAVDecoder) flush() {
	for len(d.pending) > 0 {
		n := d.sink.WriteFrames(d.pending)
		if n == 0 {
			return
		}
		d.pending = d.pending[n:]
	}
	d.pending = nil
}
