// Package decoder turns compressed audio bytes into PCM frames.
//
// Decoders are push-driven: the engine feeds them raw bytes as they arrive
// from the source, and they deliver decoded stereo frames to a FrameSink.
// The sink is the producer side of the engine's frame ring buffer; a decoder
// never talks to the output hardware directly.
package decoder

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned by ForLocator when no decoder matches.
var ErrUnsupportedFormat = errors.New("decoder: unsupported format")

// Frame is one stereo PCM sample pair in the range [-1, 1].
type Frame = [2]float64

// FrameSink receives decoded frames from a decoder.
//
// WriteFrames never blocks: it accepts as many frames as fit and returns the
// count. Decoders keep the remainder and retry; how they pace the retry is
// their business (the MP3 decoder runs its own goroutine, the WAV decoder
// holds leftovers until the next ParseBytes).
type FrameSink interface {
	// SetFormat declares the decoded stream's sample rate and channel count.
	// Called once per stream, before the first WriteFrames.
	SetFormat(sampleRate, channels int)

	// WriteFrames offers decoded frames. Returns how many were accepted.
	WriteFrames(frames []Frame) int
}

// Decoder parses a compressed byte stream.
//
// OpenStream and ParseBytes are only called from the engine's ingestion
// goroutine. Decoded frames reach the engine through the FrameSink, which
// may happen asynchronously (the MP3 decoder decodes on its own goroutine).
type Decoder interface {
	// OpenStream prepares for a new stream. The hint is the entry locator,
	// useful for container probing.
	OpenStream(hint string) error

	// ParseBytes feeds raw source bytes to the decoder. An error means the
	// decoder rejected the stream; the engine treats that as fatal only for
	// the entry that is currently playing.
	ParseBytes(p []byte) error

	// CloseStream tears the decoder down, flushing frames already decoded.
	// Safe to call more than once.
	CloseStream() error
}

// Factory builds a decoder for a locator.
type Factory func(locator string, sink FrameSink) (Decoder, error)

// ForLocator picks a decoder implementation from the locator's extension.
func ForLocator(locator string, sink FrameSink) (Decoder, error) {
	switch ext(locator) {
	case ".mp3":
		return NewMP3Decoder(sink), nil
	case ".wav":
		return NewWAVDecoder(sink), nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

func ext(locator string) string {
	// Strip query strings so URLs like /stream.mp3?token=x resolve.
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		locator = locator[:i]
	}
	return strings.ToLower(filepath.Ext(locator))
}
