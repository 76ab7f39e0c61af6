// Package source provides the compressed-byte producers the playback engine
// reads from: local files and HTTP streams. A Source is owned by exactly one
// playback entry; the engine pulls bytes from it on the ingestion goroutine
// and receives availability, error, EOF and metadata notifications through
// the Delegate it registers at Setup.
package source

import (
	"fmt"
	"net/url"
	"strings"
)

// Source is a byte producer for one playable unit.
//
// Read and Seek are only called from the engine's ingestion goroutine.
// Delegate callbacks may arrive on arbitrary goroutines, including after the
// owning entry has been superseded; the engine checks source identity before
// acting on them.
type Source interface {
	// Setup registers the delegate and starts whatever background work the
	// source needs (opening the file, issuing the HTTP request). Availability
	// is reported via Delegate.DataAvailable, failures via ErrorOccurred.
	Setup(d Delegate)

	// Seek repositions the byte stream at the given absolute offset.
	Seek(offset int64) error

	// Read copies up to len(p) bytes into p. A zero count with a nil error
	// means no bytes are available right now (transient stall). io.EOF marks
	// the end of the stream.
	Read(p []byte) (int, error)

	// Close releases the source. Further reads fail.
	Close() error

	// ID is a stable identity for the source's locator.
	ID() string

	// Length returns the total byte length, or 0 when unknown (live streams).
	Length() int64
}

// Delegate receives asynchronous source notifications.
type Delegate interface {
	DataAvailable(s Source)
	ErrorOccurred(s Source, err error)
	EndOfFile(s Source)
	MetadataReceived(tags map[string]string)
}

// Open builds a Source for the given locator. http(s) URLs get an HTTPSource,
// everything else is treated as a local file path.
func Open(locator string, headers map[string]string) (Source, error) {
	if isHTTP(locator) {
		u, err := url.Parse(locator)
		if err != nil {
			return nil, fmt.Errorf("source: parse %q: %w", locator, err)
		}
		return NewHTTPSource(u.String(), headers), nil
	}
	return NewFileSource(locator), nil
}

func isHTTP(locator string) bool {
	l := strings.ToLower(locator)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}
