package source

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDelegate records source callbacks for inspection.
type testDelegate struct {
	mu        sync.Mutex
	available int
	eof       int
	errs      []error
	metadata  []map[string]string
}

func (d *testDelegate) DataAvailable(Source) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available++
}

func (d *testDelegate) ErrorOccurred(_ Source, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func (d *testDelegate) EndOfFile(Source) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eof++
}

func (d *testDelegate) MetadataReceived(tags map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metadata = append(d.metadata, tags)
}

func (d *testDelegate) snapshot() (available, eof int, errs []error, metadata []map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available, d.eof, append([]error(nil), d.errs...), append([]map[string]string(nil), d.metadata...)
}

func TestOpenDispatch(t *testing.T) {
	s, err := Open("http://radio.example/stream.mp3", nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPSource{}, s)

	s, err = Open("HTTPS://radio.example/stream.mp3", nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPSource{}, s)

	s, err = Open("/music/track.mp3", nil)
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, s)

	s, err = Open("relative/track.wav", nil)
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, s)
}

func TestOpenRejectsUnparsableURL(t *testing.T) {
	_, err := Open("http://[::1", nil)
	assert.Error(t, err)
}
