package source

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/dhowden/tag"
)

// FileSource reads a local audio file. The whole file is available as soon as
// Setup succeeds, so it reports data availability exactly once.
type FileSource struct {
	path string

	mu     sync.Mutex
	f      *os.File
	length int64
	closed bool
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a source for the given file path. The file is opened
// during Setup, not here.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Setup opens the file, probes its tags, and notifies the delegate.
func (s *FileSource) Setup(d Delegate) {
	f, err := os.Open(s.path)
	if err != nil {
		d.ErrorOccurred(s, fmt.Errorf("source: open %s: %w", s.path, err))
		return
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		d.ErrorOccurred(s, fmt.Errorf("source: stat %s: %w", s.path, err))
		return
	}

	s.mu.Lock()
	s.f = f
	s.length = info.Size()
	s.mu.Unlock()

	if tags := probeTags(f); len(tags) > 0 {
		d.MetadataReceived(tags)
	}

	d.DataAvailable(s)
}

// probeTags reads metadata tags from the head of the file and rewinds.
// Untagged files are not an error; they just yield no metadata.
func probeTags(f *os.File) map[string]string {
	defer f.Seek(0, io.SeekStart) //nolint:errcheck // rewind is best effort

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil
	}

	tags := map[string]string{}
	if v := m.Title(); v != "" {
		tags["title"] = v
	}
	if v := m.Artist(); v != "" {
		tags["artist"] = v
	}
	if v := m.Album(); v != "" {
		tags["album"] = v
	}
	if v := m.Genre(); v != "" {
		tags["genre"] = v
	}
	if y := m.Year(); y != 0 {
		tags["year"] = strconv.Itoa(y)
	}
	return tags
}

// Seek repositions the file at the given absolute offset.
func (s *FileSource) Seek(offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil || s.closed {
		return fmt.Errorf("source: %s not open", s.path)
	}
	_, err := s.f.Seek(offset, io.SeekStart)
	return err
}

// Read copies bytes from the current position.
func (s *FileSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	f, closed := s.f, s.closed
	s.mu.Unlock()
	if f == nil || closed {
		return 0, io.EOF
	}
	return f.Read(p)
}

// Close releases the file handle. Idempotent.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

// ID returns the file path.
func (s *FileSource) ID() string { return s.path }

// Length returns the file size in bytes, 0 before Setup.
func (s *FileSource) Length() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}
