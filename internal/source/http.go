package source

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// maxSpool bounds how many fetched-but-unread bytes an HTTPSource holds
// before the fetch goroutine waits for the engine to catch up.
const maxSpool = 4 << 20

// httpReadChunk is the size of each body read performed by the fetcher.
const httpReadChunk = 32 * 1024

// HTTPSource streams a remote audio resource. The body is fetched on a
// background goroutine into a bounded spool; Read never blocks, it returns
// whatever is spooled (possibly zero bytes during a network stall).
type HTTPSource struct {
	url     string
	headers map[string]string
	client  *http.Client

	mu       sync.Mutex
	notFull  *sync.Cond
	spool    []byte
	delegate Delegate
	length   int64
	offset   int64 // absolute offset of spool[0]
	fetching bool
	done     bool
	closed   bool
	gen      int // bumped on Seek/Close to invalidate in-flight fetches
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a source for the given URL. The request is issued
// during Setup.
func NewHTTPSource(url string, headers map[string]string) *HTTPSource {
	s := &HTTPSource{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 0}, // streams have no overall deadline
	}
	s.notFull = sync.NewCond(&s.mu)
	return s
}

// Setup issues the initial request and starts the fetch goroutine.
func (s *HTTPSource) Setup(d Delegate) {
	s.mu.Lock()
	s.delegate = d
	gen := s.gen
	s.mu.Unlock()

	go s.fetch(0, gen)
}

func (s *HTTPSource) fetch(from int64, gen int) {
	req, err := http.NewRequest(http.MethodGet, s.url, nil)
	if err != nil {
		s.fail(gen, fmt.Errorf("source: request %s: %w", s.url, err))
		return
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	// Shoutcast servers send inline metadata unless told otherwise.
	req.Header.Set("Icy-MetaData", "0")
	if from > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", from))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.fail(gen, fmt.Errorf("source: fetch %s: %w", s.url, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		s.fail(gen, fmt.Errorf("source: fetch %s: status %s", s.url, resp.Status))
		return
	}

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	if resp.ContentLength > 0 {
		s.length = from + resp.ContentLength
	}
	d := s.delegate
	s.mu.Unlock()

	if tags := icyTags(resp.Header); len(tags) > 0 && d != nil {
		d.MetadataReceived(tags)
	}

	buf := make([]byte, httpReadChunk)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if !s.append(buf[:n], gen) {
				return // superseded or closed
			}
			if d != nil {
				d.DataAvailable(s)
			}
		}
		if err != nil {
			if err == io.EOF {
				s.finish(gen)
				if d != nil {
					d.EndOfFile(s)
				}
				return
			}
			s.fail(gen, fmt.Errorf("source: read %s: %w", s.url, err))
			return
		}
	}
}

// append spools fetched bytes, waiting while the spool is full. Returns
// false once the fetch generation has been superseded.
func (s *HTTPSource) append(p []byte, gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.spool) >= maxSpool {
		if gen != s.gen || s.closed {
			return false
		}
		s.notFull.Wait()
	}
	if gen != s.gen || s.closed {
		return false
	}
	s.spool = append(s.spool, p...)
	return true
}

func (s *HTTPSource) finish(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen {
		s.done = true
	}
}

func (s *HTTPSource) fail(gen int, err error) {
	s.mu.Lock()
	stale := gen != s.gen || s.closed
	d := s.delegate
	s.mu.Unlock()
	if stale || d == nil {
		return
	}
	d.ErrorOccurred(s, err)
}

// Seek restarts the stream at the given absolute byte offset using a Range
// request. Spooled bytes from the old position are dropped.
func (s *HTTPSource) Seek(offset int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("source: %s closed", s.url)
	}
	s.gen++
	gen := s.gen
	s.spool = nil
	s.offset = offset
	s.done = false
	s.notFull.Broadcast()
	s.mu.Unlock()

	go s.fetch(offset, gen)
	return nil
}

// Read drains spooled bytes. Zero bytes with a nil error means a stall;
// io.EOF means the stream finished and the spool is empty.
func (s *HTTPSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	if len(s.spool) == 0 {
		if s.done {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, s.spool)
	s.spool = s.spool[n:]
	s.offset += int64(n)
	if len(s.spool) < maxSpool {
		s.notFull.Broadcast()
	}
	return n, nil
}

// Close stops fetching and drops the spool. Idempotent.
func (s *HTTPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.gen++
	s.spool = nil
	s.notFull.Broadcast()
	return nil
}

// ID returns the URL.
func (s *HTTPSource) ID() string { return s.url }

// Length returns the total byte length reported by the server, 0 when
// unknown (chunked/live streams).
func (s *HTTPSource) Length() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// icyTags extracts Shoutcast/Icecast metadata from response headers.
func icyTags(h http.Header) map[string]string {
	tags := map[string]string{}
	for header, key := range map[string]string{
		"Icy-Name":        "title",
		"Icy-Genre":       "genre",
		"Icy-Description": "description",
		"Icy-Br":          "bitrate",
		"Icy-Url":         "url",
	} {
		if v := strings.TrimSpace(h.Get(header)); v != "" {
			tags[key] = v
		}
	}
	return tags
}