package source

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCond(t *testing.T, what string, cond func() bool) {
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

// rangeHandler serves content honoring Range requests, like a static file
// server would.
func rangeHandler(content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from := 0
		if rng := r.Header.Get("Range"); rng != "" {
			val := strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-")
			from, _ = strconv.Atoi(val)
			w.Header().Set("Content-Length", strconv.Itoa(len(content)-from))
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		}
		w.Write(content[from:])
	}
}

func drain(s Source) ([]byte, error) {
	var out []byte
	buf := make([]byte, 1024)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		n, err := s.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return out, io.ErrNoProgress
}

func TestHTTPSourceStreamsToEOF(t *testing.T) {
	content := []byte(strings.Repeat("wavecast", 512))
	srv := httptest.NewServer(rangeHandler(content))
	defer srv.Close()

	s := NewHTTPSource(srv.URL+"/stream.mp3", nil)
	d := &testDelegate{}
	s.Setup(d)
	defer s.Close()

	got, err := drain(s)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	waitCond(t, "EOF notification", func() bool {
		_, eof, _, _ := d.snapshot()
		return eof == 1
	})
	available, _, errs, _ := d.snapshot()
	assert.Empty(t, errs)
	assert.Greater(t, available, 0)
	assert.Equal(t, int64(len(content)), s.Length())
}

func TestHTTPSourceSeekUsesRangeRequest(t *testing.T) {
	content := []byte("0123456789abcdefghij")
	srv := httptest.NewServer(rangeHandler(content))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, nil)
	d := &testDelegate{}
	s.Setup(d)
	defer s.Close()

	// Let the initial fetch land, then jump.
	waitCond(t, "initial data", func() bool {
		available, _, _, _ := d.snapshot()
		return available > 0
	})
	require.NoError(t, s.Seek(10))

	got, err := drain(s)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(got), "spooled bytes before the seek are dropped")
}

func TestHTTPSourceCustomAndIcyHeaders(t *testing.T) {
	authCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case authCh <- r.Header.Get("Authorization"):
		default:
		}
		w.Header().Set("Icy-Name", "Test FM")
		w.Header().Set("Icy-Genre", "jazz")
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, map[string]string{"Authorization": "Bearer token"})
	d := &testDelegate{}
	s.Setup(d)
	defer s.Close()

	waitCond(t, "metadata", func() bool {
		_, _, _, metadata := d.snapshot()
		return len(metadata) == 1
	})
	_, _, _, metadata := d.snapshot()
	assert.Equal(t, "Test FM", metadata[0]["title"])
	assert.Equal(t, "jazz", metadata[0]["genre"])
	assert.Equal(t, "Bearer token", <-authCh)
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, nil)
	d := &testDelegate{}
	s.Setup(d)
	defer s.Close()

	waitCond(t, "error notification", func() bool {
		_, _, errs, _ := d.snapshot()
		return len(errs) == 1
	})
	_, _, errs, _ := d.snapshot()
	assert.Contains(t, errs[0].Error(), "404")
}

func TestHTTPSourceReadAfterClose(t *testing.T) {
	srv := httptest.NewServer(rangeHandler([]byte("data")))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, nil)
	s.Setup(&testDelegate{})

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	_, err := s.Read(make([]byte, 4))
	assert.Equal(t, io.EOF, err)
	assert.Error(t, s.Seek(0))
}

func TestHTTPSourceStallReturnsZeroNil(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
		w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	s := NewHTTPSource(srv.URL, nil)
	s.Setup(&testDelegate{})
	defer s.Close()

	time.Sleep(20 * time.Millisecond)
	n, err := s.Read(make([]byte, 16))
	assert.Zero(t, n)
	assert.NoError(t, err, "a network stall is not an error")
}
