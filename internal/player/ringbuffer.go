package player

import "sync/atomic"

// frameRing is a fixed-capacity single-producer single-consumer ring of
// decoded stereo frames.
//
// The producer (decode path) owns writePos and only grows available; the
// consumer (render callback) owns readPos and only shrinks it. available is
// an atomic so each side observes the other's progress with acquire/release
// ordering and neither ever blocks. Reset is the one exception to the SPSC
// discipline: callers must exclude both sides first (producer stopped or in
// draining mode, consumer held off via the sink lock).
type frameRing struct {
	buf      [][2]float64
	capacity int

	readPos  int
	writePos int

	available atomic.Int64
	played    atomic.Int64
	waiting   atomic.Bool
	draining  atomic.Bool
}

func newFrameRing(capacityFrames int) *frameRing {
	if capacityFrames < 1 {
		capacityFrames = 1
	}
	return &frameRing{
		buf:      make([][2]float64, capacityFrames),
		capacity: capacityFrames,
	}
}

// Capacity returns the total frame capacity.
func (r *frameRing) Capacity() int { return r.capacity }

// Available returns how many frames are written but not yet consumed.
func (r *frameRing) Available() int { return int(r.available.Load()) }

// Free returns how many frames the producer may write.
func (r *frameRing) Free() int { return r.capacity - r.Available() }

// Played returns the monotonic count of frames consumed.
func (r *frameRing) Played() int64 { return r.played.Load() }

// Write copies frames into the free region. Producer side only. Returns how
// many frames were accepted; in draining mode everything is swallowed so a
// producer can never wedge a teardown.
func (r *frameRing) Write(frames [][2]float64) int {
	if r.draining.Load() {
		return len(frames)
	}

	n := len(frames)
	if free := r.Free(); n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	first := n
	if first > r.capacity-r.writePos {
		first = r.capacity - r.writePos
	}
	copy(r.buf[r.writePos:], frames[:first])
	copy(r.buf, frames[first:n])
	r.writePos = (r.writePos + n) % r.capacity

	r.available.Add(int64(n))
	return n
}

// Read copies frames out of the filled region. Consumer side only. Returns
// how many frames were copied; the caller zero-fills any shortfall.
func (r *frameRing) Read(dst [][2]float64) int {
	n := len(dst)
	if avail := r.Available(); n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}

	first := n
	if first > r.capacity-r.readPos {
		first = r.capacity - r.readPos
	}
	copy(dst, r.buf[r.readPos:r.readPos+first])
	copy(dst[first:n], r.buf)
	r.readPos = (r.readPos + n) % r.capacity

	r.available.Add(int64(-n))
	r.played.Add(int64(n))
	return n
}

// SetDraining toggles drain mode, in which writes are swallowed. Used to
// release a producer before Reset during stop, seek-flush and dispose.
func (r *frameRing) SetDraining(draining bool) {
	r.draining.Store(draining)
}

// Reset empties the ring. The caller must have excluded both sides; see the
// type comment.
func (r *frameRing) Reset() {
	r.readPos = 0
	r.writePos = 0
	r.available.Store(0)
	r.waiting.Store(false)
}

// MarkWaiting flags that the consumer was starved. Render side only.
func (r *frameRing) MarkWaiting() {
	r.waiting.Store(true)
}

// TakeWaiting clears the starved flag and reports whether it was set. The
// compare-and-swap makes the clear-then-wake protocol fire exactly once per
// starvation, however many writes race on it.
func (r *frameRing) TakeWaiting() bool {
	return r.waiting.CompareAndSwap(true, false)
}

// Waiting reports whether the consumer is currently starved.
func (r *frameRing) Waiting() bool {
	return r.waiting.Load()
}
