package player

// backpressureSignal is the wake primitive bridging the render consumer and
// the ingestion producer: when the render callback was starved and fresh
// frames finally land, the producer fires the signal to wake the ingestion
// loop immediately instead of waiting out the tick.
//
// It is saturating, not counting: firing an already-pending signal is a
// no-op, so signals and waits can race freely without missed wakeups or
// drain-exactly-N deadlocks.
type backpressureSignal struct {
	ch chan struct{}
}

func newBackpressureSignal() *backpressureSignal {
	return &backpressureSignal{ch: make(chan struct{}, 1)}
}

// Fire raises the signal. Never blocks; idempotent while pending.
func (s *backpressureSignal) Fire() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the wake channel; receiving consumes the pending signal.
func (s *backpressureSignal) C() <-chan struct{} {
	return s.ch
}

// Pending reports whether a fire is waiting to be consumed.
func (s *backpressureSignal) Pending() bool {
	return len(s.ch) > 0
}
