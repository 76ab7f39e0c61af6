package player

import (
	"sync"

	"github.com/lmenard/wavecast/internal/log"
)

// Observer receives engine lifecycle notifications.
//
// All callbacks are delivered in order on a single notification goroutine,
// never from the real-time render callback. The engine does not own the
// observer: once unregistered, delivery stops.
type Observer interface {
	// DidStartPlaying fires when an entry's audio becomes audible.
	DidStartPlaying(id EntryID)

	// DidFinishBuffering fires when the entry reached the buffered-seconds
	// threshold that allows playback to start.
	DidFinishBuffering(id EntryID)

	// StateChanged fires on every internal state transition.
	StateChanged(current, previous InternalState)

	// DidFinishPlaying fires when an entry stops being the playing entry,
	// with the reason and its final progress and duration in seconds.
	DidFinishPlaying(id EntryID, reason StopReason, progress, duration float64)

	// DidCancel fires when queued entries are cleared, with exactly the ids
	// that were pending. It never includes the reading or playing entry.
	DidCancel(ids []EntryID)

	// UnexpectedError fires once when the engine enters the error state.
	UnexpectedError(err error)

	// DidReadMetadata fires when a source surfaces stream metadata.
	DidReadMetadata(tags map[string]string)
}

// notifier serializes observer delivery on one goroutine.
//
// Two small lock domains: obsMu guards the observer pointer (taken by the
// delivery goroutine), emitMu guards the closed flag and brackets sends so
// Emit can never race Close onto a closed channel.
type notifier struct {
	obsMu    sync.Mutex
	observer Observer

	emitMu sync.Mutex
	closed bool

	events chan func(Observer)
	done   chan struct{}
}

const notifierBuffer = 128

func newNotifier() *notifier {
	n := &notifier{
		events: make(chan func(Observer), notifierBuffer),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) run() {
	defer close(n.done)
	for fn := range n.events {
		if o := n.current(); o != nil {
			fn(o)
		}
	}
}

func (n *notifier) current() Observer {
	n.obsMu.Lock()
	defer n.obsMu.Unlock()
	return n.observer
}

// SetObserver registers the observer; nil unregisters.
func (n *notifier) SetObserver(o Observer) {
	n.obsMu.Lock()
	n.observer = o
	n.obsMu.Unlock()
}

// Emit queues a notification. Events are delivered in queue order; the
// observer is resolved at delivery time so unregistering turns pending events
// into no-ops. Emit never blocks: callers hold engine locks, and a slow
// observer must not stall them, so a saturated queue drops the event.
func (n *notifier) Emit(fn func(Observer)) {
	n.emitMu.Lock()
	defer n.emitMu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.events <- fn:
	default:
		log.Warnf("player: observer queue full, dropping notification")
	}
}

// Close drains pending notifications and stops the delivery goroutine.
func (n *notifier) Close() {
	n.emitMu.Lock()
	if n.closed {
		n.emitMu.Unlock()
		return
	}
	n.closed = true
	n.emitMu.Unlock()
	close(n.events)
	<-n.done
}
