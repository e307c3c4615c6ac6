// Package capacity implements the single-observer capacity broadcast
// channel: the pool's free-slot count, pushed to whichever socket is
// currently registered against /capacity.
package capacity

import (
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sessionhost/logger"
)

// Sink is the subset of *websocket.Conn the broadcaster needs. Kept as an
// interface so it can be faked in tests without opening a real socket.
type Sink interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Broadcaster holds at most one observer at a time. Registering a new one
// replaces (and closes) whatever was registered before, per spec.md §4.3's
// NoObserver/Observing state machine.
type Broadcaster struct {
	mu   sync.Mutex
	sink Sink
}

// New returns an idle broadcaster with no observer.
func New() *Broadcaster {
	return &Broadcaster{}
}

// Register installs sink as the current observer, closing whatever sink was
// previously registered. Closing the old sink happens outside the lock so a
// slow Close never blocks a concurrent Publish.
func (b *Broadcaster) Register(sink Sink) {
	b.mu.Lock()
	previous := b.sink
	b.sink = sink
	b.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
}

// Unregister clears sink if it is still the current observer. No-op
// otherwise, so a late unregister from an already-replaced sink can't evict
// the new one.
func (b *Broadcaster) Unregister(sink Sink) {
	b.mu.Lock()
	if b.sink == sink {
		b.sink = nil
	}
	b.mu.Unlock()
}

// Publish sends available as a textual decimal frame to the current
// observer, if any. A send failure drops the observer and logs; it never
// returns an error to the caller, since a broadcast is fire-and-forget by
// contract (callers are allocate/release, after their own work is done).
func (b *Broadcaster) Publish(available int) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink == nil {
		return
	}

	msg := strconv.Itoa(available)
	if err := sink.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		logger.Debug("capacity observer write failed, dropping observer", zap.Error(err))
		b.Unregister(sink)
		_ = sink.Close()
	}
}

// Close drops and closes the current observer, if any. Used during shutdown.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	sink := b.sink
	b.sink = nil
	b.mu.Unlock()
	if sink != nil {
		_ = sink.Close()
	}
}
