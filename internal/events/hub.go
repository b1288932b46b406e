// Package events provides the intake queue feeding the dispatcher.
//
// Sources publish events from any goroutine; the dispatcher is the single
// consumer. The buffer is bounded, and publishing to a full buffer fails
// rather than blocking a source.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"slate/internal/logging"
	"slate/internal/rules"
)

// Hub buffers incoming events between sources and the dispatcher.
type Hub struct {
	ch     chan rules.Event
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewHub creates a hub with the given buffer capacity.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		ch:     make(chan rules.Event, buffer),
		logger: logging.WithComponent(logger, "events"),
	}
}

// Publish enqueues an event for dispatch, assigning an id and timestamp when
// the source left them empty. Returns false when the buffer is full or the
// hub is closed; the event is dropped either way.
func (h *Hub) Publish(event rules.Event) bool {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	select {
	case h.ch <- event:
		return true
	default:
		h.logger.Warn("event buffer full; dropping event",
			logging.String(logging.FieldEventID, event.ID),
			logging.String(logging.FieldEventType, string(event.Trigger)),
			logging.String(logging.FieldSubject, event.Subject),
		)
		return false
	}
}

// Events returns the dispatcher's receive channel. The channel closes after
// Close once buffered events have drained.
func (h *Hub) Events() <-chan rules.Event {
	return h.ch
}

// Depth reports how many events are waiting for dispatch.
func (h *Hub) Depth() int {
	return len(h.ch)
}

// Close stops intake. Events already buffered remain readable.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.ch)
}
