// Package hub fans snapshots out to live subscribers. Each snapshot is
// serialized once and written to every registered subscriber's buffered send
// channel; a subscriber that cannot keep up is disconnected rather than
// awaited, so one slow consumer never delays the others or the collector.
// Nothing is retained after a broadcast: late subscribers receive only
// snapshots produced after they register.
package hub

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telemetry-agent/internal/metrics"
)

const sendBuffer = 256

// envelope is the wire shape of one broadcast snapshot.
type envelope struct {
	Type string                    `json:"type"`
	Data *metrics.ResourceSnapshot `json:"data"`
}

// Subscription is one attached consumer. Messages arrive on C; the channel
// is closed when the subscriber detaches or is dropped for falling behind.
type Subscription struct {
	ID string
	C  <-chan []byte

	hub  *Hub
	send chan []byte
}

// Close detaches the subscription. Safe to call concurrently with an
// in-flight broadcast; closing twice is harmless.
func (s *Subscription) Close() {
	select {
	case s.hub.unregister <- s:
	case <-s.hub.done:
	}
}

// Hub coordinates subscriber registration and snapshot broadcast through a
// single run loop, so the subscriber set needs no lock.
type Hub struct {
	logger *zap.Logger

	subscribers map[*Subscription]bool
	broadcast   chan *metrics.ResourceSnapshot
	register    chan *Subscription
	unregister  chan *Subscription
	done        chan struct{}
}

// New creates a Hub. Run must be started before snapshots are published.
func New(logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[*Subscription]bool),
		broadcast:   make(chan *metrics.ResourceSnapshot, 1),
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		done:        make(chan struct{}),
	}
}

// Publish hands a snapshot to the hub without ever blocking the caller. If
// the run loop is still busy with the previous snapshot, the stale pending
// one is replaced: real-time subscribers only want the newest data.
func (h *Hub) Publish(snapshot *metrics.ResourceSnapshot) {
	if snapshot == nil {
		return
	}
	for {
		select {
		case h.broadcast <- snapshot:
			return
		case <-h.done:
			return
		default:
			select {
			case <-h.broadcast: // discard the stale pending snapshot
			default:
			}
		}
	}
}

// Subscribe registers a new consumer. The id exists for logging only.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID:   uuid.NewString(),
		hub:  h,
		send: make(chan []byte, sendBuffer),
	}
	sub.C = sub.send
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.send)
	}
	return sub
}

// Run executes the hub loop until the context is cancelled. On shutdown all
// subscriber channels are closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for sub := range h.subscribers {
			delete(h.subscribers, sub)
			close(sub.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.register:
			h.subscribers[sub] = true
			h.logger.Info("subscriber attached",
				zap.String("subscriber", sub.ID),
				zap.Int("total", len(h.subscribers)))
		case sub := <-h.unregister:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
				h.logger.Info("subscriber detached",
					zap.String("subscriber", sub.ID),
					zap.Int("total", len(h.subscribers)))
			}
		case snapshot := <-h.broadcast:
			h.deliver(snapshot)
		}
	}
}

// deliver serializes the snapshot once and writes it to every subscriber. A
// full send buffer disconnects that subscriber on the spot.
func (h *Hub) deliver(snapshot *metrics.ResourceSnapshot) {
	message, err := json.Marshal(envelope{Type: "snapshot", Data: snapshot})
	if err != nil {
		h.logger.Error("snapshot serialization failed", zap.Error(err))
		return
	}

	for sub := range h.subscribers {
		select {
		case sub.send <- message:
		default:
			delete(h.subscribers, sub)
			close(sub.send)
			h.logger.Warn("slow subscriber dropped", zap.String("subscriber", sub.ID))
		}
	}
}
