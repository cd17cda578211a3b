// Package hub is the single fan-out point between ingestion and push subscribers.
package hub

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/PratikDhanave/shotlog/internal/logging"
	"github.com/PratikDhanave/shotlog/internal/metrics"
)

var (
	// ErrSubscriberGone is returned by Send after the subscriber was closed.
	ErrSubscriberGone = errors.New("subscriber gone")
	// ErrSlowSubscriber is returned by Send when the subscriber's queue is full.
	ErrSlowSubscriber = errors.New("subscriber queue full")
	// ErrMailboxFull is returned by Publish when the hub cannot accept more work.
	ErrMailboxFull = errors.New("hub mailbox full")
)

// Subscriber is one live duplex channel owned by the hub.
// Send must not block; a non-nil error removes the subscriber.
type Subscriber interface {
	ID() string
	Send(msg []byte) error
	Close()
}

// Hub holds the subscriber set and broadcasts serialized shots to it.
// One Hub, addressed by Name, exists per deployment.
type Hub struct {
	name    string
	mailbox chan []byte

	mu   sync.RWMutex
	subs map[string]Subscriber
}

// New creates a hub whose Publish queue holds mailboxSize messages.
func New(name string, mailboxSize int) *Hub {
	if mailboxSize <= 0 {
		mailboxSize = 1
	}
	return &Hub{
		name:    name,
		mailbox: make(chan []byte, mailboxSize),
		subs:    make(map[string]Subscriber),
	}
}

func (h *Hub) Name() string { return h.name }

// Subscribe registers s and returns immediately.
func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	n := len(h.subs)
	h.mu.Unlock()

	metrics.HubSubscribers.Set(float64(n))
	logging.Info().Str("hub", h.name).Str("subscriber", s.ID()).Int("total_subscribers", n).Msg("subscriber connected")
}

// Unsubscribe removes and closes s. Unknown subscribers are ignored.
func (h *Hub) Unsubscribe(s Subscriber) {
	if h.remove(s) {
		logging.Info().Str("hub", h.name).Str("subscriber", s.ID()).Int("total_subscribers", h.Count()).Msg("subscriber disconnected")
	}
}

func (h *Hub) remove(s Subscriber) bool {
	h.mu.Lock()
	cur, ok := h.subs[s.ID()]
	if ok && cur == s {
		delete(h.subs, s.ID())
	}
	n := len(h.subs)
	h.mu.Unlock()

	if !ok || cur != s {
		return false
	}
	metrics.HubSubscribers.Set(float64(n))
	s.Close()
	return true
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast makes one send attempt per subscriber and returns how many
// succeeded. Subscribers whose send fails are removed; they are not retried.
func (h *Hub) Broadcast(msg []byte) int {
	delivered := 0
	for _, s := range h.snapshot() {
		if err := s.Send(msg); err != nil {
			metrics.HubSendFailures.Inc()
			logging.Warn().Err(err).Str("hub", h.name).Str("subscriber", s.ID()).Msg("send failed, dropping subscriber")
			h.remove(s)
			continue
		}
		delivered++
	}
	metrics.HubMessagesSent.Add(float64(delivered))
	return delivered
}

// snapshot copies the subscriber set, ordered by ID so delivery order is stable.
func (h *Hub) snapshot() []Subscriber {
	h.mu.RLock()
	out := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Publish queues msg for the Run loop without waiting for delivery.
func (h *Hub) Publish(msg []byte) error {
	select {
	case h.mailbox <- msg:
		return nil
	default:
		metrics.HubDropped.Inc()
		return ErrMailboxFull
	}
}

// RunWithContext drains the mailbox into Broadcast until ctx is canceled,
// then closes every subscriber.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n := h.closeAll()
			logging.Info().Str("component", "hub").Str("hub", h.name).Int("subscribers_closed", n).Msg("hub stopped")
			return ctx.Err()
		case msg := <-h.mailbox:
			h.Broadcast(msg)
		}
	}
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	metrics.HubSubscribers.Set(0)
	return len(subs)
}
