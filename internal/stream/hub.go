// Package stream fans progress message snapshots and data events out to the
// live observers of a conversation.
package stream

import (
	"errors"
	"sync"

	"studio-backend/internal/model"
	"studio-backend/pkg/logger"
)

var ErrHubClosed = errors.New("stream hub closed")

const defaultBuffer = 100

// Frame is one delivery on a conversation channel. Exactly one field is set.
type Frame struct {
	Message *model.MessageRecord
	Event   *model.DataEvent
}

type subscriber struct {
	ch chan Frame
}

// Hub is an in-process per-conversation broadcaster. Delivery never blocks
// the publisher: a subscriber whose buffer is full misses the snapshot.
// Snapshots are full messages, so a later one supersedes a missed one.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
	buffer int
	closed bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		topics: make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers an observer of convID. The returned cancel func
// unregisters it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(convID string) (<-chan Frame, func()) {
	sub := &subscriber{ch: make(chan Frame, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if h.topics[convID] == nil {
		h.topics[convID] = make(map[*subscriber]struct{})
	}
	h.topics[convID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs, ok := h.topics[convID]
			if !ok {
				return
			}
			if _, ok := subs[sub]; !ok {
				return
			}
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.topics, convID)
			}
			close(sub.ch)
		})
	}
}

// Broadcast implements session.Broadcaster.
func (h *Hub) Broadcast(convID string, rec *model.MessageRecord) error {
	return h.send(convID, Frame{Message: rec}, "snapshot of "+rec.ID)
}

// BroadcastEvent implements session.EventBroadcaster.
func (h *Hub) BroadcastEvent(convID string, ev *model.DataEvent) error {
	return h.send(convID, Frame{Event: ev}, ev.Update+" event")
}

func (h *Hub) send(convID string, f Frame, what string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}
	for sub := range h.topics[convID] {
		select {
		case sub.ch <- f:
		default:
			logger.Warnf("Progress channel of conversation %s is full, dropping %s", convID, what)
		}
	}
	return nil
}

// Subscribers returns the number of observers of convID.
func (h *Hub) Subscribers(convID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[convID])
}

// Close closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for convID, subs := range h.topics {
		for sub := range subs {
			close(sub.ch)
		}
		delete(h.topics, convID)
	}
}
