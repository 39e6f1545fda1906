// Package notify fans message status updates out to websocket subscribers of a chat.
package notify

import (
	"sync"
	"time"

	"agstack-go/pkg/log"

	"github.com/gorilla/websocket"
)

// StatusEvent is sent to subscribers whenever a message changes status.
type StatusEvent struct {
	Type         string `json:"type"`
	ChatID       uint   `json:"chat_id"`
	MessageID    uint   `json:"message_id"`
	MessageIndex int    `json:"message_index"`
	Role         string `json:"role"`
	Status       string `json:"status"`
}

// MessageStatusType is the Type of every StatusEvent.
const MessageStatusType = "message.status"

const (
	subscriberBuffer = 16
	writeWait        = 10 * time.Second
)

// Subscriber receives the events of one chat.
type Subscriber struct {
	chatID uint
	events chan StatusEvent
}

// Events returns the channel of pending events. It is closed on Unsubscribe.
func (s *Subscriber) Events() <-chan StatusEvent { return s.events }

// Hub is an in-process registry of subscribers keyed by chat.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint]map[*Subscriber]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint]map[*Subscriber]struct{})}
}

// Subscribe registers a subscriber for chatID.
func (h *Hub) Subscribe(chatID uint) *Subscriber {
	s := &Subscriber{chatID: chatID, events: make(chan StatusEvent, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[chatID] == nil {
		h.subs[chatID] = make(map[*Subscriber]struct{})
	}
	h.subs[chatID][s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel. Calling it twice is safe.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.chatID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	close(s.events)
	if len(set) == 0 {
		delete(h.subs, s.chatID)
	}
}

// Publish delivers evt to every subscriber of its chat without blocking.
// Slow subscribers drop events.
func (h *Hub) Publish(evt StatusEvent) {
	if evt.Type == "" {
		evt.Type = MessageStatusType
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[evt.ChatID] {
		select {
		case s.events <- evt:
		default:
			log.Warnf("[Hub] dropping status event for chat %d, subscriber is slow", evt.ChatID)
		}
	}
}

// Subscribers reports how many subscribers chatID has.
func (h *Hub) Subscribers(chatID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[chatID])
}

// Stream writes s's events to conn as JSON until the channel closes or a write fails.
// Reads from conn are drained so that a client close is noticed.
func (h *Hub) Stream(conn *websocket.Conn, s *Subscriber) {
	defer h.Unsubscribe(s)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-s.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				log.Warnf("[Hub] websocket write failed for chat %d: %v", s.chatID, err)
				return
			}
		case <-closed:
			return
		}
	}
}
