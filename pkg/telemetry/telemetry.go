// Package telemetry fans out job events to subscribers and exports them as
// Prometheus metrics, OpenTelemetry spans and NATS messages.
package telemetry

import (
	"strconv"
	"sync"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobCancelled EventType = "job.cancelled"

	EventInterviewStarted   EventType = "interview.started"
	EventInterviewCompleted EventType = "interview.completed"
	EventInterviewStopped   EventType = "interview.stopped"
	EventInterviewFailed    EventType = "interview.failed"

	EventQuestionAnswered EventType = "question.answered"
	EventQuestionSkipped  EventType = "question.skipped"
	EventQuestionFailed   EventType = "question.failed"

	EventCacheHit        EventType = "cache.hit"
	EventCacheMiss       EventType = "cache.miss"
	EventCacheWrite      EventType = "cache.write"
	EventCacheStoreError EventType = "cache.store_error"

	EventModelRetry EventType = "model.retry"
)

// Event describes job telemetry that metrics, tracing and NATS consume.
type Event struct {
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	JobID       string         `json:"jobId,omitempty"`
	InterviewID string         `json:"interviewId,omitempty"`
	Question    string         `json:"question,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

const subscriberBuffer = 256

// Hub fan-outs telemetry events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]string
	byID        map[string]chan Event
	nextID      int
	closed      bool
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan Event]string),
		byID:        make(map[string]chan Event),
	}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if buffer full.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Drop if subscriber can't keep up; prevents blocking the job.
		}
	}
}

// Subscribe returns a channel that will receive future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch, id := h.SubscribeWithID()
	return ch, func() { h.Unsubscribe(id) }
}

// SubscribeWithID registers a subscriber that can later be removed by id.
func (h *Hub) SubscribeWithID() (<-chan Event, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, ""
	}
	h.nextID++
	id := "sub-" + strconv.Itoa(h.nextID)
	ch := make(chan Event, subscriberBuffer)
	h.subscribers[ch] = id
	h.byID[id] = ch
	return ch, id
}

// Unsubscribe removes the subscriber and closes its channel. Unknown ids
// are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.byID[id]
	if !ok {
		return
	}
	delete(h.byID, id)
	delete(h.subscribers, ch)
	close(ch)
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch, id := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
		delete(h.byID, id)
	}
}
