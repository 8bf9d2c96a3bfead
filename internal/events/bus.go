package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventAnalysisCompleted EventType = "ANALYSIS_COMPLETED"
	EventAnalysisFailed    EventType = "ANALYSIS_FAILED"
	EventPriceUpdate       EventType = "PRICE_UPDATE"
)

// Event represents a system event. Payload carries the completed
// analysis state for ANALYSIS_COMPLETED; subscribers must treat it as
// read-only.
type Event struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Payload   interface{}            `json:"payload,omitempty"`
}

// EventBus fans events out to buffered subscriber channels. Publish
// never blocks: a subscriber that falls behind loses events, counted
// on the bus.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	buffer  int
	closed  bool
	dropped atomic.Int64
}

// NewEventBus creates a new event bus with the given per-subscriber
// channel buffer
func NewEventBus(buffer int) *EventBus {
	if buffer < 1 {
		buffer = 16
	}
	return &EventBus{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new listener channel
func (eb *EventBus) Subscribe() chan Event {
	ch := make(chan Event, eb.buffer)

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (eb *EventBus) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if _, ok := eb.subs[ch]; ok {
		delete(eb.subs, ch)
		close(ch)
	}
}

// Publish sends an event to all subscribers without blocking
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}

	for ch := range eb.subs {
		select {
		case ch <- event:
		default:
			eb.dropped.Add(1)
		}
	}
}

// PublishAnalysisCompleted publishes a completed analysis state
func (eb *EventBus) PublishAnalysisCompleted(runID string, state interface{}) {
	eb.Publish(Event{
		Type:    EventAnalysisCompleted,
		RunID:   runID,
		Payload: state,
	})
}

// PublishAnalysisFailed publishes a failed pipeline run
func (eb *EventBus) PublishAnalysisFailed(runID, stage string, err error) {
	data := map[string]interface{}{
		"stage": stage,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type:  EventAnalysisFailed,
		RunID: runID,
		Data:  data,
	})
}

// PublishPriceUpdate publishes a spot price update
func (eb *EventBus) PublishPriceUpdate(symbol string, price float64) {
	eb.Publish(Event{
		Type: EventPriceUpdate,
		Data: map[string]interface{}{
			"symbol": symbol,
			"price":  price,
		},
	})
}

// Dropped returns the number of events lost to slow subscribers
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// Close shuts the bus down and closes all subscriber channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for ch := range eb.subs {
		close(ch)
	}
	eb.subs = nil
}
