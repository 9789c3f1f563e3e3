package jobs

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"transcode-bridge/internal/domain"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeProgress   EventType = "job:progress"
	EventTypeComplete   EventType = "job:complete"
	EventTypeStatus     EventType = "job:status"
	EventTypeLog        EventType = "job:log"
	EventTypeStatusShow EventType = "status:show"
	EventTypeStatusHide EventType = "status:hide"
)

// Indicator is the payload of status indicator events.
type Indicator struct {
	Percent int `json:"percent"`
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq       int64             `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	JobID     string            `json:"jobId,omitempty"`
	Type      EventType         `json:"type"`
	State     domain.JobState   `json:"state,omitempty"`
	Message   string            `json:"message,omitempty"`
	Progress  *domain.Progress  `json:"progress,omitempty"`
	Result    *domain.JobResult `json:"result,omitempty"`
	Indicator *Indicator        `json:"indicator,omitempty"`
}

// Sink receives every published event, in order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) {
	f(e)
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu          sync.RWMutex
	nextSeq     int64
	maxEvents   int
	events      []Event
	nextSubID   int
	subscribers map[int]chan Event
	sinks       []Sink
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents:   maxEvents,
		events:      make([]Event, 0, maxEvents),
		subscribers: make(map[int]chan Event),
	}
}

// AddSink registers a sink for all events published after the call.
func (b *EventBus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			log.Warn().Int("subscriber", id).Int64("seq", event.Seq).Msg("subscriber buffer full, event dropped")
		}
	}
	for _, s := range b.sinks {
		s.Emit(event)
	}

	return event
}

// Subscribe returns a channel receiving events published after the call.
// The returned func unsubscribes and closes the channel.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
