package events

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// TopicSessions is the topic session events are published on.
const TopicSessions = "symposium.sessions"

// Sink is a destination for session events. Sessions never fail because a
// sink did: publish errors are logged by the caller and dropped.
type Sink interface {
	PublishEvent(event Event) error
}

// NullSink discards all events.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(Event) error {
	return nil
}

// WatermillSink publishes events as JSON messages on a watermill topic. Each
// message carries the session id and a per-sink sequence number as metadata.
type WatermillSink struct {
	publisher message.Publisher
	topic     string

	mu  sync.Mutex
	seq uint64
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("session_id", event.SessionID())
	msg.Metadata.Set("event_type", string(event.Type()))

	w.mu.Lock()
	msg.Metadata.Set("sequence_number", strconv.FormatUint(w.seq, 10))
	w.seq++
	err = w.publisher.Publish(w.topic, msg)
	w.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}
	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) PublishEvent(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]Event, len(r.events))
	copy(ret, r.events)
	return ret
}

// Types returns the types of the recorded events in publish order.
func (r *Recorder) Types() []EventType {
	ret := []EventType{}
	for _, e := range r.Events() {
		ret = append(ret, e.Type())
	}
	return ret
}

// MultiSink fans an event out to several sinks and returns the first error.
type MultiSink []Sink

func (m MultiSink) PublishEvent(event Event) error {
	var first error
	for _, s := range m {
		if err := s.PublishEvent(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ Sink = (*NullSink)(nil)
var _ Sink = (*WatermillSink)(nil)
var _ Sink = (*Recorder)(nil)
var _ Sink = MultiSink(nil)
