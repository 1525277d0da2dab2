// Package events carries what happens inside dialogue sessions to whoever
// is listening: the CLI printer, the HTTP server, or a test recorder.
package events

import (
	"encoding/json"
	"time"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
)

type EventType string

const (
	EventTypeSessionStarted EventType = "session-started"
	EventTypeTurnAppended   EventType = "turn-appended"
	EventTypeTurnFailed     EventType = "turn-failed"
	EventTypeAwaitingHuman  EventType = "awaiting-human"
	EventTypeStatusChanged  EventType = "status-changed"
	EventTypeSessionDeleted EventType = "session-deleted"
)

type Event interface {
	Type() EventType
	SessionID() string
}

type EventImpl struct {
	Type_      EventType `json:"type"`
	SessionID_ string    `json:"session_id"`
	At         time.Time `json:"at"`
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) SessionID() string {
	return e.SessionID_
}

func newImpl(t EventType, sessionID string) EventImpl {
	return EventImpl{Type_: t, SessionID_: sessionID, At: time.Now().UTC()}
}

type EventSessionStarted struct {
	EventImpl
	Config       dialogue.Config        `json:"config"`
	Participants []dialogue.Participant `json:"participants"`
}

func NewSessionStarted(sessionID string, cfg dialogue.Config, ps []dialogue.Participant) *EventSessionStarted {
	return &EventSessionStarted{
		EventImpl:    newImpl(EventTypeSessionStarted, sessionID),
		Config:       cfg,
		Participants: ps,
	}
}

// EventTurn is published for appended turns. Synthetic turns standing in for
// failed model calls use EventTypeTurnFailed.
type EventTurn struct {
	EventImpl
	Turn dialogue.Turn `json:"turn"`
}

func NewTurnAppended(sessionID string, t dialogue.Turn) *EventTurn {
	typ := EventTypeTurnAppended
	if t.Failed {
		typ = EventTypeTurnFailed
	}
	return &EventTurn{EventImpl: newImpl(typ, sessionID), Turn: t}
}

type EventAwaitingHuman struct {
	EventImpl
	ParticipantID int `json:"participant_id"`
	RoundIndex    int `json:"round"`
}

func NewAwaitingHuman(sessionID string, participantID, round int) *EventAwaitingHuman {
	return &EventAwaitingHuman{
		EventImpl:     newImpl(EventTypeAwaitingHuman, sessionID),
		ParticipantID: participantID,
		RoundIndex:    round,
	}
}

type EventStatusChanged struct {
	EventImpl
	From  dialogue.Status `json:"from"`
	To    dialogue.Status `json:"to"`
	Error string          `json:"error,omitempty"`
}

func NewStatusChanged(sessionID string, from, to dialogue.Status, cause error) *EventStatusChanged {
	e := &EventStatusChanged{
		EventImpl: newImpl(EventTypeStatusChanged, sessionID),
		From:      from,
		To:        to,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

type EventSessionDeleted struct {
	EventImpl
}

func NewSessionDeleted(sessionID string) *EventSessionDeleted {
	return &EventSessionDeleted{EventImpl: newImpl(EventTypeSessionDeleted, sessionID)}
}

// NewEventFromJson decodes an event published by a WatermillSink.
func NewEventFromJson(b []byte) (Event, error) {
	var hdr EventImpl
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	var e Event
	switch hdr.Type_ {
	case EventTypeSessionStarted:
		e = &EventSessionStarted{}
	case EventTypeTurnAppended, EventTypeTurnFailed:
		e = &EventTurn{}
	case EventTypeAwaitingHuman:
		e = &EventAwaitingHuman{}
	case EventTypeStatusChanged:
		e = &EventStatusChanged{}
	case EventTypeSessionDeleted:
		e = &EventSessionDeleted{}
	default:
		return nil, errors.Errorf("unknown event type %q", hdr.Type_)
	}
	if err := json.Unmarshal(b, e); err != nil {
		return nil, errors.Wrapf(err, "could not decode %s event", hdr.Type_)
	}
	return e, nil
}
