// Package dialogue holds the data model shared by the registry, the transcript,
// the scheduler, the session controller and the exporters.
package dialogue

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Mode selects the turn-taking protocol of a dialogue.
type Mode string

const (
	// ModeTwoParty alternates strictly between two model participants.
	ModeTwoParty Mode = "two-party"
	// ModeMultiParty rotates through 2-5 slots in a fixed order, the last one
	// optionally held by a human.
	ModeMultiParty Mode = "multi-party"
)

// Kind selects how the opening round is produced.
type Kind string

const (
	// KindDebate produces a single opening turn and is sequential from there on.
	KindDebate Kind = "debate"
	// KindDiscussion fans out the opening statements of all model participants
	// scheduled before the first human slot.
	KindDiscussion Kind = "discussion"
)

// ActorKind tells whether a participant is backed by a model or by a person.
type ActorKind string

const (
	ActorAI    ActorKind = "ai"
	ActorHuman ActorKind = "human"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusRunning       Status = "running"
	StatusProducing     Status = "producing"
	StatusAwaitingHuman Status = "awaiting-human"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
	StatusFailed        Status = "failed"
)

// IsTerminal reports whether no further turn can be appended.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// ModeratorID is the participant id carried by moderator-authored turns.
const ModeratorID = 0

// ModeratorName is the display name of moderator-authored turns.
const ModeratorName = "Moderator"

// Participant is one seat in the turn order.
type Participant struct {
	// ID is the 1-based ordinal of the participant in the turn order.
	ID      int       `yaml:"id" json:"id"`
	Kind    ActorKind `yaml:"kind" json:"kind"`
	ModelID string    `yaml:"model,omitempty" json:"model,omitempty"`
	Persona string    `yaml:"persona,omitempty" json:"persona,omitempty"`
	// Source names the model host configured in settings, empty for the default one.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
	// Name overrides the display name, which otherwise derives from the model id.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// IsHuman reports whether the participant is the human slot.
func (p Participant) IsHuman() bool {
	return p.Kind == ActorHuman
}

// DisplayName returns the label used in transcripts.
func (p Participant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.IsHuman() {
		return "Human"
	}
	if p.ModelID != "" {
		return p.ModelID
	}
	return "Participant " + strconv.Itoa(p.ID)
}

// Config is chosen once when a session is created.
type Config struct {
	Mode          Mode   `yaml:"mode" json:"mode" jsonschema:"enum=two-party,enum=multi-party"`
	Kind          Kind   `yaml:"kind,omitempty" json:"kind,omitempty" jsonschema:"enum=debate,enum=discussion"`
	InitialPrompt string `yaml:"initial_prompt" json:"initial_prompt" jsonschema:"minLength=1"`
	MaxRounds     int    `yaml:"max_rounds" json:"max_rounds" jsonschema:"minimum=1"`
	Topic         string `yaml:"topic,omitempty" json:"topic,omitempty"`
}

var ErrInvalidConfig = errors.New("invalid configuration")

// Normalize fills defaults: debate kind and a topic derived from the prompt.
func (c Config) Normalize() Config {
	if c.Kind == "" {
		c.Kind = KindDebate
	}
	if c.Topic == "" {
		c.Topic = truncate(strings.TrimSpace(c.InitialPrompt), 100)
	}
	return c
}

// Validate checks the config fields independently of the participant list.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeTwoParty, ModeMultiParty:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown mode %q", c.Mode)
	}
	switch c.Kind {
	case "", KindDebate, KindDiscussion:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown kind %q", c.Kind)
	}
	if strings.TrimSpace(c.InitialPrompt) == "" {
		return errors.Wrap(ErrInvalidConfig, "initial prompt is empty")
	}
	if c.MaxRounds <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "max rounds must be > 0, got %d", c.MaxRounds)
	}
	return nil
}

// Turn is one contribution to the transcript. Turns are never mutated once appended.
type Turn struct {
	ID            string    `yaml:"id,omitempty" json:"id,omitempty"`
	RoundIndex    int       `yaml:"round" json:"round"`
	ParticipantID int       `yaml:"participant_id" json:"participant_id"`
	DisplayName   string    `yaml:"display_name" json:"display_name"`
	Persona       string    `yaml:"persona,omitempty" json:"persona,omitempty"`
	Content       string    `yaml:"content" json:"content"`
	ProducedAt    time.Time `yaml:"produced_at" json:"produced_at"`
	// Failed marks a synthetic turn standing in for a failed model call.
	Failed bool   `yaml:"failed,omitempty" json:"failed,omitempty"`
	Error  string `yaml:"error,omitempty" json:"error,omitempty"`
}

// IsModerator reports whether the turn was authored by the moderator.
func (t Turn) IsModerator() bool {
	return t.ParticipantID == ModeratorID
}

// Session is a snapshot of one dialogue: config, seats, transcript and cursor.
type Session struct {
	ID           string        `yaml:"id" json:"id"`
	Config       Config        `yaml:"config" json:"config"`
	Participants []Participant `yaml:"participants" json:"participants"`
	Transcript   []Turn        `yaml:"transcript" json:"transcript"`
	Status       Status        `yaml:"status" json:"status"`
	Cursor       int           `yaml:"cursor" json:"cursor"`
	CreatedAt    time.Time     `yaml:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `yaml:"updated_at" json:"updated_at"`
}

// Participant returns the seat with the given id.
func (s *Session) Participant(id int) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// RoundIndex returns the round of the last transcript turn, or -1 when empty.
func (s *Session) RoundIndex() int {
	if len(s.Transcript) == 0 {
		return -1
	}
	return s.Transcript[len(s.Transcript)-1].RoundIndex
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
