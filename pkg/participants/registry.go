package participants

import (
	"strings"
	"sync"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidConfiguration  = dialogue.ErrInvalidConfig
	ErrSessionAlreadyStarted = errors.New("session already started")
	ErrIndexOutOfRange       = errors.New("participant index out of range")
)

const (
	MinMultiPartySlots = 2
	MaxMultiPartySlots = 5
)

// Registry holds the ordered seats of one session.
//
// Model and persona of a seat can be edited until the registry is locked, which
// the session controller does as soon as the first turn beyond the moderator
// prompt is appended.
type Registry struct {
	mu           sync.RWMutex
	mode         dialogue.Mode
	participants []dialogue.Participant
	locked       bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Configure validates and stores the participant list for the given mode.
// IDs left at zero are assigned from the 1-based position in the list.
func (r *Registry) Configure(participants []dialogue.Participant, mode dialogue.Mode) error {
	normalized, err := Validate(participants, mode)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return ErrSessionAlreadyStarted
	}
	r.mode = mode
	r.participants = normalized

	log.Debug().
		Str("mode", string(mode)).
		Int("participants", len(normalized)).
		Msg("configured participant registry")
	return nil
}

// Validate checks the shape of a participant list and returns a normalized copy.
func Validate(participants []dialogue.Participant, mode dialogue.Mode) ([]dialogue.Participant, error) {
	n := len(participants)
	switch mode {
	case dialogue.ModeTwoParty:
		if n != 2 {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "two-party mode needs exactly 2 participants, got %d", n)
		}
	case dialogue.ModeMultiParty:
		if n < MinMultiPartySlots || n > MaxMultiPartySlots {
			return nil, errors.Wrapf(ErrInvalidConfiguration,
				"multi-party mode needs %d-%d participants, got %d", MinMultiPartySlots, MaxMultiPartySlots, n)
		}
	default:
		return nil, errors.Wrapf(ErrInvalidConfiguration, "unknown mode %q", mode)
	}

	out := make([]dialogue.Participant, n)
	seen := map[int]bool{}
	humans := 0
	for i, p := range participants {
		if p.Kind == "" {
			p.Kind = dialogue.ActorAI
		}
		if p.ID == 0 {
			p.ID = i + 1
		}
		if p.ID < 0 || seen[p.ID] {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "participant %d has a duplicate or negative id %d", i, p.ID)
		}
		seen[p.ID] = true

		switch p.Kind {
		case dialogue.ActorAI:
			if strings.TrimSpace(p.ModelID) == "" {
				return nil, errors.Wrapf(ErrInvalidConfiguration, "participant %d has no model", i)
			}
		case dialogue.ActorHuman:
			if mode == dialogue.ModeTwoParty {
				return nil, errors.Wrap(ErrInvalidConfiguration, "two-party mode only accepts model participants")
			}
			if p.ModelID != "" {
				return nil, errors.Wrapf(ErrInvalidConfiguration, "human participant %d cannot have a model", i)
			}
			humans++
			if humans > 1 {
				return nil, errors.Wrap(ErrInvalidConfiguration, "at most one human participant is allowed")
			}
			if i != n-1 {
				return nil, errors.Wrap(ErrInvalidConfiguration, "the human participant must be last in the order")
			}
		default:
			return nil, errors.Wrapf(ErrInvalidConfiguration, "participant %d has unknown kind %q", i, p.Kind)
		}
		out[i] = p
	}
	return out, nil
}

// Mutate edits the model and/or persona of the seat at index. Nil leaves a field as is.
func (r *Registry) Mutate(index int, modelID *string, persona *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked {
		return ErrSessionAlreadyStarted
	}
	if index < 0 || index >= len(r.participants) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, have %d", index, len(r.participants))
	}
	p := r.participants[index]
	if modelID != nil {
		if p.IsHuman() {
			return errors.Wrap(ErrInvalidConfiguration, "human participant cannot have a model")
		}
		if strings.TrimSpace(*modelID) == "" {
			return errors.Wrap(ErrInvalidConfiguration, "model cannot be empty")
		}
		p.ModelID = *modelID
	}
	if persona != nil {
		p.Persona = *persona
	}
	r.participants[index] = p
	return nil
}

// Lock freezes the seats. It is idempotent.
func (r *Registry) Lock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = true
}

func (r *Registry) Locked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locked
}

func (r *Registry) Mode() dialogue.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// At returns the seat at position i in the turn order.
func (r *Registry) At(i int) dialogue.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participants[i]
}

// ByID returns the seat with the given participant id.
func (r *Registry) ByID(id int) (dialogue.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if p.ID == id {
			return p, true
		}
	}
	return dialogue.Participant{}, false
}

// Participants returns a copy of the seats in turn order.
func (r *Registry) Participants() []dialogue.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]dialogue.Participant, len(r.participants))
	copy(ret, r.participants)
	return ret
}
