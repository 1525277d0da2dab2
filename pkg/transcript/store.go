// Package transcript holds the append-only log of dialogue turns.
package transcript

import (
	"sync"
	"time"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/lithammer/shortuuid/v3"
	"github.com/pkg/errors"
)

var (
	ErrRoundRegression = errors.New("turn round index is lower than the last appended round")
	ErrNegativeRound   = errors.New("turn round index is negative")
)

// Store is an append-only, ordered log of turns.
//
// Turns are stored by value and handed out as copies, so readers can take
// views while another goroutine is producing the next turn.
type Store struct {
	mu    sync.RWMutex
	turns []dialogue.Turn
}

func NewStore() *Store {
	return &Store{}
}

// FromTurns rebuilds a store from a persisted transcript, checking round order.
func FromTurns(turns []dialogue.Turn) (*Store, error) {
	s := NewStore()
	for _, t := range turns {
		if _, err := s.Append(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Append adds a turn at the end of the log and returns the stored copy.
// An empty ID is filled with a short uuid and a zero ProducedAt with now.
func (s *Store) Append(t dialogue.Turn) (dialogue.Turn, error) {
	if t.RoundIndex < 0 {
		return dialogue.Turn{}, ErrNegativeRound
	}
	if t.ID == "" {
		t.ID = shortuuid.New()
	}
	if t.ProducedAt.IsZero() {
		t.ProducedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.turns); n > 0 && t.RoundIndex < s.turns[n-1].RoundIndex {
		return dialogue.Turn{}, errors.Wrapf(ErrRoundRegression, "round %d after %d", t.RoundIndex, s.turns[n-1].RoundIndex)
	}
	s.turns = append(s.turns, t)
	return t, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Last returns the most recent turn.
func (s *Store) Last() (dialogue.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return dialogue.Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

// LastRound returns the round index of the most recent turn, or -1.
func (s *Store) LastRound() int {
	t, ok := s.Last()
	if !ok {
		return -1
	}
	return t.RoundIndex
}

// All returns the transcript in insertion order.
func (s *Store) All() []dialogue.Turn {
	return s.filter(func(dialogue.Turn) bool { return true })
}

// TurnsInRound returns the turns tagged with round r.
func (s *Store) TurnsInRound(r int) []dialogue.Turn {
	return s.filter(func(t dialogue.Turn) bool { return t.RoundIndex == r })
}

// TurnsBy returns the turns authored by one participant, dialogue.ModeratorID included.
func (s *Store) TurnsBy(participantID int) []dialogue.Turn {
	return s.filter(func(t dialogue.Turn) bool { return t.ParticipantID == participantID })
}

func (s *Store) filter(keep func(dialogue.Turn) bool) []dialogue.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]dialogue.Turn, 0, len(s.turns))
	for _, t := range s.turns {
		if keep(t) {
			ret = append(ret, t)
		}
	}
	return ret
}
