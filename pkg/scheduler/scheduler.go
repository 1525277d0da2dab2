// Package scheduler decides whose turn is next in a dialogue.
//
// Both protocols run on the same algorithm: the seat acting next is
// roster[cursor mod N]. Two-party dialogues are simply rosters with N=2 and
// no human seat. Every visited seat, model or human, consumes one round, and
// the dialogue completes when the round index reaches MaxRounds.
//
// # States
//
//	idle --Start--> running --Begin--> producing --Complete--> running | awaiting-human | completed
//	awaiting-human --BeginHuman--> producing
//	any non-terminal --Cancel--> cancelled
//	any non-terminal --Fail--> failed
//
// The producing state is the per-session mutual exclusion gate: a second
// Begin while a turn is in flight fails with ErrTurnInProgress.
package scheduler

import (
	"sync"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotStarted       = errors.New("dialogue has not been started")
	ErrAlreadyStarted   = errors.New("dialogue has already been started")
	ErrTurnInProgress   = errors.New("a turn is already in progress")
	ErrNotAwaitingHuman = errors.New("dialogue is not awaiting human input")
	ErrAwaitingHuman    = errors.New("dialogue is awaiting human input")
	ErrSessionTerminal  = errors.New("dialogue has reached a terminal state")
	ErrNoPendingTurn    = errors.New("no turn is in progress")
	ErrEmptyRoster      = errors.New("roster is empty")
	ErrOpeningRound     = errors.New("no participant turn has been produced yet")
)

// Roster is the ordered list of seats the scheduler cycles through.
// participants.Registry implements it.
type Roster interface {
	Len() int
	At(i int) dialogue.Participant
}

// ActionKind tells the caller what has to be produced for an action.
type ActionKind string

const (
	ActionModerator ActionKind = "moderator"
	ActionModel     ActionKind = "model"
	ActionHuman     ActionKind = "human"
)

// Action is one turn the caller has to produce and append.
type Action struct {
	Kind        ActionKind
	Slot        int
	RoundIndex  int
	Participant dialogue.Participant
}

// Scheduler is the turn-taking state machine of one session. It is safe for
// concurrent use.
type Scheduler struct {
	mu        sync.Mutex
	roster    Roster
	maxRounds int

	status  dialogue.Status
	cursor  int
	round   int
	pending []Action
	err     error
}

// New creates an idle scheduler over roster.
func New(roster Roster, maxRounds int) *Scheduler {
	return &Scheduler{
		roster:    roster,
		maxRounds: maxRounds,
		status:    dialogue.StatusIdle,
		round:     -1,
	}
}

// Restore recreates a scheduler at a persisted position. Producing is not a
// resumable state: a session persisted mid-turn resumes as running.
func Restore(roster Roster, maxRounds int, status dialogue.Status, cursor, round int) *Scheduler {
	s := New(roster, maxRounds)
	s.cursor = cursor
	s.round = round
	s.status = status
	if status == dialogue.StatusProducing {
		s.status = dialogue.StatusRunning
	}
	if s.status == dialogue.StatusRunning {
		s.settleLocked()
	}
	return s
}

// Start moves idle to running and returns the moderator action of round 0.
func (s *Scheduler) Start() (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != dialogue.StatusIdle {
		return Action{}, ErrAlreadyStarted
	}
	if s.roster == nil || s.roster.Len() == 0 {
		return Action{}, ErrEmptyRoster
	}
	s.round = 0
	s.status = dialogue.StatusRunning
	s.settleLocked()

	log.Debug().Int("max_rounds", s.maxRounds).Int("slots", s.roster.Len()).Msg("scheduler started")
	return Action{Kind: ActionModerator, Slot: -1, RoundIndex: 0}, nil
}

// Peek returns the action that the next Begin would hand out without changing state.
func (s *Scheduler) Peek() (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRunningLocked(); err != nil {
		return Action{}, err
	}
	return s.actionAtLocked(s.cursor, s.round+1), nil
}

// Begin reserves the next model turn and moves to producing.
func (s *Scheduler) Begin() (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunningLocked(); err != nil {
		return Action{}, err
	}
	a := s.actionAtLocked(s.cursor, s.round+1)
	if a.Kind == ActionHuman {
		// settleLocked keeps human slots in awaiting-human, so this only
		// happens on a roster edited behind our back.
		s.status = dialogue.StatusAwaitingHuman
		return Action{}, ErrAwaitingHuman
	}
	s.pending = []Action{a}
	s.status = dialogue.StatusProducing
	return a, nil
}

// BeginOpening reserves the consecutive model seats starting at the cursor,
// stopping at the first human seat, the end of the first lap, or MaxRounds.
// The reserved actions can be produced concurrently; they each own one round.
func (s *Scheduler) BeginOpening() ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunningLocked(); err != nil {
		return nil, err
	}
	if s.round != 0 {
		return nil, errors.Wrapf(ErrAlreadyStarted, "opening requested at round %d", s.round)
	}

	n := s.roster.Len()
	var actions []Action
	for i := 0; i < n && s.round+len(actions) < s.maxRounds; i++ {
		a := s.actionAtLocked(s.cursor+i, s.round+1+i)
		if a.Kind != ActionModel {
			break
		}
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		return nil, ErrAwaitingHuman
	}
	s.pending = actions
	s.status = dialogue.StatusProducing
	return actions, nil
}

// BeginHuman reserves the awaited human turn and moves to producing.
func (s *Scheduler) BeginHuman() (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != dialogue.StatusAwaitingHuman {
		return Action{}, ErrNotAwaitingHuman
	}
	a := s.actionAtLocked(s.cursor, s.round+1)
	s.pending = []Action{a}
	s.status = dialogue.StatusProducing
	return a, nil
}

// Complete commits the pending actions. commit runs under the scheduler lock
// and is where the caller appends the produced turns; if it fails the
// scheduler returns to the state it had before Begin and nothing is consumed.
// When the session was cancelled or failed while the turn was in flight,
// commit is not called and ErrSessionTerminal is returned.
func (s *Scheduler) Complete(commit func(actions []Action) error) (dialogue.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.IsTerminal() {
		s.pending = nil
		return s.status, ErrSessionTerminal
	}
	if s.status != dialogue.StatusProducing || len(s.pending) == 0 {
		return s.status, ErrNoPendingTurn
	}

	pending := s.pending
	if commit != nil {
		if err := commit(pending); err != nil {
			s.pending = nil
			s.status = dialogue.StatusRunning
			s.settleLocked()
			return s.status, err
		}
	}

	s.cursor += len(pending)
	s.round = pending[len(pending)-1].RoundIndex
	s.pending = nil
	s.status = dialogue.StatusRunning
	s.settleLocked()

	log.Trace().
		Int("cursor", s.cursor).
		Int("round", s.round).
		Str("status", string(s.status)).
		Msg("scheduler advanced")
	return s.status, nil
}

// Abort releases pending actions without consuming them.
func (s *Scheduler) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != dialogue.StatusProducing {
		return
	}
	s.pending = nil
	s.status = dialogue.StatusRunning
	s.settleLocked()
}

// Exclusive runs fn while no turn is in flight.
func (s *Scheduler) Exclusive(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == dialogue.StatusProducing {
		return ErrTurnInProgress
	}
	return fn()
}

// Interject runs fn with the current round index while no turn is in flight.
// It does not move the cursor. Round 0 belongs to the initial prompt alone.
func (s *Scheduler) Interject(fn func(round int) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.status == dialogue.StatusIdle:
		return ErrNotStarted
	case s.status.IsTerminal():
		return ErrSessionTerminal
	case s.status == dialogue.StatusProducing:
		return ErrTurnInProgress
	case s.round == 0:
		return ErrOpeningRound
	}
	return fn(s.round)
}

// Cancel moves any non-terminal state to cancelled.
func (s *Scheduler) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return ErrSessionTerminal
	}
	s.status = dialogue.StatusCancelled
	s.pending = nil
	return nil
}

// Fail moves any non-terminal state to failed and records the cause.
func (s *Scheduler) Fail(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return ErrSessionTerminal
	}
	s.status = dialogue.StatusFailed
	s.err = cause
	s.pending = nil
	return nil
}

func (s *Scheduler) Status() dialogue.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Cursor is the position in the turn-order cycle of the next seat to act.
func (s *Scheduler) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Round is the round index of the last committed turn.
func (s *Scheduler) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

func (s *Scheduler) MaxRounds() int {
	return s.maxRounds
}

// Err returns the cause recorded by Fail.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Scheduler) checkRunningLocked() error {
	switch {
	case s.status == dialogue.StatusIdle:
		return ErrNotStarted
	case s.status.IsTerminal():
		return ErrSessionTerminal
	case s.status == dialogue.StatusProducing:
		return ErrTurnInProgress
	case s.status == dialogue.StatusAwaitingHuman:
		return ErrAwaitingHuman
	}
	return nil
}

func (s *Scheduler) actionAtLocked(cursor, round int) Action {
	slot := cursor % s.roster.Len()
	p := s.roster.At(slot)
	kind := ActionModel
	if p.IsHuman() {
		kind = ActionHuman
	}
	return Action{Kind: kind, Slot: slot, RoundIndex: round, Participant: p}
}

// settleLocked picks the resting state after a commit.
func (s *Scheduler) settleLocked() {
	if s.round >= s.maxRounds {
		s.status = dialogue.StatusCompleted
		return
	}
	if s.roster.At(s.cursor % s.roster.Len()).IsHuman() {
		s.status = dialogue.StatusAwaitingHuman
		return
	}
	s.status = dialogue.StatusRunning
}
