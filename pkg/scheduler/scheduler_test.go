package scheduler

import (
	"sync"
	"testing"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type roster []dialogue.Participant

func (r roster) Len() int                      { return len(r) }
func (r roster) At(i int) dialogue.Participant { return r[i] }

func models(n int) roster {
	r := roster{}
	for i := 1; i <= n; i++ {
		r = append(r, dialogue.Participant{ID: i, Kind: dialogue.ActorAI, ModelID: "m"})
	}
	return r
}

func withHuman(r roster) roster {
	return append(r, dialogue.Participant{ID: len(r) + 1, Kind: dialogue.ActorHuman})
}

// step runs one model turn through Begin/Complete and returns the acting seat.
func step(t *testing.T, s *Scheduler) Action {
	t.Helper()
	a, err := s.Begin()
	require.NoError(t, err)
	_, err = s.Complete(nil)
	require.NoError(t, err)
	return a
}

func TestStart_EmitsModeratorAtRoundZero(t *testing.T) {
	s := New(models(2), 3)
	require.Equal(t, dialogue.StatusIdle, s.Status())

	a, err := s.Start()
	require.NoError(t, err)
	require.Equal(t, ActionModerator, a.Kind)
	require.Equal(t, 0, a.RoundIndex)
	require.Equal(t, dialogue.StatusRunning, s.Status())

	_, err = s.Start()
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestBegin_BeforeStart(t *testing.T) {
	s := New(models(2), 3)
	_, err := s.Begin()
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestTwoParty_StrictAlternation(t *testing.T) {
	r := models(2)
	s := New(r, 10)
	_, err := s.Start()
	require.NoError(t, err)

	// transcript index i (i >= 1) is produced by participants[(i-1) mod 2]
	for i := 1; i <= 10; i++ {
		a := step(t, s)
		require.Equal(t, r[(i-1)%2].ID, a.Participant.ID, "turn %d", i)
		require.Equal(t, i, a.RoundIndex)
	}
	require.Equal(t, dialogue.StatusCompleted, s.Status())
}

func TestTwoParty_CompletesAfterMaxRounds(t *testing.T) {
	s := New(models(2), 5)
	_, err := s.Start()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NotEqual(t, dialogue.StatusCompleted, s.Status())
		step(t, s)
	}
	require.Equal(t, dialogue.StatusCompleted, s.Status())
	require.Equal(t, 5, s.Round())

	_, err = s.Begin()
	require.ErrorIs(t, err, ErrSessionTerminal)
}

func TestMultiParty_VisitsEverySlotOncePerLap(t *testing.T) {
	r := models(4)
	s := New(r, 12)
	_, err := s.Start()
	require.NoError(t, err)

	for lap := 0; lap < 3; lap++ {
		seen := []int{}
		for i := 0; i < len(r); i++ {
			seen = append(seen, step(t, s).Participant.ID)
		}
		require.Equal(t, []int{1, 2, 3, 4}, seen, "lap %d", lap)
	}
	require.Equal(t, dialogue.StatusCompleted, s.Status())
}

func TestMultiParty_HumanSlotPausesUntilSubmitted(t *testing.T) {
	r := withHuman(models(4))
	s := New(r, 5)
	_, err := s.Start()
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		step(t, s)
	}
	require.Equal(t, dialogue.StatusAwaitingHuman, s.Status())

	_, err = s.Begin()
	require.ErrorIs(t, err, ErrAwaitingHuman)

	a, err := s.BeginHuman()
	require.NoError(t, err)
	require.Equal(t, ActionHuman, a.Kind)
	require.Equal(t, 5, a.Participant.ID)
	require.Equal(t, 5, a.RoundIndex)

	status, err := s.Complete(nil)
	require.NoError(t, err)
	require.Equal(t, dialogue.StatusCompleted, status)
}

func TestMultiParty_RoundsSpanLaps(t *testing.T) {
	r := withHuman(models(2))
	s := New(r, 7)
	_, err := s.Start()
	require.NoError(t, err)

	var ids []int
	for s.Status() != dialogue.StatusCompleted {
		switch s.Status() {
		case dialogue.StatusAwaitingHuman:
			a, err := s.BeginHuman()
			require.NoError(t, err)
			_, err = s.Complete(nil)
			require.NoError(t, err)
			ids = append(ids, a.Participant.ID)
		default:
			ids = append(ids, step(t, s).Participant.ID)
		}
	}
	require.Equal(t, []int{1, 2, 3, 1, 2, 3, 1}, ids)
	require.Equal(t, 7, s.Cursor())
}

func TestBeginHuman_OutsideAwaitingHuman(t *testing.T) {
	s := New(withHuman(models(2)), 5)
	_, err := s.BeginHuman()
	require.ErrorIs(t, err, ErrNotAwaitingHuman)

	_, err = s.Start()
	require.NoError(t, err)
	_, err = s.BeginHuman()
	require.ErrorIs(t, err, ErrNotAwaitingHuman)
	require.Equal(t, dialogue.StatusRunning, s.Status())
	require.Equal(t, 0, s.Round())
}

func TestBegin_SecondConcurrentBeginFails(t *testing.T) {
	s := New(models(2), 5)
	_, err := s.Start()
	require.NoError(t, err)

	_, err = s.Begin()
	require.NoError(t, err)
	require.Equal(t, dialogue.StatusProducing, s.Status())

	_, err = s.Begin()
	require.ErrorIs(t, err, ErrTurnInProgress)
}

func TestBegin_RaceHasSingleWinner(t *testing.T) {
	s := New(models(2), 5)
	_, err := s.Start()
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Begin(); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrTurnInProgress) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestComplete_CommitErrorDoesNotConsumeTurn(t *testing.T) {
	s := New(models(2), 5)
	_, err := s.Start()
	require.NoError(t, err)

	a, err := s.Begin()
	require.NoError(t, err)
	boom := errors.New("append failed")
	_, err = s.Complete(func([]Action) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, dialogue.StatusRunning, s.Status())
	require.Equal(t, 0, s.Cursor())

	again, err := s.Begin()
	require.NoError(t, err)
	require.Equal(t, a, again)
}

func TestCancel_WhileProducingDropsTurn(t *testing.T) {
	s := New(models(2), 5)
	_, err := s.Start()
	require.NoError(t, err)
	_, err = s.Begin()
	require.NoError(t, err)

	require.NoError(t, s.Cancel())
	called := false
	status, err := s.Complete(func([]Action) error { called = true; return nil })
	require.ErrorIs(t, err, ErrSessionTerminal)
	require.False(t, called)
	require.Equal(t, dialogue.StatusCancelled, status)

	require.ErrorIs(t, s.Cancel(), ErrSessionTerminal)
}

func TestFail_RecordsCause(t *testing.T) {
	s := New(models(2), 5)
	_, err := s.Start()
	require.NoError(t, err)

	cause := errors.New("no such source")
	require.NoError(t, s.Fail(cause))
	require.Equal(t, dialogue.StatusFailed, s.Status())
	require.Equal(t, cause, s.Err())
	_, err = s.Begin()
	require.ErrorIs(t, err, ErrSessionTerminal)
}

func TestBeginOpening(t *testing.T) {
	t.Run("stops at the human slot", func(t *testing.T) {
		s := New(withHuman(models(4)), 10)
		_, err := s.Start()
		require.NoError(t, err)

		actions, err := s.BeginOpening()
		require.NoError(t, err)
		require.Len(t, actions, 4)
		for i, a := range actions {
			require.Equal(t, i+1, a.Participant.ID)
			require.Equal(t, i+1, a.RoundIndex)
		}

		status, err := s.Complete(nil)
		require.NoError(t, err)
		require.Equal(t, dialogue.StatusAwaitingHuman, status)
		require.Equal(t, 4, s.Round())
	})

	t.Run("bounded by max rounds", func(t *testing.T) {
		s := New(models(4), 2)
		_, err := s.Start()
		require.NoError(t, err)

		actions, err := s.BeginOpening()
		require.NoError(t, err)
		require.Len(t, actions, 2)
		status, err := s.Complete(nil)
		require.NoError(t, err)
		require.Equal(t, dialogue.StatusCompleted, status)
	})

	t.Run("only once", func(t *testing.T) {
		s := New(models(2), 6)
		_, err := s.Start()
		require.NoError(t, err)
		step(t, s)
		_, err = s.BeginOpening()
		require.ErrorIs(t, err, ErrAlreadyStarted)
	})
}

func TestInterject(t *testing.T) {
	s := New(models(2), 3)
	require.ErrorIs(t, s.Interject(func(int) error { return nil }), ErrNotStarted)

	_, err := s.Start()
	require.NoError(t, err)
	require.ErrorIs(t, s.Interject(func(int) error { return nil }), ErrOpeningRound)
	step(t, s)

	var got int
	require.NoError(t, s.Interject(func(round int) error { got = round; return nil }))
	require.Equal(t, 1, got)
	require.Equal(t, 1, s.Cursor())

	_, err = s.Begin()
	require.NoError(t, err)
	require.ErrorIs(t, s.Interject(func(int) error { return nil }), ErrTurnInProgress)
	s.Abort()
	require.Equal(t, dialogue.StatusRunning, s.Status())
}

func TestExclusive(t *testing.T) {
	s := New(models(2), 3)
	calls := 0
	bump := func() error { calls++; return nil }
	require.NoError(t, s.Exclusive(bump))

	_, err := s.Start()
	require.NoError(t, err)
	_, err = s.Begin()
	require.NoError(t, err)
	require.ErrorIs(t, s.Exclusive(bump), ErrTurnInProgress)
	s.Abort()
	require.NoError(t, s.Exclusive(bump))
	require.Equal(t, 2, calls)
}

func TestRestore(t *testing.T) {
	r := withHuman(models(2))

	s := Restore(r, 6, dialogue.StatusProducing, 2, 2)
	require.Equal(t, dialogue.StatusAwaitingHuman, s.Status())

	s = Restore(r, 6, dialogue.StatusRunning, 3, 3)
	require.Equal(t, dialogue.StatusRunning, s.Status())
	require.Equal(t, 1, step(t, s).Participant.ID)

	s = Restore(r, 6, dialogue.StatusCancelled, 3, 3)
	_, err := s.Begin()
	require.ErrorIs(t, err, ErrSessionTerminal)
}
