package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNewEventFromJson_RoundTrip(t *testing.T) {
	turn := dialogue.Turn{ID: "t1", RoundIndex: 2, ParticipantID: 1, Content: "hi", Failed: true}
	for _, ev := range []Event{
		NewSessionStarted("s", dialogue.Config{Mode: dialogue.ModeTwoParty, InitialPrompt: "x", MaxRounds: 2}, nil),
		NewTurnAppended("s", turn),
		NewAwaitingHuman("s", 5, 5),
		NewStatusChanged("s", dialogue.StatusRunning, dialogue.StatusFailed, errors.New("boom")),
		NewSessionDeleted("s"),
	} {
		b, err := json.Marshal(ev)
		require.NoError(t, err)
		got, err := NewEventFromJson(b)
		require.NoError(t, err)
		require.Equal(t, ev.Type(), got.Type())
		require.Equal(t, "s", got.SessionID())
	}

	_, err := NewEventFromJson([]byte(`{"type":"nope"}`))
	require.Error(t, err)
}

func TestNewTurnAppended_FailedTurnType(t *testing.T) {
	require.Equal(t, EventTypeTurnAppended, NewTurnAppended("s", dialogue.Turn{}).Type())
	require.Equal(t, EventTypeTurnFailed, NewTurnAppended("s", dialogue.Turn{Failed: true}).Type())
}

func TestWatermillSink_PublishesWithMetadata(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubsub.Close() }()

	msgs, err := pubsub.Subscribe(context.Background(), "topic")
	require.NoError(t, err)

	sink := NewWatermillSink(pubsub, "topic")
	require.NoError(t, sink.PublishEvent(NewSessionDeleted("abc")))
	require.NoError(t, sink.PublishEvent(NewSessionDeleted("abc")))

	seqs := []string{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-msgs:
			require.Equal(t, "abc", msg.Metadata.Get("session_id"))
			require.Equal(t, string(EventTypeSessionDeleted), msg.Metadata.Get("event_type"))
			seqs = append(seqs, msg.Metadata.Get("sequence_number"))
			msg.Ack()
		case <-time.After(time.Second):
			t.Fatal("no message")
		}
	}
	require.ElementsMatch(t, []string{"0", "1"}, seqs)
}

func TestRecorderAndMultiSink(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	m := MultiSink{a, NewNullSink(), b}
	require.NoError(t, m.PublishEvent(NewSessionDeleted("x")))
	require.Equal(t, []EventType{EventTypeSessionDeleted}, a.Types())
	require.Len(t, b.Events(), 1)
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestEventRouter_DispatchesToHandlers(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []Event
	)
	done := make(chan struct{})
	router.AddEventHandler("collect", func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		if len(got) == 2 {
			close(done)
		}
		return nil
	})
	out := &syncBuffer{}
	router.AddHandler("print", TopicSessions, router.EventPrinter(out))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	sink := router.Sink()
	require.NoError(t, sink.PublishEvent(NewTurnAppended("s1", dialogue.Turn{RoundIndex: 1, ParticipantID: 2, Content: "x"})))
	require.NoError(t, sink.PublishEvent(NewStatusChanged("s1", dialogue.StatusRunning, dialogue.StatusCompleted, nil)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not receive events")
	}
	require.NoError(t, router.Close())

	mu.Lock()
	require.Equal(t, EventTypeTurnAppended, got[0].Type())
	require.Equal(t, EventTypeStatusChanged, got[1].Type())
	mu.Unlock()

	printed := out.String()
	require.Contains(t, printed, `"participant_id":2`)
	require.False(t, strings.Contains(printed, `"turn"`))
}
