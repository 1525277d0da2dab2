// Package session runs dialogues end to end.
//
// A Controller owns one dialogue: its participant registry, its transcript
// and its scheduler. It asks the scheduler who acts next, calls the model
// for that participant (or waits for the human), appends the produced turn
// and lets the scheduler advance. A Manager keeps many controllers keyed by
// session id and persists their snapshots.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/go-go-golems/symposium/pkg/engine/factory"
	"github.com/go-go-golems/symposium/pkg/events"
	"github.com/go-go-golems/symposium/pkg/participants"
	"github.com/go-go-golems/symposium/pkg/scheduler"
	"github.com/go-go-golems/symposium/pkg/transcript"
	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyInput            = errors.New("input is empty")
	ErrModelInvocationFailed = errors.New("model invocation failed")
	ErrSessionNotFound       = errors.New("session not found")
	ErrNoInvoker             = errors.New("no model invoker configured")
)

// FailedTurnContent is the content of the synthetic turn appended in place
// of a failed model call.
const FailedTurnContent = "[no response: the model call failed]"

// Result describes what one controller call appended.
type Result struct {
	// Turn is the last appended turn.
	Turn dialogue.Turn
	// Turns holds every turn appended by the call, in transcript order.
	Turns  []dialogue.Turn
	Status dialogue.Status
	// Err wraps ErrModelInvocationFailed when a model call failed. The
	// failed turn was still appended and the round still counted.
	Err error
}

// Controller runs one dialogue session. It is safe for concurrent use; at
// most one turn is produced at a time.
type Controller struct {
	id          string
	invokers    factory.InvokerFactory
	builder     *engine.ContextBuilder
	sink        events.Sink
	turnTimeout time.Duration

	registry   *participants.Registry
	transcript *transcript.Store

	mu        sync.Mutex
	cfg       dialogue.Config
	scheduler *scheduler.Scheduler
	createdAt time.Time
	updatedAt time.Time
	inflight  map[int]context.CancelFunc
	nextCall  int
}

type Option func(*Controller)

// WithSessionID sets the session id instead of a generated uuid.
func WithSessionID(id string) Option {
	return func(c *Controller) {
		c.id = id
	}
}

// WithInvokerFactory resolves invokers per participant source.
func WithInvokerFactory(f factory.InvokerFactory) Option {
	return func(c *Controller) {
		c.invokers = f
	}
}

// WithInvoker serves every participant with the same invoker.
func WithInvoker(inv engine.Invoker) Option {
	return func(c *Controller) {
		c.invokers = staticFactory{invoker: inv}
	}
}

func WithContextBuilder(b *engine.ContextBuilder) Option {
	return func(c *Controller) {
		c.builder = b
	}
}

func WithSink(s events.Sink) Option {
	return func(c *Controller) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithTurnTimeout bounds every model call. An expired call takes the model
// failure path.
func WithTurnTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.turnTimeout = d
	}
}

type staticFactory struct {
	invoker engine.Invoker
}

func (s staticFactory) ForParticipant(dialogue.Participant) (engine.Invoker, error) {
	if s.invoker == nil {
		return nil, ErrNoInvoker
	}
	return s.invoker, nil
}

// NewController returns an idle controller.
func NewController(options ...Option) (*Controller, error) {
	c := &Controller{
		id:         uuid.NewString(),
		sink:       events.NewNullSink(),
		registry:   participants.NewRegistry(),
		transcript: transcript.NewStore(),
		inflight:   map[int]context.CancelFunc{},
	}
	for _, o := range options {
		o(c)
	}
	if c.invokers == nil {
		c.invokers = staticFactory{}
	}
	if c.builder == nil {
		b, err := engine.NewContextBuilder()
		if err != nil {
			return nil, err
		}
		c.builder = b
	}
	return c, nil
}

// Restore rebuilds a controller from a persisted snapshot so that a saved
// session can be inspected, exported or continued.
func Restore(s *dialogue.Session, options ...Option) (*Controller, error) {
	if s == nil {
		return nil, errors.New("session is nil")
	}
	c, err := NewController(append([]Option{WithSessionID(s.ID)}, options...)...)
	if err != nil {
		return nil, err
	}
	cfg := s.Config.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := c.registry.Configure(s.Participants, cfg.Mode); err != nil {
		return nil, err
	}
	store, err := transcript.FromTurns(s.Transcript)
	if err != nil {
		return nil, err
	}
	if store.LastRound() > 0 {
		c.registry.Lock()
	}

	status := s.Status
	if status == "" {
		status = dialogue.StatusIdle
	}
	if status != dialogue.StatusIdle && store.Len() == 0 {
		return nil, errors.Errorf("session %s is %s but has no transcript", s.ID, status)
	}

	c.cfg = cfg
	c.transcript = store
	c.createdAt = s.CreatedAt
	c.updatedAt = s.UpdatedAt
	if status != dialogue.StatusIdle {
		c.scheduler = scheduler.Restore(c.registry, cfg.MaxRounds, status, s.Cursor, store.LastRound())
	}
	return c, nil
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) Status() dialogue.Status {
	s := c.sched()
	if s == nil {
		return dialogue.StatusIdle
	}
	return s.Status()
}

func (c *Controller) sched() *scheduler.Scheduler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduler
}

// Start validates the configuration, appends the moderator turn and runs the
// opening. A discussion opens with every model seat ahead of the first human
// seat answering concurrently; a debate opens with the moderator turn only
// and its first AdvanceRound produces the single opening statement.
func (c *Controller) Start(ctx context.Context, cfg dialogue.Config, ps []dialogue.Participant) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{Status: c.Status()}, err
	}
	cfg = cfg.Normalize()

	c.mu.Lock()
	if c.scheduler != nil {
		c.mu.Unlock()
		return Result{Status: c.Status()}, scheduler.ErrAlreadyStarted
	}
	if err := c.registry.Configure(ps, cfg.Mode); err != nil {
		c.mu.Unlock()
		return Result{Status: dialogue.StatusIdle}, err
	}
	for _, p := range c.registry.Participants() {
		if p.IsHuman() {
			continue
		}
		if _, err := c.invokers.ForParticipant(p); err != nil {
			c.mu.Unlock()
			return Result{Status: dialogue.StatusIdle},
				errors.Wrapf(participants.ErrInvalidConfiguration, "participant %d: %v", p.ID, err)
		}
	}
	c.cfg = cfg
	c.scheduler = scheduler.New(c.registry, cfg.MaxRounds)
	now := time.Now().UTC()
	if c.createdAt.IsZero() {
		c.createdAt = now
	}
	c.updatedAt = now
	sched := c.scheduler
	c.mu.Unlock()

	if _, err := sched.Start(); err != nil {
		return Result{Status: sched.Status()}, err
	}
	mod, err := c.transcript.Append(dialogue.Turn{
		RoundIndex:    0,
		ParticipantID: dialogue.ModeratorID,
		DisplayName:   dialogue.ModeratorName,
		Content:       cfg.InitialPrompt,
	})
	if err != nil {
		_ = sched.Fail(err)
		return Result{Status: sched.Status()}, err
	}

	log.Info().
		Str("session_id", c.id).
		Str("mode", string(cfg.Mode)).
		Str("kind", string(cfg.Kind)).
		Int("max_rounds", cfg.MaxRounds).
		Msg("dialogue started")
	c.publish(events.NewSessionStarted(c.id, cfg, c.registry.Participants()))
	c.publish(events.NewTurnAppended(c.id, mod))
	c.publishStatus(dialogue.StatusIdle, sched.Status(), nil)

	res := Result{Turn: mod, Turns: []dialogue.Turn{mod}, Status: sched.Status()}
	if cfg.Kind != dialogue.KindDiscussion {
		return res, nil
	}

	opening, err := c.open(ctx)
	if err != nil {
		if errors.Is(err, scheduler.ErrAwaitingHuman) {
			return res, nil
		}
		return Result{Turn: mod, Turns: res.Turns, Status: c.Status()}, err
	}
	opening.Turns = append(res.Turns, opening.Turns...)
	return opening, nil
}

// open fans out to the opening seats. Every call sees only the moderator
// turn; the produced turns are appended in seat order once all have returned.
func (c *Controller) open(ctx context.Context) (Result, error) {
	sched := c.sched()
	actions, err := sched.BeginOpening()
	if err != nil {
		return Result{}, err
	}
	history := c.transcript.All()

	produced := make([]producedTurn, len(actions))
	eg := errgroup.Group{}
	for i, a := range actions {
		i, a := i, a
		eg.Go(func() error {
			produced[i] = c.produce(ctx, a, history)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		sched.Abort()
		return Result{Status: sched.Status()}, err
	}
	log.Debug().Str("session_id", c.id).Int("turns", len(produced)).Msg("opening statements joined")
	return c.commit(sched, dialogue.StatusRunning, produced)
}

// AdvanceRound produces the next model turn. Protocol errors leave the
// session untouched; a failed model call is reported in Result.Err.
func (c *Controller) AdvanceRound(ctx context.Context) (Result, error) {
	sched := c.sched()
	if sched == nil {
		return Result{Status: dialogue.StatusIdle}, scheduler.ErrNotStarted
	}
	a, err := sched.Begin()
	if err != nil {
		return Result{Status: sched.Status()}, err
	}
	p := c.produce(ctx, a, c.transcript.All())
	if err := ctx.Err(); err != nil && sched.Status() == dialogue.StatusProducing {
		// the caller gave up, the round is not consumed
		sched.Abort()
		return Result{Status: sched.Status()}, err
	}
	return c.commit(sched, dialogue.StatusRunning, []producedTurn{p})
}

// SubmitHumanTurn appends the awaited human turn.
func (c *Controller) SubmitHumanTurn(ctx context.Context, content string) (Result, error) {
	sched := c.sched()
	if sched == nil || sched.Status() != dialogue.StatusAwaitingHuman {
		return Result{Status: c.Status()}, scheduler.ErrNotAwaitingHuman
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Result{Status: sched.Status()}, ErrEmptyInput
	}
	a, err := sched.BeginHuman()
	if err != nil {
		return Result{Status: sched.Status()}, err
	}
	return c.commit(sched, dialogue.StatusAwaitingHuman, []producedTurn{{action: a, turn: newTurn(a, content)}})
}

// Interject appends a moderator turn at the current round without moving
// the turn order.
func (c *Controller) Interject(ctx context.Context, content string) (Result, error) {
	sched := c.sched()
	if sched == nil {
		return Result{Status: dialogue.StatusIdle}, scheduler.ErrNotStarted
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Result{Status: sched.Status()}, ErrEmptyInput
	}

	var stored dialogue.Turn
	err := sched.Interject(func(round int) error {
		var err error
		stored, err = c.transcript.Append(dialogue.Turn{
			RoundIndex:    round,
			ParticipantID: dialogue.ModeratorID,
			DisplayName:   dialogue.ModeratorName,
			Content:       content,
		})
		return err
	})
	if err != nil {
		return Result{Status: sched.Status()}, err
	}
	c.touch()
	c.publish(events.NewTurnAppended(c.id, stored))
	return Result{Turn: stored, Turns: []dialogue.Turn{stored}, Status: sched.Status()}, nil
}

// Cancel stops the session. A model call in flight is abandoned and its
// result dropped. The transcript is kept.
func (c *Controller) Cancel() error {
	sched := c.sched()
	if sched == nil {
		return scheduler.ErrNotStarted
	}
	from := sched.Status()
	if err := sched.Cancel(); err != nil {
		return err
	}

	c.mu.Lock()
	for _, cancel := range c.inflight {
		cancel()
	}
	c.mu.Unlock()

	c.touch()
	log.Info().Str("session_id", c.id).Msg("dialogue cancelled")
	c.publishStatus(from, dialogue.StatusCancelled, nil)
	return nil
}

// Mutate edits the model or persona of a seat until the first turn beyond
// the moderator prompt exists. It fails while that turn is being produced.
func (c *Controller) Mutate(index int, modelID *string, persona *string) error {
	mutate := func() error {
		return c.registry.Mutate(index, modelID, persona)
	}
	var err error
	if sched := c.sched(); sched != nil {
		err = sched.Exclusive(mutate)
	} else {
		err = mutate()
	}
	if err != nil {
		return err
	}
	c.touch()
	return nil
}

// Snapshot returns a deep copy of the session.
func (c *Controller) Snapshot() *dialogue.Session {
	c.mu.Lock()
	s := &dialogue.Session{
		ID:           c.id,
		Config:       c.cfg,
		Participants: c.registry.Participants(),
		Transcript:   c.transcript.All(),
		Status:       dialogue.StatusIdle,
		CreatedAt:    c.createdAt,
		UpdatedAt:    c.updatedAt,
	}
	sched := c.scheduler
	c.mu.Unlock()

	if sched != nil {
		s.Status = sched.Status()
		s.Cursor = sched.Cursor()
	}
	return clone.Clone(s).(*dialogue.Session)
}

// HumanInputFunc supplies the content of an awaited human turn.
type HumanInputFunc func(ctx context.Context, p dialogue.Participant, s *dialogue.Session) (string, error)

// RunToCompletion advances until the session is terminal. When a human seat
// is up, human is asked for the content; with a nil human the loop returns
// while awaiting. onResult, if set, sees every result.
func (c *Controller) RunToCompletion(ctx context.Context, human HumanInputFunc, onResult func(Result)) (dialogue.Status, error) {
	for {
		if err := ctx.Err(); err != nil {
			return c.Status(), err
		}
		status := c.Status()
		var (
			res Result
			err error
		)
		switch {
		case status.IsTerminal():
			return status, nil
		case status == dialogue.StatusIdle:
			return status, scheduler.ErrNotStarted
		case status == dialogue.StatusAwaitingHuman:
			if human == nil {
				return status, nil
			}
			content, herr := human(ctx, c.awaitedSeat(), c.Snapshot())
			if herr != nil {
				return c.Status(), herr
			}
			res, err = c.SubmitHumanTurn(ctx, content)
			if errors.Is(err, ErrEmptyInput) {
				continue
			}
		default:
			res, err = c.AdvanceRound(ctx)
		}
		if err != nil {
			return c.Status(), err
		}
		if onResult != nil {
			onResult(res)
		}
	}
}

// awaitedSeat returns the seat at the cursor.
func (c *Controller) awaitedSeat() dialogue.Participant {
	sched := c.sched()
	n := c.registry.Len()
	if sched == nil || n == 0 {
		return dialogue.Participant{}
	}
	return c.registry.At(sched.Cursor() % n)
}

type producedTurn struct {
	action scheduler.Action
	turn   dialogue.Turn
	err    error
}

func newTurn(a scheduler.Action, content string) dialogue.Turn {
	return dialogue.Turn{
		RoundIndex:    a.RoundIndex,
		ParticipantID: a.Participant.ID,
		DisplayName:   a.Participant.DisplayName(),
		Persona:       a.Participant.Persona,
		Content:       content,
	}
}

// produce calls the model of one seat. It never fails: errors become a
// synthetic failed turn.
func (c *Controller) produce(ctx context.Context, a scheduler.Action, history []dialogue.Turn) producedTurn {
	content, err := c.invoke(ctx, a, history)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", c.id).
			Int("participant", a.Participant.ID).
			Int("round", a.RoundIndex).
			Msg("model call failed")
		t := newTurn(a, FailedTurnContent)
		t.Failed = true
		t.Error = err.Error()
		return producedTurn{action: a, turn: t, err: err}
	}
	return producedTurn{action: a, turn: newTurn(a, content)}
}

func (c *Controller) invoke(ctx context.Context, a scheduler.Action, history []dialogue.Turn) (string, error) {
	inv, err := c.invokers.ForParticipant(a.Participant)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()
	req, err := c.builder.Build(cfg, c.registry.Participants(), a.Participant, history)
	if err != nil {
		return "", err
	}
	req.SessionID = c.id

	callCtx, cancel := context.WithCancel(ctx)
	if c.turnTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.turnTimeout)
	}
	key := c.track(cancel)
	defer c.untrack(key)
	callCtx = engine.WithTurnMeta(callCtx, engine.TurnMeta{
		SessionID:     c.id,
		ParticipantID: a.Participant.ID,
		RoundIndex:    a.RoundIndex,
	})

	start := time.Now()
	content, err := inv.InvokeModel(callCtx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("model returned an empty reply")
	}
	log.Debug().
		Str("session_id", c.id).
		Int("participant", a.Participant.ID).
		Int("round", a.RoundIndex).
		Dur("took", time.Since(start)).
		Msg("model turn produced")
	return strings.TrimSpace(content), nil
}

func (c *Controller) track(cancel context.CancelFunc) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextCall++
	c.inflight[c.nextCall] = cancel
	return c.nextCall
}

func (c *Controller) untrack(key int) {
	c.mu.Lock()
	cancel := c.inflight[key]
	delete(c.inflight, key)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// commit appends produced turns through the scheduler and publishes them.
// from is the resting status before the turn was begun.
func (c *Controller) commit(sched *scheduler.Scheduler, from dialogue.Status, produced []producedTurn) (Result, error) {
	stored := make([]dialogue.Turn, 0, len(produced))
	status, err := sched.Complete(func([]scheduler.Action) error {
		for _, p := range produced {
			t, err := c.transcript.Append(p.turn)
			if err != nil {
				return err
			}
			stored = append(stored, t)
		}
		c.registry.Lock()
		return nil
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrSessionTerminal) {
			log.Debug().Str("session_id", c.id).Msg("dropped turn produced after the session ended")
		}
		return Result{Status: status}, err
	}
	c.touch()

	var failures []string
	for _, t := range stored {
		c.publish(events.NewTurnAppended(c.id, t))
	}
	for _, p := range produced {
		if p.err != nil {
			failures = append(failures, p.err.Error())
		}
	}
	res := Result{Turns: stored, Status: status}
	if len(stored) > 0 {
		res.Turn = stored[len(stored)-1]
	}
	if len(failures) > 0 {
		res.Err = errors.Wrap(ErrModelInvocationFailed, strings.Join(failures, "; "))
	}

	if status != from {
		c.publishStatus(from, status, nil)
	}
	if status == dialogue.StatusAwaitingHuman {
		seat := c.awaitedSeat()
		c.publish(events.NewAwaitingHuman(c.id, seat.ID, sched.Round()+1))
	}
	return res, nil
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.updatedAt = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Controller) publish(e events.Event) {
	if err := c.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("session_id", c.id).Str("event_type", string(e.Type())).Msg("could not publish event")
	}
}

func (c *Controller) publishStatus(from, to dialogue.Status, cause error) {
	if from == to {
		return
	}
	c.publish(events.NewStatusChanged(c.id, from, to, cause))
}
