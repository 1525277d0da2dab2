package session

import (
	"context"
	"sync"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/engine/factory"
	"github.com/go-go-golems/symposium/pkg/events"
	"github.com/go-go-golems/symposium/pkg/export"
	"github.com/go-go-golems/symposium/pkg/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Manager runs many sessions keyed by id and persists a snapshot after
// every change. Sessions found only in the store are restored on demand.
type Manager struct {
	invokers factory.InvokerFactory
	store    store.Store
	sink     events.Sink
	renderer export.Renderer

	mu       sync.Mutex
	sessions map[string]*Controller
	options  []Option
}

type ManagerOption func(*Manager)

func WithStore(s store.Store) ManagerOption {
	return func(m *Manager) {
		m.store = s
	}
}

// WithEventSink adds a sink for session events. Sinks given by repeated
// options all receive every event.
func WithEventSink(s events.Sink) ManagerOption {
	return func(m *Manager) {
		if s == nil {
			return
		}
		switch cur := m.sink.(type) {
		case nil, *events.NullSink:
			m.sink = s
		case events.MultiSink:
			m.sink = append(cur, s)
		default:
			m.sink = events.MultiSink{cur, s}
		}
	}
}

// WithRenderer sets the service used for pdf and epub exports.
func WithRenderer(r export.Renderer) ManagerOption {
	return func(m *Manager) {
		m.renderer = r
	}
}

// WithControllerOptions adds options applied to every controller.
func WithControllerOptions(options ...Option) ManagerOption {
	return func(m *Manager) {
		m.options = append(m.options, options...)
	}
}

func NewManager(invokers factory.InvokerFactory, options ...ManagerOption) *Manager {
	m := &Manager{
		invokers: invokers,
		store:    store.NewMemory(),
		sink:     events.NewNullSink(),
		sessions: map[string]*Controller{},
	}
	for _, o := range options {
		o(m)
	}
	return m
}

func (m *Manager) controllerOptions(id string) []Option {
	ret := []Option{
		WithSessionID(id),
		WithInvokerFactory(m.invokers),
		WithSink(m.sink),
	}
	return append(ret, m.options...)
}

// Start creates and starts a session. The session is only registered when
// it started; a configuration error leaves nothing behind.
func (m *Manager) Start(ctx context.Context, cfg dialogue.Config, ps []dialogue.Participant) (string, Result, error) {
	id := uuid.NewString()
	c, err := NewController(m.controllerOptions(id)...)
	if err != nil {
		return "", Result{}, err
	}

	m.mu.Lock()
	m.sessions[id] = c
	m.mu.Unlock()

	res, err := c.Start(ctx, cfg, ps)
	if err != nil && c.Status() == dialogue.StatusIdle {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return "", res, err
	}
	if perr := m.persist(ctx, c); perr != nil {
		return id, res, perr
	}
	return id, res, err
}

// Get returns the controller of id, restoring it from the store if needed.
func (m *Manager) Get(ctx context.Context, id string) (*Controller, error) {
	m.mu.Lock()
	c, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return c, nil
	}

	snap, err := m.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrap(ErrSessionNotFound, id)
		}
		return nil, err
	}
	c, err = Restore(snap, m.controllerOptions(id)...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not restore session %s", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// another caller may have restored it meanwhile
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = c
	log.Debug().Str("session_id", id).Msg("restored session from store")
	return c, nil
}

// Session returns a snapshot of id.
func (m *Manager) Session(ctx context.Context, id string) (*dialogue.Session, error) {
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Snapshot(), nil
}

func (m *Manager) Advance(ctx context.Context, id string) (Result, error) {
	return m.mutate(ctx, id, func(c *Controller) (Result, error) {
		return c.AdvanceRound(ctx)
	})
}

func (m *Manager) SubmitHuman(ctx context.Context, id string, content string) (Result, error) {
	return m.mutate(ctx, id, func(c *Controller) (Result, error) {
		return c.SubmitHumanTurn(ctx, content)
	})
}

func (m *Manager) Interject(ctx context.Context, id string, content string) (Result, error) {
	return m.mutate(ctx, id, func(c *Controller) (Result, error) {
		return c.Interject(ctx, content)
	})
}

func (m *Manager) Cancel(ctx context.Context, id string) error {
	_, err := m.mutate(ctx, id, func(c *Controller) (Result, error) {
		err := c.Cancel()
		return Result{Status: c.Status()}, err
	})
	return err
}

// Mutate changes the model or persona of the seat at index before the
// first participant turn.
func (m *Manager) Mutate(ctx context.Context, id string, index int, modelID *string, persona *string) error {
	c, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.Mutate(index, modelID, persona); err != nil {
		return err
	}
	return m.persist(ctx, c)
}

// Run drives the session until it is terminal, saving it after every
// result. See Controller.RunToCompletion.
func (m *Manager) Run(ctx context.Context, id string, human HumanInputFunc, onResult func(Result)) (dialogue.Status, error) {
	c, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	status, err := c.RunToCompletion(ctx, human, func(res Result) {
		if perr := m.persist(ctx, c); perr != nil {
			log.Error().Err(perr).Str("session_id", id).Msg("could not persist session")
		}
		if onResult != nil {
			onResult(res)
		}
	})
	if perr := m.persist(ctx, c); perr != nil && err == nil {
		err = perr
	}
	return status, err
}

// mutate runs fn on the session and saves the snapshot when fn changed it.
func (m *Manager) mutate(ctx context.Context, id string, fn func(c *Controller) (Result, error)) (Result, error) {
	c, err := m.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	res, err := fn(c)
	if err != nil && len(res.Turns) == 0 && !c.Status().IsTerminal() {
		return res, err
	}
	if perr := m.persist(ctx, c); perr != nil {
		if err == nil {
			err = perr
		}
		log.Error().Err(perr).Str("session_id", id).Msg("could not persist session")
	}
	return res, err
}

// persist saves the snapshot of c unless the session was deleted meanwhile.
func (m *Manager) persist(ctx context.Context, c *Controller) error {
	m.mu.Lock()
	current, ok := m.sessions[c.ID()]
	m.mu.Unlock()
	if !ok || current != c {
		return nil
	}
	return m.store.Save(context.WithoutCancel(ctx), c.Snapshot())
}

// List returns the stored sessions matching q.
func (m *Manager) List(ctx context.Context, q store.Query) ([]store.Summary, error) {
	return m.store.List(ctx, q)
}

// Delete cancels the session if it is still running and removes it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok && !c.Status().IsTerminal() && c.Status() != dialogue.StatusIdle {
		_ = c.Cancel()
	}

	err := m.store.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if !ok {
			return errors.Wrap(ErrSessionNotFound, id)
		}
		err = nil
	}
	if err != nil {
		return err
	}
	if perr := m.sink.PublishEvent(events.NewSessionDeleted(id)); perr != nil {
		log.Warn().Err(perr).Str("session_id", id).Msg("could not publish event")
	}
	return nil
}

// Export renders the session. Remote formats fall back to plain text when
// the render service is unavailable.
func (m *Manager) Export(ctx context.Context, id string, format export.Format) (export.Output, error) {
	snap, err := m.Session(ctx, id)
	if err != nil {
		return export.Output{}, err
	}
	return export.ExportWithFallback(ctx, snap, format, m.renderer)
}

// Close cancels running sessions and closes the store.
func (m *Manager) Close() error {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		controllers = append(controllers, c)
	}
	m.mu.Unlock()
	for _, c := range controllers {
		if c.Status() == dialogue.StatusProducing {
			_ = c.Cancel()
		}
	}
	return m.store.Close()
}
