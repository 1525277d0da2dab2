package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/go-go-golems/symposium/pkg/engine/factory"
	"github.com/go-go-golems/symposium/pkg/events"
	"github.com/go-go-golems/symposium/pkg/export"
	"github.com/go-go-golems/symposium/pkg/participants"
	"github.com/go-go-golems/symposium/pkg/session"
	"github.com/go-go-golems/symposium/pkg/settings"
	"github.com/go-go-golems/symposium/pkg/store"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
)

// environment bundles what every command needs: the settings, the invoker
// factory built from them and the persona catalog.
type environment struct {
	settings *settings.Settings
	factory  *factory.StandardInvokerFactory
	catalog  *participants.Catalog
}

func loadEnvironment() (*environment, error) {
	s, err := settings.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	catalog, err := participants.DefaultCatalog()
	if s.PersonasFile != "" {
		var b []byte
		b, err = os.ReadFile(s.PersonasFile)
		if err != nil {
			return nil, errors.Wrap(err, "could not read personas file")
		}
		catalog, err = participants.LoadCatalog(b)
	}
	if err != nil {
		return nil, err
	}

	return &environment{
		settings: s,
		factory:  factory.NewStandardInvokerFactory(s),
		catalog:  catalog,
	}, nil
}

// generationOptions returns the configured temperature and context size.
func (e *environment) generationOptions() engine.Options {
	ret := engine.DefaultOptions()
	if e.settings.Temperature > 0 {
		ret.Temperature = e.settings.Temperature
	}
	if e.settings.NumCtx > 0 {
		ret.NumCtx = e.settings.NumCtx
	}
	return ret
}

func (e *environment) builder(extra ...engine.BuilderOption) (*engine.ContextBuilder, error) {
	options := []engine.BuilderOption{
		engine.WithCatalog(e.catalog),
		engine.WithOptions(e.generationOptions()),
		engine.WithTokenBudget(e.settings.ContextTokenBudget),
	}
	return engine.NewContextBuilder(append(options, extra...)...)
}

type managerConfig struct {
	sink    events.Sink
	builder *engine.ContextBuilder
	// ephemeral keeps sessions in memory only.
	ephemeral bool
}

func (e *environment) manager(cfg managerConfig) (*session.Manager, error) {
	storeSettings := e.settings.Store
	if cfg.ephemeral {
		storeSettings = settings.StoreSettings{Kind: settings.StoreMemory}
	}
	st, err := store.Open(storeSettings)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("kind", string(storeSettings.Kind)).Str("path", storeSettings.Path).Msg("opened session store")

	builder := cfg.builder
	if builder == nil {
		if builder, err = e.builder(); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	options := []session.ManagerOption{
		session.WithStore(st),
		session.WithControllerOptions(
			session.WithContextBuilder(builder),
			session.WithTurnTimeout(e.settings.TurnTimeout),
		),
	}
	if cfg.sink != nil {
		options = append(options, session.WithEventSink(cfg.sink))
	}
	if e.settings.RenderURL != "" {
		options = append(options, session.WithRenderer(export.NewHTTPRenderer(e.settings.RenderURL)))
	}
	return session.NewManager(e.factory, options...), nil
}

// turnPrinter writes turns to a terminal, styled through glamour when the
// output is a tty.
type turnPrinter struct {
	w      io.Writer
	styled bool
}

func newTurnPrinter(w io.Writer, plain bool) *turnPrinter {
	styled := false
	if f, ok := w.(*os.File); ok && !plain {
		styled = isatty.IsTerminal(f.Fd())
	}
	return &turnPrinter{w: w, styled: styled}
}

func (p *turnPrinter) PrintTurns(s *dialogue.Session, turns []dialogue.Turn) {
	for _, t := range turns {
		p.PrintTurn(s, t)
	}
}

func (p *turnPrinter) PrintTurn(s *dialogue.Session, t dialogue.Turn) {
	content := t.Content
	if t.Failed {
		content = "_" + content + "_"
	}
	if !p.styled {
		_, _ = fmt.Fprintf(p.w, "[%s - %s] round %d\n%s\n\n", export.Role(s, t), export.Speaker(t), t.RoundIndex, content)
		return
	}
	md := fmt.Sprintf("### %s\n\n*%s, round %d*\n\n%s\n", export.Speaker(t), strings.ToLower(export.Role(s, t)), t.RoundIndex, content)
	styled, err := glamour.Render(md, "dark")
	if err != nil {
		log.Debug().Err(err).Msg("could not style turn")
		styled = md
	}
	_, _ = fmt.Fprint(p.w, styled)
}

// errQuit is returned by the terminal prompt when the user asks to stop.
var errQuit = errors.New("stopped by user")

// terminalInput asks for human turns on the terminal. "/quit" stops the
// dialogue.
func terminalInput(r io.Reader, w io.Writer) session.HumanInputFunc {
	ui := &input.UI{Writer: w, Reader: r}
	return func(ctx context.Context, p dialogue.Participant, s *dialogue.Session) (string, error) {
		query := fmt.Sprintf("%s, it is your turn (round %d of %d, /quit to stop)",
			p.DisplayName(), s.RoundIndex()+1, s.Config.MaxRounds)
		answer, err := ui.Ask(query, &input.Options{
			Required:  true,
			Loop:      true,
			HideOrder: true,
		})
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(answer) == "/quit" {
			return "", errQuit
		}
		return answer, nil
	}
}

// drive runs a session to its end on the terminal. A session stopped by the
// user, or interrupted through ctx, is cancelled.
func drive(ctx context.Context, m *session.Manager, id string, printer *turnPrinter, human session.HumanInputFunc) (dialogue.Status, error) {
	var snap *dialogue.Session
	status, err := m.Run(ctx, id, human, func(res session.Result) {
		if snap == nil {
			snap, _ = m.Session(ctx, id)
		}
		if snap != nil {
			printer.PrintTurns(snap, res.Turns)
		}
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("session_id", id).Msg("model call failed")
		}
	})
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		if cerr := m.Cancel(context.WithoutCancel(ctx), id); cerr != nil {
			log.Warn().Err(cerr).Str("session_id", id).Msg("could not cancel session")
		}
		return dialogue.StatusCancelled, nil
	}
	return status, err
}
