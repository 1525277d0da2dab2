package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/events"
	"github.com/go-go-golems/symposium/pkg/scenario"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a dialogue from a scenario file or from flags",
		Example: `  symposium run --scenario debate.yaml
  symposium run --prompt "Is a hot dog a sandwich?" --seat llama3 --seat model=mistral,persona=INTP --max-rounds 6
  symposium run --mode multi-party --kind discussion --prompt "Ban cars?" --seat llama3 --seat mistral --seat human`,
		Args: cobra.NoArgs,
		RunE: runDialogue,
	}
	cmd.Flags().String("scenario", "", "Scenario file (see `symposium schema`)")
	cmd.Flags().String("mode", string(dialogue.ModeTwoParty), "two-party or multi-party")
	cmd.Flags().String("kind", string(dialogue.KindDebate), "debate or discussion")
	cmd.Flags().String("prompt", "", "Moderator prompt")
	cmd.Flags().String("title", "", "Session title")
	cmd.Flags().Int("max-rounds", 10, "Number of rounds")
	cmd.Flags().StringArray("seat", nil, "Seat, in order: human, a model name, or model=...,persona=...,source=...,name=...")
	cmd.Flags().String("document", "", "Background document (txt, md or html)")
	cmd.Flags().Bool("print-events", false, "Print session events to stderr")
	cmd.Flags().Bool("no-save", false, "Keep the session in memory only")
	cmd.Flags().Bool("plain", false, "Do not style output")
	return cmd
}

func runDialogue(cmd *cobra.Command, _ []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	sc, err := scenarioFromFlags(cmd)
	if err != nil {
		return err
	}
	builder, err := env.builder(sc.BuilderOptions(env.generationOptions())...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	printEvents, _ := cmd.Flags().GetBool("print-events")
	noSave, _ := cmd.Flags().GetBool("no-save")
	plain, _ := cmd.Flags().GetBool("plain")
	verbose := viper.GetBool("verbose")

	cfg := managerConfig{builder: builder, ephemeral: noSave}
	var router *events.EventRouter
	if printEvents {
		router, err = events.NewEventRouter(
			events.WithVerbose(verbose),
			events.WithLogger(events.NewWatermillLogger(log.Logger)),
		)
		if err != nil {
			return err
		}
		router.AddHandler("printer", events.TopicSessions, router.EventPrinter(os.Stderr))
		router.AddEventHandler("logger", logSessionEvent(log.Logger))
		cfg.sink = router.Sink()
	}

	m, err := env.manager(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close session store")
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	if router != nil {
		eg.Go(func() error {
			return router.Run(ctx)
		})
	}

	eg.Go(func() error {
		defer cancel()
		if router != nil {
			select {
			case <-router.Running():
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		printer := newTurnPrinter(os.Stdout, plain)
		id, res, err := m.Start(ctx, sc.Config(), sc.DialogueParticipants())
		if err != nil && id == "" {
			return err
		}
		snap, serr := m.Session(ctx, id)
		if serr != nil {
			return serr
		}
		printer.PrintTurns(snap, res.Turns)
		if err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("opening round failed")
		}

		status, err := drive(ctx, m, id, printer, terminalInput(os.Stdin, os.Stderr))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "session %s: %s\n", id, status)
		return nil
	})

	err = eg.Wait()
	if router != nil {
		if cerr := router.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("could not close event router")
		}
	}
	return err
}

// scenarioFromFlags loads --scenario, or assembles a scenario from the
// individual flags.
func scenarioFromFlags(cmd *cobra.Command) (*scenario.Scenario, error) {
	path, _ := cmd.Flags().GetString("scenario")
	if path != "" {
		return scenario.Load(path)
	}

	mode, _ := cmd.Flags().GetString("mode")
	kind, _ := cmd.Flags().GetString("kind")
	prompt, _ := cmd.Flags().GetString("prompt")
	title, _ := cmd.Flags().GetString("title")
	maxRounds, _ := cmd.Flags().GetInt("max-rounds")
	seats, _ := cmd.Flags().GetStringArray("seat")
	document, _ := cmd.Flags().GetString("document")

	sc := &scenario.Scenario{
		Title:     title,
		Mode:      dialogue.Mode(mode),
		Kind:      dialogue.Kind(kind),
		Prompt:    prompt,
		MaxRounds: maxRounds,
	}
	for _, s := range seats {
		p, err := ParseSeat(s)
		if err != nil {
			return nil, err
		}
		sc.Participants = append(sc.Participants, p)
	}
	if err := sc.Config().Validate(); err != nil {
		return nil, err
	}
	if document != "" {
		text, err := scenario.LoadDocument(document)
		if err != nil {
			return nil, err
		}
		sc.SetDocumentText(text)
	}
	return sc, nil
}

// logSessionEvent logs failed turns and status changes, the rest at debug
// level.
func logSessionEvent(logger zerolog.Logger) func(ctx context.Context, ev events.Event) error {
	return func(_ context.Context, ev events.Event) error {
		switch e := ev.(type) {
		case *events.EventTurn:
			if e.Turn.Failed {
				logger.Warn().Str("session_id", e.SessionID()).Int("round", e.Turn.RoundIndex).
					Str("participant", e.Turn.DisplayName).Str("error", e.Turn.Error).Msg("turn failed")
				return nil
			}
		case *events.EventStatusChanged:
			l := logger.Info()
			if e.Error != "" {
				l.Discard()
				l = logger.Warn().Str("error", e.Error)
			}
			l.Str("session_id", e.SessionID()).Str("from", string(e.From)).Str("to", string(e.To)).Msg("status changed")
			return nil
		}
		logger.Debug().Str("session_id", ev.SessionID()).Str("type", string(ev.Type())).Msg("session event")
		return nil
	}
}

// ParseSeat parses a --seat value: "human", a bare model name, or a comma
// separated list of key=value pairs with the keys kind, model, persona,
// source and name.
func ParseSeat(s string) (scenario.Participant, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return scenario.Participant{}, errors.New("empty seat")
	case strings.EqualFold(s, string(dialogue.ActorHuman)):
		return scenario.Participant{Kind: dialogue.ActorHuman}, nil
	case !strings.Contains(s, "="):
		return scenario.Participant{Kind: dialogue.ActorAI, Model: s}, nil
	}

	p := scenario.Participant{Kind: dialogue.ActorAI}
	for _, field := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(field, "=")
		k, v = strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)
		if !ok {
			if strings.EqualFold(k, string(dialogue.ActorHuman)) {
				p.Kind = dialogue.ActorHuman
				continue
			}
			return p, errors.Errorf("invalid seat field %q in %q", field, s)
		}
		switch k {
		case "kind":
			p.Kind = dialogue.ActorKind(strings.ToLower(v))
		case "model":
			p.Model = v
		case "persona":
			p.Persona = v
		case "source":
			p.Source = v
		case "name":
			p.Name = v
		default:
			return p, errors.Errorf("unknown seat field %q in %q", k, s)
		}
	}
	if p.Kind != dialogue.ActorAI && p.Kind != dialogue.ActorHuman {
		return p, errors.Errorf("unknown seat kind %q", p.Kind)
	}
	return p, nil
}
