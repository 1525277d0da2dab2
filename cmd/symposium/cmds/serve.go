package cmds

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/go-go-golems/symposium/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dialogue API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("address")
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			m, err := env.manager(managerConfig{})
			if err != nil {
				return err
			}
			defer func() {
				if err := m.Close(); err != nil {
					log.Warn().Err(err).Msg("could not close session store")
				}
			}()

			options := []server.Option{server.WithCatalog(env.catalog)}
			if inv, err := env.factory.ForSource(""); err == nil {
				if lister, ok := inv.(engine.ModelLister); ok {
					options = append(options, server.WithModelLister(lister))
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.NewServer(m, options...).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().String("address", "localhost:8080", "Listen address")
	return cmd
}
