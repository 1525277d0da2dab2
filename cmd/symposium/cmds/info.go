package cmds

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/go-go-golems/symposium/pkg/scenario"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewPersonasCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "List the personas participants can be given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			full, _ := cmd.Flags().GetBool("prompts")
			for _, p := range env.catalog.Personas() {
				if full {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n  %s\n\n", p.Key, p.Prompt)
					continue
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), p.Key)
			}
			return nil
		},
	}
	cmd.Flags().Bool("prompts", false, "Print the persona prompts too")
	return cmd
}

func NewModelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models available on a model source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			source, _ := cmd.Flags().GetString("source")
			inv, err := env.factory.ForSource(source)
			if err != nil {
				return err
			}
			lister, ok := inv.(engine.ModelLister)
			if !ok {
				return errors.Errorf("source %q cannot list its models", source)
			}
			models, err := lister.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			sort.Strings(models)
			for _, m := range models {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().String("source", "", "Model source (default: the configured default source)")
	return cmd
}

func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of scenario files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := scenario.SchemaJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
}

func encodeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
