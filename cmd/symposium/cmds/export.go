package cmds

import (
	"fmt"
	"os"

	"github.com/go-go-golems/symposium/pkg/export"
	"github.com/go-go-golems/symposium/pkg/session"
	"github.com/spf13/cobra"
)

func NewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Export a saved dialogue as txt, md, html, pdf or epub",
		Long: `Export a saved dialogue. txt, md and html are rendered locally, pdf and
epub through the render service configured with render_url. When the
service cannot be reached the dialogue is exported as plain text instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			format, err := export.ParseFormat(f)
			if err != nil {
				return err
			}

			return withManager(func(m *session.Manager) error {
				out, err := m.Export(cmd.Context(), args[0], format)
				if err != nil {
					return err
				}
				if out.Fallback {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "render service unavailable, exported as %s\n", out.Format)
				}
				if output == "-" {
					_, err = cmd.OutOrStdout().Write(out.Data)
					return err
				}
				if output == "" {
					output = out.FileName
				}
				if err := os.WriteFile(output, out.Data, 0o644); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringP("format", "f", string(export.FormatText), "txt, md, html, pdf or epub")
	cmd.Flags().StringP("output", "o", "", "Output file, - for stdout (default dialogue_<id>.<ext>)")
	return cmd
}
