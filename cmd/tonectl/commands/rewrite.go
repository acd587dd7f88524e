package commands

import (
	"bufio"
	"strings"

	"github.com/spf13/cobra"

	"speech-tone-service/internal/service/orchestrator"
)

func newRewriteCmd(opts *options) *cobra.Command {
	var punctuate bool

	cmd := &cobra.Command{
		Use:   "rewrite [text...]",
		Short: "Rewrite text in the selected mode",
		Long: `Rewrite text in the selected mode.

With arguments, the joined arguments are rewritten as one text. Without
arguments, every line of stdin is rewritten on its own.

Examples:
  tonectl rewrite --mode formal "I'm very tired"
  echo "I really need assistance" | tonectl rewrite -m casual`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, mode, err := opts.engine()
			if err != nil {
				return err
			}

			render := func(text string) string {
				out := engine.Rewrite(text, mode)
				if punctuate {
					out = orchestrator.Punctuate(out)
				}
				return out
			}

			if len(args) > 0 {
				return writeLine(cmd.OutOrStdout(), render(strings.Join(args, " ")))
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				if err := writeLine(cmd.OutOrStdout(), render(scanner.Text())); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().BoolVarP(&punctuate, "punctuate", "p", false, "terminate output like a FINAL")
	return cmd
}
