package commands

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"speech-tone-service/internal/models"
	"speech-tone-service/internal/schema"
)

func newReplayCmd(opts *options) *cobra.Command {
	var (
		finalsOnly bool
		strict     bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay JSON-lines messages from stdin",
		Long: `Replay grammar-stage messages through the orchestrator.

Reads one JSON message per line from stdin and writes every output as one
JSON line to stdout. Blank lines are ignored. Malformed or invalid lines are
reported on stderr and skipped unless --strict is set.

Example:
  tonectl replay -m formal < session.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orch, err := opts.orchestrator()
			if err != nil {
				return err
			}
			validator := schema.New()
			enc := json.NewEncoder(cmd.OutOrStdout())

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			line := 0
			for scanner.Scan() {
				line++
				raw := scanner.Bytes()
				if len(raw) == 0 {
					continue
				}

				var msg models.Message
				err := json.Unmarshal(raw, &msg)
				if err == nil {
					err = validator.Validate(msg)
				}
				if err != nil {
					if strict {
						return fmt.Errorf("line %d: %w", line, err)
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "line %d: skipped: %v\n", line, err)
					continue
				}

				out, ok := orch.Handle(cmd.Context(), msg)
				if !ok || (finalsOnly && out.Event != models.EventFinal) {
					continue
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().BoolVar(&finalsOnly, "finals", false, "only print FINAL outputs")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on the first malformed line")
	return cmd
}
