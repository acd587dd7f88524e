package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"speech-tone-service/internal/models"
	"speech-tone-service/internal/service/source/mock"
)

func newDemoCmd(opts *options) *cobra.Command {
	var (
		count int
		delay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Stream simulated utterances through the orchestrator",
		Long: `Stream simulated grammar-stage utterances through the orchestrator and
print every preview and final.

Example:
  tonectl demo -m concise -n 3 --delay 200ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orch, err := opts.orchestrator()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			source := mock.New(mock.WithDelay(delay))

			for i := 0; i < count; i++ {
				id := uuid.NewString()
				err := source.Stream(cmd.Context(), id, func(msg models.Message) error {
					res, ok := orch.Handle(cmd.Context(), msg)
					if !ok {
						return nil
					}
					if res.Event == models.EventFinal {
						_, err := fmt.Fprintf(out, "[%s] FINAL   %s\n", shortID(id), res.Text)
						return err
					}
					_, err := fmt.Fprintf(out, "[%s] PREVIEW %d %s\n", shortID(id), res.ChunkIndex, res.Text)
					return err
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of utterances")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause between messages")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
