// Package commands implements the tonectl command tree.
package commands

import (
	"io"

	"github.com/spf13/cobra"

	"speech-tone-service/internal/observability/logging"
	"speech-tone-service/internal/service/latency"
	"speech-tone-service/internal/service/orchestrator"
	"speech-tone-service/internal/service/session"
	"speech-tone-service/internal/tone"
)

type options struct {
	mode     string
	rules    string
	logLevel string
}

// Execute runs the tonectl root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "tonectl",
		Short: "Tone rewrite tool",
		Long: `Tone rewrite tool for the speech tone service.

Runs the same rule tables and orchestrator as the service, in process.

Modes:
  neutral  - whitespace normalization only
  formal   - expand contractions and drop intensifiers
  casual   - simplify formal phrasing
  concise  - drop hedges and intensifiers`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Init(logging.Config{
				Level:  opts.logLevel,
				Format: "console",
				Out:    cmd.ErrOrStderr(),
			})
		},
	}

	root.PersistentFlags().StringVarP(&opts.mode, "mode", "m", "neutral", "tone mode (neutral, formal, casual, concise)")
	root.PersistentFlags().StringVar(&opts.rules, "rules", "", "rule tables YAML file (default: embedded tables)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		newRewriteCmd(opts),
		newReplayCmd(opts),
		newDemoCmd(opts),
	)
	return root
}

func (o *options) engine() (*tone.Engine, tone.Mode, error) {
	mode, err := tone.ParseMode(o.mode)
	if err != nil {
		return nil, tone.ModeNeutral, err
	}
	if o.rules == "" {
		engine, err := tone.NewDefaultEngine()
		return engine, mode, err
	}
	rules, err := tone.LoadRulesFile(o.rules)
	if err != nil {
		return nil, tone.ModeNeutral, err
	}
	engine, err := tone.NewEngine(rules)
	return engine, mode, err
}

func (o *options) orchestrator() (*orchestrator.Orchestrator, error) {
	engine, mode, err := o.engine()
	if err != nil {
		return nil, err
	}
	return orchestrator.New(engine, mode, session.NewStore(session.DefaultLimits()), latency.NewReporter())
}

func writeLine(w io.Writer, s string) error {
	_, err := io.WriteString(w, s+"\n")
	return err
}
