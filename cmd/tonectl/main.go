// Command tonectl rewrites text and replays message streams through the
// tone pipeline without running the service.
//
// Usage:
//
//	tonectl [--mode formal] [--rules rules.yaml] <command> [args]
//
// Commands:
//
//	rewrite - rewrite text from the arguments or stdin
//	replay  - run JSON-lines messages from stdin through the orchestrator
//	demo    - stream simulated utterances through the orchestrator
package main

import (
	"fmt"
	"os"

	"speech-tone-service/cmd/tonectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
