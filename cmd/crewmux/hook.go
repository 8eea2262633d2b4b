package main

import (
	"context"
	"os"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hrygo/crewmux/hook"
	"github.com/hrygo/crewmux/internal/logging"
)

// hookTimeout bounds the whole stop-hook run: transcript stability wait,
// pane capture fallback, and the POST back to the bridge.
const hookTimeout = 30 * time.Second

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Extract the agent's reply after a turn and post it to the bridge (wire as the agent's stop hook)",
	Run: func(_ *cobra.Command, _ []string) {
		logging.Init(os.Getenv("CREWMUX_LOG_LEVEL"))

		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()

		// Errors are logged, never surfaced: a non-zero exit here would
		// make the agent treat its own turn as failed.
		if err := hook.Run(ctx, os.Stdin); err != nil {
			slog.Error("hook: run failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}
