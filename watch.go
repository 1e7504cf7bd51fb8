package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print sign-out signals from other sessions until interrupted",
		RunE:  runWatch,
	}
}

// watchEvent is the JSON schema for one `watch --json` line.
type watchEvent struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := NewCLISession(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := shutdownContext(cmd.Context(), cc.Logger)
	out := cmd.OutOrStdout()

	cc.Statusf("Watching %s for sign-out signals. Press Ctrl-C to stop.\n", cc.Cfg.Server.BaseURL)

	return s.Manager.Listen(ctx, func() {
		if cc.Flags.JSON {
			if err := printJSON(out, watchEvent{Event: "signOut", At: time.Now().UTC()}); err != nil {
				cc.Logger.Warn("writing event", "error", err)
			}

			return
		}

		fmt.Fprintf(out, "%s signed out by another session\n", time.Now().Format(time.TimeOnly))
	})
}
