package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errSyncAborted = errors.New("remote unreachable, records kept for the next sync")

func newSyncCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send every pending record to the remote endpoint once",
		Long: `Run a single sync pass outside the agent. Records that are accepted by
the remote endpoint are removed from the local store; the rest stay pending.

Example:
  offlinesync sync
  offlinesync sync --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cfg, root.logger())
			if err != nil {
				return err
			}
			defer rt.Close()

			result := rt.agent.RequestSync(cmd.Context())
			if root.Format == "json" {
				if err := root.writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else if !result.Aborted {
				fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			}
			if result.Aborted {
				return errSyncAborted
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d records failed to sync", result.Failed, result.Total)
			}
			return nil
		},
	}
}
