package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute denormalized counters from their edges and repair drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reports, err := c.app.Reconcile(cmd.Context())
			out := cmd.OutOrStdout()
			for _, r := range reports {
				_, _ = fmt.Fprintf(out, "%s/%s %s: %d -> %d\n",
					r.EntityCollection, r.EntityID, r.Field, r.StoredCount, r.ActualCount)
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "corrected %d counters\n", len(reports))
			return nil
		},
	}
}

func (c *CLI) newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <user-id>",
		Short: "Upload items collected on this device that never reached the remote store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := c.app.Recover(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d items\n", n)
			return nil
		},
	}
}

func (c *CLI) newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Replay pending mutations left by a previous run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := c.app.Resume(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "replayed %d, dropped %d, kept %d\n",
				res.Replayed, res.Dropped, res.Kept)
			return nil
		},
	}
}

func (c *CLI) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run counter sync, scheduled reconciliation and pending replay until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Serve(cmd.Context())
		},
	}
}
