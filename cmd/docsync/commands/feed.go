package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newFeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed <user-id>",
		Short: "Print a page of the home feed of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cursor, _ := cmd.Flags().GetString("cursor")
			limit, _ := cmd.Flags().GetInt("limit")
			posts, next, err := c.app.Feed(cmd.Context(), args[0], cursor, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range posts {
				_, _ = fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", p.CreatedAt, p.ID, p.AuthorID, p.Caption)
			}
			if next != "" {
				_, _ = fmt.Fprintf(out, "next: %s\n", next)
			}
			return nil
		},
	}
	cmd.Flags().String("cursor", "", "Continue after the cursor printed by a previous page")
	cmd.Flags().IntP("limit", "l", 0, "Maximum number of posts (0 uses the configured default)")
	return cmd
}
