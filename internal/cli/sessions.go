package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/nanoclaw/internal/app"
)

var pruneOlderThan time.Duration

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored session transcripts",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := app.OpenStore(appConfig)
		if err != nil {
			return err
		}
		infos, err := store.List()
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(infos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stored sessions")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSIZE\tLAST ACTIVE")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%d\t%s ago\n", info.ID, info.Size, formatDuration(time.Since(info.LastModified)))
		}
		return w.Flush()
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete stored sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := app.OpenStore(appConfig)
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := store.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	},
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sessions inactive for longer than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan <= 0 {
			return errors.New("--older-than must be positive")
		}
		store, err := app.OpenStore(appConfig)
		if err != nil {
			return err
		}
		deleted, err := store.Prune(cmd.Context(), pruneOlderThan)
		if err != nil {
			return fmt.Errorf("failed to prune sessions: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d sessions\n", deleted)
		return nil
	},
}

func init() {
	sessionsPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "minimum inactivity before a session is pruned")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd, sessionsPruneCmd)
	rootCmd.AddCommand(sessionsCmd)
}
