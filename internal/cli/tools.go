package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/nanoclaw/internal/app"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect the tool catalog",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools, including remote MCP tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context(), appConfig, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMUTABILITY\tORIGIN\tDESCRIPTION")
		for _, desc := range a.Tools.List() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", desc.Name, desc.Mutability, desc.Origin, firstLine(desc.Description))
		}
		return w.Flush()
	},
}

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect available skills",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skills from the builtin, user and workspace directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context(), appConfig, app.Options{SkipRemote: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Skills == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Skills are disabled")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSOURCE\tVERSION\tDESCRIPTION")
		for _, m := range a.Skills.ListManifests() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.Kind, m.Version, firstLine(m.Description))
		}
		return w.Flush()
	},
}

func init() {
	toolsCmd.AddCommand(toolsListCmd)
	skillsCmd.AddCommand(skillsListCmd)
	rootCmd.AddCommand(toolsCmd, skillsCmd)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
