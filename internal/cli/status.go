package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harun/nanoclaw/internal/app"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

const recentSessions = 5

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime status",
	Long: `Show the configured provider and approval mode, the loaded tools and
skills, the state of every MCP server and the most recent sessions.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := app.New(cmd.Context(), appConfig, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Provider: %s (%s)\n", appConfig.Model.Provider, appConfig.Model.Name)
	fmt.Fprintf(out, "Mode: %s\n", appConfig.Agent.ApprovalMode)
	fmt.Fprintf(out, "Workspace: %s\n", appConfig.WorkspacePath)
	fmt.Fprintf(out, "Tools: %d\n", a.Tools.Len())
	if a.Skills != nil {
		fmt.Fprintf(out, "Skills: %d\n", a.Skills.Len())
	} else {
		fmt.Fprintln(out, "Skills: disabled")
	}

	printServers(out, a.MCP.Status())
	return printSessions(out, a)
}

func printServers(out io.Writer, servers []toolexecutor.MCPServerStatus) {
	if len(servers) == 0 {
		return
	}
	fmt.Fprintln(out, "MCP servers:")
	for _, srv := range servers {
		state := color.GreenString("available")
		if !srv.Available {
			state = color.RedString("unavailable")
		}
		fmt.Fprintf(out, "  %-16s %s  tools=%d", srv.ID, state, srv.Tools)
		if srv.LastError != "" {
			fmt.Fprintf(out, "  (%s)", srv.LastError)
		}
		fmt.Fprintln(out)
	}
}

func printSessions(out io.Writer, a *app.App) error {
	infos, err := a.Store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(infos) == 0 {
		return nil
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].LastModified.After(infos[j].LastModified) })
	if len(infos) > recentSessions {
		infos = infos[:recentSessions]
	}
	fmt.Fprintln(out, "Recent sessions:")
	for _, info := range infos {
		fmt.Fprintf(out, "  %s  %s ago\n", info.ID, formatDuration(time.Since(info.LastModified)))
	}
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
