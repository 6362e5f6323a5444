package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harun/nanoclaw/internal/config"
)

var forceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration",
	Long: `Inspect the effective configuration or write a starter config file.
Values come from the config file, NANOCLAW_* environment variables and flags.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", config.NewLoader(cfgFile).GetConfigPath())
		fmt.Fprintln(out, appConfig.String())
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.NewLoader(cfgFile).GetConfigPath()
	if path == "" {
		return errors.New("cannot determine config path, use --config")
	}
	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to: %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Set ANTHROPIC_API_KEY (or the key for your provider) and run: nanoclaw chat")
	return nil
}

const starterConfig = `model:
  provider: anthropic        # anthropic, openai, gemini
  name: claude-sonnet-4-5
  temperature: 0.2
  max_tokens: 4096
  timeout: 2m
  max_retries: 3

agent:
  approval_mode: default     # plan, read_only, default, yolo
  max_iterations: 50
  parallel_tools: true
  tool_timeout: 1m
  session_timeout: 30m
  confirm_timeout: 5m
  max_denied_batches: 3

policy:
  always_allow: []
  always_deny: []

skills:
  enabled: true
  watch: false

mcp:
  servers: []
  # - id: files
  #   command: npx
  #   args: ["-y", "@modelcontextprotocol/server-filesystem", "."]
  #   call_timeout: 30s

memory:
  project_files: [NANOCLAW.md, AGENTS.md]

logging:
  level: info
  pretty: true
`
