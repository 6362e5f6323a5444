package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/nanoclaw/internal/config"
	"github.com/harun/nanoclaw/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile       string
	logLevel      string
	approvalMode  string
	maxIterations int
	workspacePath string

	// loaded by the root PersistentPreRunE
	appConfig *config.Config
	appLogger *logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nanoclaw",
	Short: "nanoclaw - a governed LLM agent runtime",
	Long: `nanoclaw runs a language model in a tool loop: the model proposes actions,
the approval policy decides which may run, and results are fed back until the
task is done. Skills add instructions on demand and MCP servers add remote tools.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			_ = appLogger.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nanoclaw/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&approvalMode, "mode", "", "approval mode (plan, read_only, default, yolo)")
	rootCmd.PersistentFlags().IntVar(&maxIterations, "max-iterations", 0, "maximum tool iterations per run")
	rootCmd.PersistentFlags().StringVar(&workspacePath, "workspace", "", "workspace directory (default is the current directory)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nanoclaw version %s\n", version)
	},
}

// setup loads configuration, applies flag overrides and installs the logger.
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appConfig = cfg
	appLogger = log
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("mode") {
		cfg.Agent.ApprovalMode = approvalMode
	}
	if flags.Changed("max-iterations") {
		cfg.Agent.MaxIterations = maxIterations
	}
	if flags.Changed("workspace") {
		if cfg.Skills.WorkspaceDir == config.WorkspaceSkillsDir(cfg.WorkspacePath) {
			cfg.Skills.WorkspaceDir = config.WorkspaceSkillsDir(workspacePath)
		}
		cfg.WorkspacePath = workspacePath
	}
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
