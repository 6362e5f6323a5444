package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix         = "NANOCLAW"
	defaultDirName    = ".nanoclaw"
	defaultConfigName = "config.yaml"
	geminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load reads the config file (YAML or JSON, by extension), overlays
// NANOCLAW_* environment variables and fills derived defaults. A missing file
// is not an error.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"model.provider", "model.name", "model.api_key", "model.base_url",
		"agent.approval_mode", "agent.max_iterations", "logging.level",
		"data_dir", "workspace_path",
	} {
		_ = v.BindEnv(key)
	}

	configPath := l.GetConfigPath()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyDerivedDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDerivedDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, defaultDirName)
	}
	if cfg.WorkspacePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkspacePath = wd
	}
	if cfg.Skills.UserDir == "" {
		cfg.Skills.UserDir = filepath.Join(cfg.DataDir, "skills")
	}
	if cfg.Skills.WorkspaceDir == "" {
		cfg.Skills.WorkspaceDir = WorkspaceSkillsDir(cfg.WorkspacePath)
	}
	if cfg.Memory.GlobalFile == "" {
		cfg.Memory.GlobalFile = filepath.Join(cfg.DataDir, "memory.md")
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = apiKeyFromEnv(cfg.Model.Provider)
	}
	if cfg.Model.Provider == "gemini" && cfg.Model.BaseURL == "" {
		cfg.Model.BaseURL = geminiBaseURL
	}
	return nil
}

// WorkspaceSkillsDir is the default skill directory of a workspace.
func WorkspaceSkillsDir(workspace string) string {
	return filepath.Join(workspace, defaultDirName, "skills")
}

func apiKeyFromEnv(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultDirName, defaultConfigName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
