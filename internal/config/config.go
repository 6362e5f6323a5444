package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root nanoclaw configuration.
type Config struct {
	Model   ModelConfig   `json:"model" mapstructure:"model"`
	Agent   AgentConfig   `json:"agent" mapstructure:"agent"`
	Policy  PolicyConfig  `json:"policy" mapstructure:"policy"`
	Skills  SkillsConfig  `json:"skills" mapstructure:"skills"`
	MCP     MCPConfig     `json:"mcp" mapstructure:"mcp"`
	Memory  MemoryConfig  `json:"memory" mapstructure:"memory"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	DataDir       string `json:"data_dir" mapstructure:"data_dir"`
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// ModelConfig selects and tunes the model provider.
type ModelConfig struct {
	Provider       string        `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	Name           string        `json:"name" mapstructure:"name"`
	APIKey         string        `json:"api_key" mapstructure:"api_key"`
	BaseURL        string        `json:"base_url" mapstructure:"base_url"`
	Temperature    float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int           `json:"max_tokens" mapstructure:"max_tokens"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries     int           `json:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay" mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay" mapstructure:"retry_max_delay"`
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	MaxIterations    int           `json:"max_iterations" mapstructure:"max_iterations"`
	ApprovalMode     string        `json:"approval_mode" mapstructure:"approval_mode"` // plan, read_only, default, yolo
	ParallelTools    bool          `json:"parallel_tools" mapstructure:"parallel_tools"`
	ToolTimeout      time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	SessionTimeout   time.Duration `json:"session_timeout" mapstructure:"session_timeout"`
	ConfirmTimeout   time.Duration `json:"confirm_timeout" mapstructure:"confirm_timeout"`
	MaxDeniedBatches int           `json:"max_denied_batches" mapstructure:"max_denied_batches"`
	SystemPrompt     string        `json:"system_prompt" mapstructure:"system_prompt"`
	ContextBudget    int           `json:"context_budget" mapstructure:"context_budget"` // estimated tokens
	KeepRecent       int           `json:"keep_recent" mapstructure:"keep_recent"`
}

// PolicyConfig lists tools that bypass the approval mode.
type PolicyConfig struct {
	AlwaysAllow []string `json:"always_allow" mapstructure:"always_allow"`
	AlwaysDeny  []string `json:"always_deny" mapstructure:"always_deny"`
}

// SkillsConfig locates skill directories. Later directories override earlier
// ones: builtin < user < workspace.
type SkillsConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	BuiltinDir   string `json:"builtin_dir" mapstructure:"builtin_dir"`
	UserDir      string `json:"user_dir" mapstructure:"user_dir"`
	WorkspaceDir string `json:"workspace_dir" mapstructure:"workspace_dir"`
	Watch        bool   `json:"watch" mapstructure:"watch"`
}

// MCPConfig lists remote tool servers.
type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers" mapstructure:"servers"`
}

// MCPServerConfig describes one remote tool server. Command selects the stdio
// transport, URL the websocket transport.
type MCPServerConfig struct {
	ID          string            `json:"id" mapstructure:"id"`
	Command     string            `json:"command" mapstructure:"command"`
	Args        []string          `json:"args" mapstructure:"args"`
	Env         map[string]string `json:"env" mapstructure:"env"`
	URL         string            `json:"url" mapstructure:"url"`
	CallTimeout time.Duration     `json:"call_timeout" mapstructure:"call_timeout"`
	Disabled    bool              `json:"disabled" mapstructure:"disabled"`
}

// MemoryConfig names the files injected as persistent context.
type MemoryConfig struct {
	GlobalFile   string   `json:"global_file" mapstructure:"global_file"`
	ProjectFiles []string `json:"project_files" mapstructure:"project_files"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig controls OpenTelemetry.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:       "anthropic",
			Name:           "claude-sonnet-4-5",
			Temperature:    0.2,
			MaxTokens:      4096,
			Timeout:        120 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  30 * time.Second,
		},
		Agent: AgentConfig{
			MaxIterations:    50,
			ApprovalMode:     "default",
			ParallelTools:    true,
			ToolTimeout:      60 * time.Second,
			SessionTimeout:   30 * time.Minute,
			ConfirmTimeout:   5 * time.Minute,
			MaxDeniedBatches: 3,
			ContextBudget:    100000,
			KeepRecent:       20,
		},
		Skills: SkillsConfig{
			Enabled: true,
			Watch:   false,
		},
		Memory: MemoryConfig{
			ProjectFiles: []string{"NANOCLAW.md", "AGENTS.md"},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			ServiceName: "nanoclaw",
		},
	}
}

// String returns a JSON representation of the config with the API key masked.
func (c *Config) String() string {
	masked := *c
	if masked.Model.APIKey != "" {
		masked.Model.APIKey = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateProvider(c.Model.Provider); err != nil {
		return err
	}
	if c.Model.Name == "" {
		return fmt.Errorf("%w: model.name is required", ErrInvalidConfig)
	}
	if err := v.ValidateTemperature(c.Model.Temperature); err != nil {
		return err
	}
	if err := v.ValidateMaxTokens(c.Model.MaxTokens); err != nil {
		return err
	}
	if c.Model.MaxRetries < 0 {
		return fmt.Errorf("%w: model.max_retries must not be negative", ErrInvalidConfig)
	}
	if err := v.ValidateApprovalMode(c.Agent.ApprovalMode); err != nil {
		return err
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("%w: agent.max_iterations must be positive, got %d", ErrInvalidConfig, c.Agent.MaxIterations)
	}
	if c.Agent.MaxDeniedBatches < 0 {
		return fmt.Errorf("%w: agent.max_denied_batches must not be negative", ErrInvalidConfig)
	}
	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.MCP.Servers))
	for i, srv := range c.MCP.Servers {
		if err := v.ValidateMCPServer(srv); err != nil {
			return fmt.Errorf("mcp server %d: %w", i, err)
		}
		if seen[srv.ID] {
			return fmt.Errorf("%w: duplicate mcp server id %q", ErrInvalidConfig, srv.ID)
		}
		seen[srv.ID] = true
	}

	return nil
}
