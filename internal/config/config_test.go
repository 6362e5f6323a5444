package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "default", cfg.Agent.ApprovalMode)
	assert.Equal(t, 50, cfg.Agent.MaxIterations)
	assert.Equal(t, 3, cfg.Agent.MaxDeniedBatches)
	assert.True(t, cfg.Agent.ParallelTools)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "unknown provider",
			mutate: func(c *Config) { c.Model.Provider = "llama" },
			errMsg: "model.provider",
		},
		{
			name:   "unknown approval mode",
			mutate: func(c *Config) { c.Agent.ApprovalMode = "auto" },
			errMsg: "agent.approval_mode",
		},
		{
			name:   "zero iterations",
			mutate: func(c *Config) { c.Agent.MaxIterations = 0 },
			errMsg: "max_iterations",
		},
		{
			name:   "negative retries",
			mutate: func(c *Config) { c.Model.MaxRetries = -1 },
			errMsg: "max_retries",
		},
		{
			name: "server with both transports",
			mutate: func(c *Config) {
				c.MCP.Servers = []MCPServerConfig{{ID: "fs", Command: "mcp-fs", URL: "ws://localhost:1"}}
			},
			errMsg: "exactly one of command or url",
		},
		{
			name: "duplicate server ids",
			mutate: func(c *Config) {
				c.MCP.Servers = []MCPServerConfig{
					{ID: "fs", Command: "a"},
					{ID: "fs", Command: "b"},
				}
			},
			errMsg: "duplicate mcp server id",
		},
		{
			name: "http url rejected",
			mutate: func(c *Config) {
				c.MCP.Servers = []MCPServerConfig{{ID: "web", URL: "http://localhost"}}
			},
			errMsg: "ws:// or wss://",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("valid websocket server", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MCP.Servers = []MCPServerConfig{{ID: "remote", URL: "wss://tools.example.com/mcp", CallTimeout: time.Second}}
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigStringMasksAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-secret"

	out := cfg.String()
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "***")
	assert.Equal(t, "sk-secret", cfg.Model.APIKey)
}
