package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nanoclaw/internal/config"
)

// executeRoot runs the shared root command. Flag values survive between
// executions, so a --help from an earlier test is cleared first.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	resetHelp(cmd)
	cmd.SetArgs(args)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	return output.String(), err
}

func resetHelp(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
		f.Changed = false
	}
	for _, c := range cmd.Commands() {
		resetHelp(c)
	}
}

func TestConfigCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := executeRoot(t, "config", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "effective configuration")
	})

	t.Run("init writes a loadable config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "config.yaml")

		out, err := executeRoot(t, "config", "init", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "anthropic", cfg.Model.Provider)
		assert.Equal(t, "default", cfg.Agent.ApprovalMode)
		assert.Equal(t, 3, cfg.Agent.MaxDeniedBatches)
	})

	t.Run("init refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("model:\n  name: custom\n"), 0o600))

		_, err := executeRoot(t, "config", "init", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "custom")
	})

	t.Run("show masks the api key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("model:\n  api_key: sk-secret\n"), 0o600))

		out, err := executeRoot(t, "config", "show", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, path)
		assert.Contains(t, out, "***")
		assert.NotContains(t, out, "sk-secret")
	})
}
