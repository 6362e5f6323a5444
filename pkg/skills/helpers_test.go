package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir, name, frontmatter, body string) string {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	path := filepath.Join(skillDir, skillFileName)
	content := "---\n" + frontmatter + "\n---\n" + body
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadedRegistry(t *testing.T, dirs ...SourceDir) *Registry {
	t.Helper()
	reg := NewRegistry(NewFSSource(dirs...))
	require.NoError(t, reg.Reload(context.Background()))
	return reg
}
