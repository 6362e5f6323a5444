package toolexecutor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBuiltin(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltinTools(reg, BuiltinOptions{WorkspaceRoot: root}))
	return reg, root
}

func call(reg *Registry, name string, args map[string]interface{}) ActionResult {
	return reg.Dispatch(context.Background(), ActionRequest{ID: name, Name: name, Arguments: args})
}

func TestBuiltinTools_Catalog(t *testing.T) {
	reg, _ := setupBuiltin(t)

	readOnly := map[string]bool{"read_file": true, "list_dir": true, "search_files": true}
	for _, desc := range reg.List() {
		assert.Equal(t, readOnly[desc.Name], desc.IsReadOnly(), desc.Name)
	}
	assert.Equal(t, 7, reg.Len())
}

func TestBuiltinTools_Files(t *testing.T) {
	reg, root := setupBuiltin(t)

	t.Run("write then read", func(t *testing.T) {
		res := call(reg, "write_file", map[string]interface{}{"path": "notes/a.txt", "content": "hello"})
		require.Equal(t, StatusSuccess, res.Status, res.Error)

		res = call(reg, "read_file", map[string]interface{}{"path": "notes/a.txt"})
		require.Equal(t, StatusSuccess, res.Status, res.Error)
		assert.Equal(t, "hello", res.Output)
	})

	t.Run("append", func(t *testing.T) {
		res := call(reg, "write_file", map[string]interface{}{"path": "notes/a.txt", "content": " world", "append": true})
		require.Equal(t, StatusSuccess, res.Status, res.Error)

		data, err := os.ReadFile(filepath.Join(root, "notes", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
	})

	t.Run("edit requires a unique match", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "e.txt"), []byte("x x y"), 0644))

		res := call(reg, "edit_file", map[string]interface{}{"path": "e.txt", "search": "x", "replace": "z"})
		assert.Equal(t, StatusError, res.Status)

		res = call(reg, "edit_file", map[string]interface{}{"path": "e.txt", "search": "y", "replace": "z"})
		require.Equal(t, StatusSuccess, res.Status, res.Error)

		res = call(reg, "edit_file", map[string]interface{}{"path": "e.txt", "search": "x", "replace": "w", "all": true})
		require.Equal(t, StatusSuccess, res.Status, res.Error)

		data, _ := os.ReadFile(filepath.Join(root, "e.txt"))
		assert.Equal(t, "w w z", string(data))
	})

	t.Run("list and search", func(t *testing.T) {
		res := call(reg, "list_dir", map[string]interface{}{})
		require.Equal(t, StatusSuccess, res.Status, res.Error)
		assert.Contains(t, res.Output, "notes/")
		assert.Contains(t, res.Output, "e.txt")

		res = call(reg, "search_files", map[string]interface{}{"pattern": "*.txt", "contains": "world"})
		require.Equal(t, StatusSuccess, res.Status, res.Error)
		assert.Equal(t, filepath.Join("notes", "a.txt"), res.Output)
	})

	t.Run("delete", func(t *testing.T) {
		res := call(reg, "delete_file", map[string]interface{}{"path": "e.txt"})
		require.Equal(t, StatusSuccess, res.Status, res.Error)
		_, err := os.Stat(filepath.Join(root, "e.txt"))
		assert.True(t, os.IsNotExist(err))

		res = call(reg, "delete_file", map[string]interface{}{"path": "notes"})
		assert.Equal(t, StatusError, res.Status)
	})

	t.Run("paths cannot escape the workspace", func(t *testing.T) {
		for _, p := range []string{"../outside.txt", "/etc/passwd", "file://x"} {
			res := call(reg, "read_file", map[string]interface{}{"path": p})
			assert.Equal(t, StatusError, res.Status, p)
		}
	})
}

func TestBuiltinTools_Exec(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	reg, _ := setupBuiltin(t)

	res := call(reg, "exec", map[string]interface{}{"command": "echo out; echo err >&2; exit 3"})
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Contains(t, res.Output, `"stdout":"out\n"`)
	assert.Contains(t, res.Output, `"stderr":"err\n"`)
	assert.Contains(t, res.Output, `"exit_code":3`)
}

func TestResolvePathInWorkspace(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "work")

	got, err := resolvePathInWorkspace(root, "a/../b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b.txt"), got)

	_, err = resolvePathInWorkspace(root, "")
	assert.Error(t, err)

	_, err = resolvePathInWorkspace(root, "../../x")
	assert.Error(t, err)

	got, err = resolvePathInWorkspace(root, "..foo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "..foo"), got)
}
