package toolexecutor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	defaultReadLimit   = 200000
	defaultSearchLimit = 200
	defaultExecTimeout = 30 * time.Second
)

// BuiltinOptions configures the local tool set.
type BuiltinOptions struct {
	WorkspaceRoot string
	ExecTimeout   time.Duration
	Shell         string
}

// RegisterBuiltinTools registers the local file and shell tools.
func RegisterBuiltinTools(reg *Registry, opts BuiltinOptions) error {
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = defaultExecTimeout
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}

	tools := []ToolDescriptor{
		readFileTool(opts),
		listDirTool(opts),
		searchFilesTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
		deleteFileTool(opts),
		execTool(opts),
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Name, err)
		}
	}
	return nil
}

func readFileTool(opts BuiltinOptions) ToolDescriptor {
	return ToolDescriptor{
		Name:        "read_file",
		Description: "Read a text file from the workspace.",
		Mutability:  ReadOnly,
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read (default 200000)"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, err := resolveParamPath(ctx, opts, params["path"])
			if err != nil {
				return nil, err
			}
			limit := int64(defaultReadLimit)
			if raw, ok := params["max_bytes"].(float64); ok && raw > 0 {
				limit = int64(raw)
			}
			data, truncated, err := readFileWithLimit(target, limit)
			if err != nil {
				return nil, err
			}
			if truncated {
				return string(data) + "\n[file truncated]", nil
			}
			return string(data), nil
		},
	}
}

func listDirTool(opts BuiltinOptions) ToolDescriptor {
	return ToolDescriptor{
		Name:        "list_dir",
		Description: "List the entries of a workspace directory.",
		Mutability:  ReadOnly,
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "Directory relative to the workspace (default .)"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw, _ := params["path"].(string)
			if strings.TrimSpace(raw) == "" {
				raw = "."
			}
			target, err := resolveParamPath(ctx, opts, raw)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, err
			}
			lines := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				lines = append(lines, name)
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

func searchFilesTool(opts BuiltinOptions) ToolDescriptor {
	return ToolDescriptor{
		Name:        "search_files",
		Description: "Find workspace files whose name matches a glob pattern, optionally containing a substring.",
		Mutability:  ReadOnly,
		Parameters: []ToolParameter{
			{Name: "pattern", Type: "string", Description: "Glob matched against file names, e.g. *.go", Required: true},
			{Name: "contains", Type: "string", Description: "Only return files containing this text"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			root, err := workspaceRoot(ctx, opts)
			if err != nil {
				return nil, err
			}
			pattern, _ := params["pattern"].(string)
			if _, err := filepath.Match(pattern, ""); err != nil {
				return nil, fmt.Errorf("invalid pattern: %w", err)
			}
			needle, _ := params["contains"].(string)

			var matches []string
			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
				if walkErr != nil {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if d.IsDir() {
					if name := d.Name(); path != root && (name == ".git" || name == "node_modules") {
						return filepath.SkipDir
					}
					return nil
				}
				if ok, _ := filepath.Match(pattern, d.Name()); !ok {
					return nil
				}
				if needle != "" {
					data, _, err := readFileWithLimit(path, defaultReadLimit)
					if err != nil || !bytes.Contains(data, []byte(needle)) {
						return nil
					}
				}
				rel, _ := filepath.Rel(root, path)
				matches = append(matches, rel)
				if len(matches) >= defaultSearchLimit {
					return fs.SkipAll
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			sort.Strings(matches)
			if len(matches) == 0 {
				return "no matches", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	}
}

func writeFileTool(opts BuiltinOptions) ToolDescriptor {
	return ToolDescriptor{
		Name:        "write_file",
		Description: "Create or overwrite a file in the workspace.",
		Mutability:  Mutating,
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwrite (default false)"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, err := resolveParamPath(ctx, opts, params["path"])
			if err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)
			appendMode, _ := params["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}
			flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
			if appendMode {
				flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
			}
			f, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return nil, err
			}
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), params["path"]), nil
		},
	}
}

func editFileTool(opts BuiltinOptions) ToolDescriptor {
	return ToolDescriptor{
		Name:        "edit_file",
		Description: "Replace text in a workspace file. The search text must occur exactly once unless all is set.",
		Mutability:  Mutating,
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "search", Type: "string", Description: "Text to replace", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
			{Name: "all", Type: "boolean", Description: "Replace every occurrence"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, err := resolveParamPath(ctx, opts, params["path"])
			if err != nil {
				return nil, err
			}
			search, _ := params["search"].(string)
			replace, _ := params["replace"].(string)
			all, _ := params["all"].(bool)
			if search == "" {
				return nil, errors.New("search text cannot be empty")
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return nil, err
			}
			content := string(data)
			count := strings.Count(content, search)
			switch {
			case count == 0:
				return nil, fmt.Errorf("search text not found in %s", params["path"])
			case count > 1 && !all:
				return nil, fmt.Errorf("search text occurs %d times in %s; set all=true or narrow it", count, params["path"])
			}
			n := 1
			if all {
				n = -1
			}
			updated := strings.Replace(content, search, replace, n)

			info, err := os.Stat(target)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(target, []byte(updated), info.Mode().Perm()); err != nil {
				return nil, err
			}
			if !all {
				count = 1
			}
			return fmt.Sprintf("replaced %d occurrence(s) in %s", count, params["path"]), nil
		},
	}
}

func deleteFileTool(opts BuiltinOptions) ToolDescriptor {
	return ToolDescriptor{
		Name:        "delete_file",
		Description: "Delete a file from the workspace.",
		Mutability:  Mutating,
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, err := resolveParamPath(ctx, opts, params["path"])
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(target)
			if err != nil {
				return nil, err
			}
			if info.IsDir() {
				return nil, fmt.Errorf("%s is a directory", params["path"])
			}
			if err := os.Remove(target); err != nil {
				return nil, err
			}
			return fmt.Sprintf("deleted %s", params["path"]), nil
		},
	}
}

func execTool(opts BuiltinOptions) ToolDescriptor {
	return ToolDescriptor{
		Name:        "exec",
		Description: "Run a shell command in the workspace and return its output.",
		Mutability:  Mutating,
		Timeout:     opts.ExecTimeout + 5*time.Second,
		Parameters: []ToolParameter{
			{Name: "command", Type: "string", Description: "Shell command line", Required: true},
			{Name: "cwd", Type: "string", Description: "Working directory relative to the workspace"},
			{Name: "timeout", Type: "number", Description: "Timeout in seconds"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			command, _ := params["command"].(string)
			if strings.TrimSpace(command) == "" {
				return nil, errors.New("command is required")
			}
			root, err := workspaceRoot(ctx, opts)
			if err != nil {
				return nil, err
			}
			dir := root
			if raw, ok := params["cwd"].(string); ok && strings.TrimSpace(raw) != "" {
				if dir, err = resolvePathInWorkspace(root, raw); err != nil {
					return nil, err
				}
			}
			timeout := opts.ExecTimeout
			if raw, ok := params["timeout"].(float64); ok && raw > 0 {
				timeout = time.Duration(raw * float64(time.Second))
			}

			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, opts.Shell, "-c", command)
			cmd.Dir = dir
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			err = cmd.Run()
			exitCode := 0
			if err != nil {
				var exitErr *exec.ExitError
				if !errors.As(err, &exitErr) {
					if runCtx.Err() != nil {
						return nil, fmt.Errorf("command timed out after %v", timeout)
					}
					return nil, err
				}
				exitCode = exitErr.ExitCode()
			}
			return map[string]interface{}{
				"stdout":    stdout.String(),
				"stderr":    stderr.String(),
				"exit_code": exitCode,
			}, nil
		},
	}
}

func workspaceRoot(ctx context.Context, opts BuiltinOptions) (string, error) {
	if execCtx := ExecContextFromContext(ctx); execCtx != nil && strings.TrimSpace(execCtx.WorkingDir) != "" {
		return filepath.Clean(execCtx.WorkingDir), nil
	}
	if strings.TrimSpace(opts.WorkspaceRoot) != "" {
		return filepath.Clean(opts.WorkspaceRoot), nil
	}
	return "", errors.New("workspace root is not configured")
}

func resolveParamPath(ctx context.Context, opts BuiltinOptions, value interface{}) (string, error) {
	root, err := workspaceRoot(ctx, opts)
	if err != nil {
		return "", err
	}
	raw, _ := value.(string)
	return resolvePathInWorkspace(root, raw)
}

func resolvePathInWorkspace(root, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", errors.New("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", errors.New("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside workspace root", pathValue)
	}
	return candidate, nil
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	if limit <= 0 {
		limit = defaultReadLimit
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
