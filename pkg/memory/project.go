package memory

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultProjectFiles are looked up in the workspace root.
var DefaultProjectFiles = []string{"NANOCLAW.md", "AGENTS.md"}

const maxMemoryFileBytes = 64 << 10

// ProjectMemory loads the global memory file and the workspace's project
// files once and caches the rendered block until a file changes.
type ProjectMemory struct {
	globalFile string
	files      []string
	logger     zerolog.Logger

	mu      sync.Mutex
	loaded  bool
	cached  string
	watcher *FileWatcher
}

// NewProjectMemory creates a loader for globalFile and the project files in
// workspace. Empty names are ignored; nil projectFiles uses DefaultProjectFiles.
func NewProjectMemory(globalFile, workspace string, projectFiles []string) *ProjectMemory {
	if projectFiles == nil {
		projectFiles = DefaultProjectFiles
	}
	var files []string
	for _, name := range projectFiles {
		if name == "" {
			continue
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(workspace, name)
		}
		files = append(files, name)
	}
	return &ProjectMemory{
		globalFile: globalFile,
		files:      files,
		logger:     log.With().Str("component", "memory").Logger(),
	}
}

// Paths returns every file the loader reads, global file first.
func (p *ProjectMemory) Paths() []string {
	var out []string
	if p.globalFile != "" {
		out = append(out, p.globalFile)
	}
	return append(out, p.files...)
}

// Block returns the rendered memory, or "" when no file has content.
func (p *ProjectMemory) Block() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		p.cached = p.render()
		p.loaded = true
	}
	return p.cached
}

// Invalidate forces the next Block call to re-read the files.
func (p *ProjectMemory) Invalidate() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}

func (p *ProjectMemory) render() string {
	var parts []string
	if p.globalFile != "" {
		if content := p.read(p.globalFile); content != "" {
			parts = append(parts, "## Global Memory\n"+content)
		}
	}
	for _, f := range p.files {
		if content := p.read(f); content != "" {
			parts = append(parts, fmt.Sprintf("## Project Context (%s)\n%s", filepath.Base(f), content))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "# Memory and Context\n\n" + strings.Join(parts, "\n\n")
}

func (p *ProjectMemory) read(path string) string {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn().Str("file", path).Err(err).Msg("Failed to read memory file")
		}
		return ""
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxMemoryFileBytes))
	if err != nil {
		p.logger.Warn().Str("file", path).Err(err).Msg("Failed to read memory file")
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Watch invalidates the cache whenever one of the files changes, until Close.
func (p *ProjectMemory) Watch(debounce time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		return nil
	}
	w, err := NewFileWatcher(p.logger, p.Paths(), debounce, p.Invalidate)
	if err != nil {
		return fmt.Errorf("failed to watch memory files: %w", err)
	}
	p.watcher = w
	return nil
}

// Close stops watching.
func (p *ProjectMemory) Close() error {
	p.mu.Lock()
	w := p.watcher
	p.watcher = nil
	p.mu.Unlock()
	if w != nil {
		return w.Stop()
	}
	return nil
}

// Remember appends a categorized entry to the global memory file.
func (p *ProjectMemory) Remember(category, content string) error {
	if p.globalFile == "" {
		return errors.New("no global memory file configured")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("memory content is empty")
	}
	if category == "" {
		category = "general"
	}

	if err := os.MkdirAll(filepath.Dir(p.globalFile), 0o755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}
	f, err := os.OpenFile(p.globalFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open memory file: %w", err)
	}
	defer f.Close()

	entry := fmt.Sprintf("\n---\ntimestamp: %s\ncategory: %s\n---\n%s\n",
		time.Now().UTC().Format(time.RFC3339), category, content)
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("failed to write memory: %w", err)
	}

	p.Invalidate()
	return nil
}
