package skills

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

// Source produces skill manifests and loads bodies on demand.
type Source interface {
	// Scan returns every valid manifest. Invalid skills are reported in the
	// error slice and skipped.
	Scan(ctx context.Context) ([]Manifest, []error)
	// LoadBody returns the instruction body for a manifest returned by Scan.
	LoadBody(ctx context.Context, m Manifest) (string, error)
	// Dirs lists the directories backing the source, for watching.
	Dirs() []string
}

// SourceDir is one directory of skills, each in its own subdirectory.
type SourceDir struct {
	Path string
	Kind SourceKind
}

// FSSource reads skills from directories laid out as <dir>/<skill>/SKILL.md.
type FSSource struct {
	dirs []SourceDir
}

// NewFSSource creates a source over dirs. Empty paths are ignored.
func NewFSSource(dirs ...SourceDir) *FSSource {
	out := make([]SourceDir, 0, len(dirs))
	for _, d := range dirs {
		if d.Path != "" {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return &FSSource{dirs: out}
}

func (s *FSSource) Dirs() []string {
	out := make([]string, 0, len(s.dirs))
	for _, d := range s.dirs {
		out = append(out, d.Path)
	}
	return out
}

// Scan walks the directories from lowest to highest priority. A skill found
// again later replaces the earlier one with the same name.
func (s *FSSource) Scan(ctx context.Context) ([]Manifest, []error) {
	byName := make(map[string]Manifest)
	var errs []error

	for _, dir := range s.dirs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		entries, err := os.ReadDir(dir.Path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("read skills dir %s: %w", dir.Path, err))
			}
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir.Path, entry.Name(), skillFileName)
			if _, err := os.Stat(path); err != nil {
				continue
			}

			m, err := parseManifest(path, dir.Kind)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if prev, ok := byName[m.Name]; ok {
				log.Debug().
					Str("skill", m.Name).
					Str("overridden", prev.Path).
					Str("by", m.Path).
					Msg("Skill overridden")
			}
			byName[m.Name] = m
		}
	}

	out := make([]Manifest, 0, len(byName))
	for _, m := range byName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, errs
}

func (s *FSSource) LoadBody(ctx context.Context, m Manifest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return loadBody(m.Path)
}
