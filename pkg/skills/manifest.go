package skills

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const (
	skillFileName    = "SKILL.md"
	maxSkillMDBytes  = 2 << 20
	maxNameLength    = 64
	maxDescLength    = 1024
	maxTriggerLength = 200
)

var (
	// ErrSkillNotFound is returned when no loaded skill has the requested name.
	ErrSkillNotFound = errors.New("skill not found")
	// ErrSkillSchemaViolation is returned for malformed SKILL.md files.
	ErrSkillSchemaViolation = errors.New("skill schema violation")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// SourceKind ranks where a skill was found. Higher kinds override lower ones.
type SourceKind int

const (
	KindBuiltin SourceKind = iota
	KindUser
	KindWorkspace
)

func (k SourceKind) String() string {
	switch k {
	case KindBuiltin:
		return "builtin"
	case KindUser:
		return "user"
	case KindWorkspace:
		return "workspace"
	default:
		return "unknown"
	}
}

// Manifest is the cheap, always-loaded description of a skill.
type Manifest struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Triggers     []string   `json:"triggers,omitempty"`
	AllowedTools []string   `json:"allowed_tools,omitempty"`
	Version      string     `json:"version,omitempty"`
	Disabled     bool       `json:"disabled,omitempty"`
	Kind         SourceKind `json:"kind"`
	Path         string     `json:"path"`
	Digest       string     `json:"digest"`
}

type frontmatter struct {
	Name         string     `yaml:"name"`
	Description  string     `yaml:"description"`
	Triggers     stringList `yaml:"triggers"`
	AllowedTools stringList `yaml:"allowed-tools"`
	Version      string     `yaml:"version"`
	Disabled     bool       `yaml:"disabled"`
}

// stringList accepts either a YAML sequence or a single scalar of comma or
// space separated values.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = splitList(s)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if it = strings.TrimSpace(it); it != "" {
				out = append(out, it)
			}
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list", node.Line)
	}
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// parseManifest reads and validates a SKILL.md frontmatter. The body is not
// returned.
func parseManifest(path string, kind SourceKind) (Manifest, error) {
	data, digest, err := readSkillFile(path)
	if err != nil {
		return Manifest{}, err
	}

	fm, _, err := splitFrontmatter(string(data))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %s: %v", ErrSkillSchemaViolation, path, err)
	}

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return Manifest{}, fmt.Errorf("%w: %s: invalid frontmatter YAML: %v", ErrSkillSchemaViolation, path, err)
	}

	m := Manifest{
		Name:         strings.TrimSpace(meta.Name),
		Description:  strings.TrimSpace(meta.Description),
		Triggers:     meta.Triggers,
		AllowedTools: meta.AllowedTools,
		Version:      strings.TrimSpace(meta.Version),
		Disabled:     meta.Disabled,
		Kind:         kind,
		Path:         path,
		Digest:       "sha256:" + digest,
	}
	if err := validateManifest(m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %s: %v", ErrSkillSchemaViolation, path, err)
	}
	return m, nil
}

func validateManifest(m Manifest) error {
	if m.Name == "" {
		return errors.New("name is required")
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name too long (max %d)", maxNameLength)
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must be lowercase letters, digits, '-' or '_'", m.Name)
	}
	if m.Description == "" {
		return errors.New("description is required")
	}
	if len(m.Description) > maxDescLength {
		return fmt.Errorf("description too long (max %d)", maxDescLength)
	}
	for _, t := range m.Triggers {
		if len(t) > maxTriggerLength {
			return fmt.Errorf("trigger too long (max %d)", maxTriggerLength)
		}
	}
	if m.Version != "" {
		if _, err := semver.NewVersion(m.Version); err != nil {
			return fmt.Errorf("invalid version %q: %v", m.Version, err)
		}
	}
	return nil
}

// loadBody reads the markdown body that follows the frontmatter.
func loadBody(path string) (string, error) {
	data, _, err := readSkillFile(path)
	if err != nil {
		return "", err
	}
	_, body, err := splitFrontmatter(string(data))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSkillSchemaViolation, path, err)
	}
	return strings.TrimSpace(body), nil
}

func readSkillFile(path string) ([]byte, string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, "", fmt.Errorf("%w: %s must be a regular file", ErrSkillSchemaViolation, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSkillMDBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxSkillMDBytes {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrSkillSchemaViolation, path, maxSkillMDBytes)
	}

	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

func splitFrontmatter(s string) (string, string, error) {
	br := bufio.NewReader(strings.NewReader(s))

	first, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", "", err
	}
	if strings.TrimSpace(first) != "---" {
		return "", "", errors.New("missing YAML frontmatter")
	}

	var lines []string
	closed := false
	for {
		line, err := br.ReadString('\n')
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		lines = append(lines, strings.TrimRight(line, "\r\n"))
		if err != nil {
			break
		}
	}
	if !closed {
		return "", "", errors.New("unterminated frontmatter")
	}

	rest, err := io.ReadAll(br)
	if err != nil {
		return "", "", err
	}
	return strings.Join(lines, "\n"), string(rest), nil
}
