package skills

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ActivatedSkill is a skill with its body loaded.
type ActivatedSkill struct {
	Manifest Manifest
	Body     string
}

// Name returns the skill name.
func (s *ActivatedSkill) Name() string { return s.Manifest.Name }

// AllowedTools returns the tool whitelist declared by the skill, or nil.
func (s *ActivatedSkill) AllowedTools() []string { return s.Manifest.AllowedTools }

// Registry holds the manifests of every installed skill. It is shared by all
// sessions; per-session activation state lives in ActiveSet.
type Registry struct {
	source Source
	logger zerolog.Logger

	mu        sync.RWMutex
	manifests map[string]Manifest
}

// NewRegistry creates an empty registry. Call Reload to populate it.
func NewRegistry(source Source) *Registry {
	return &Registry{
		source:    source,
		logger:    log.With().Str("component", "skills").Logger(),
		manifests: make(map[string]Manifest),
	}
}

// Reload rescans the source and swaps the manifest set. Invalid skills are
// logged and skipped; the returned error is non-nil only when nothing could be
// read at all.
func (r *Registry) Reload(ctx context.Context) error {
	manifests, errs := r.source.Scan(ctx)
	for _, err := range errs {
		r.logger.Warn().Err(err).Msg("Skipping skill")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next := make(map[string]Manifest, len(manifests))
	for _, m := range manifests {
		if m.Disabled {
			r.logger.Debug().Str("skill", m.Name).Msg("Skill disabled")
			continue
		}
		next[m.Name] = m
	}

	r.mu.Lock()
	r.manifests = next
	r.mu.Unlock()

	r.logger.Info().Int("skills", len(next)).Msg("Skills loaded")
	return nil
}

// ListManifests returns every enabled manifest sorted by name.
func (r *Registry) ListManifests() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the manifest for name.
func (r *Registry) Get(name string) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[name]
	return m, ok
}

// Len returns the number of enabled skills.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.manifests)
}

// Activate loads the body of name.
func (r *Registry) Activate(ctx context.Context, name string) (*ActivatedSkill, error) {
	m, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	body, err := r.source.LoadBody(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("load skill %s: %w", name, err)
	}
	return &ActivatedSkill{Manifest: m, Body: body}, nil
}

type availableSkills struct {
	XMLName xml.Name         `xml:"available_skills"`
	Skills  []availableSkill `xml:"skill"`
}

type availableSkill struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Triggers    string `xml:"triggers,omitempty"`
}

// PromptSummary renders the manifests as an <available_skills> block for the
// system prompt. Returns "" when no skills are installed.
func (r *Registry) PromptSummary() string {
	manifests := r.ListManifests()
	if len(manifests) == 0 {
		return ""
	}

	out := availableSkills{Skills: make([]availableSkill, 0, len(manifests))}
	for _, m := range manifests {
		out.Skills = append(out.Skills, availableSkill{
			Name:        m.Name,
			Description: m.Description,
			Triggers:    strings.Join(m.Triggers, ", "),
		})
	}

	b, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to render skill summary")
		return ""
	}
	return string(b)
}
