package skills

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/nanoclaw/internal/observability"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// Names of the tools the model uses to manage its skills.
const (
	ActivateToolName   = "activate_skill"
	DeactivateToolName = "deactivate_skill"
)

// ErrNoSkillSession is returned by skill tools dispatched without an Effects
// value in the context.
var ErrNoSkillSession = errors.New("skill tools require a session")

// EffectKind is the change a skill tool asks for.
type EffectKind string

const (
	EffectActivate   EffectKind = "activate"
	EffectDeactivate EffectKind = "deactivate"
)

// Effect is a pending change to a session's ActiveSet.
type Effect struct {
	Kind  EffectKind
	Name  string
	Skill *ActivatedSkill
}

// Effects collects the skill changes requested during one tool batch so they
// can be applied after every call in the batch has resolved.
type Effects struct {
	active *ActiveSet

	mu      sync.Mutex
	pending []Effect
}

// NewEffects creates a collector for the session owning active.
func NewEffects(active *ActiveSet) *Effects {
	return &Effects{active: active}
}

func (e *Effects) record(effect Effect) {
	e.mu.Lock()
	e.pending = append(e.pending, effect)
	e.mu.Unlock()
}

// Apply applies the recorded effects to the session's ActiveSet and clears
// them. It returns the names whose state actually changed.
func (e *Effects) Apply() []string {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	var changed []string
	for _, eff := range pending {
		switch eff.Kind {
		case EffectActivate:
			if e.active.Add(eff.Skill) {
				observability.RecordSkill(eff.Name, string(EffectActivate))
				changed = append(changed, eff.Name)
			}
		case EffectDeactivate:
			if e.active.Remove(eff.Name) {
				observability.RecordSkill(eff.Name, string(EffectDeactivate))
				changed = append(changed, eff.Name)
			}
		}
	}
	return changed
}

type effectsKey struct{}

// WithEffects attaches e to ctx for skill tool handlers.
func WithEffects(ctx context.Context, e *Effects) context.Context {
	return context.WithValue(ctx, effectsKey{}, e)
}

// EffectsFromContext returns the collector attached to ctx, if any.
func EffectsFromContext(ctx context.Context) (*Effects, bool) {
	e, ok := ctx.Value(effectsKey{}).(*Effects)
	return e, ok && e != nil
}

// ToolDescriptors returns the activate_skill and deactivate_skill tools. They
// only change session state, so they are read-only and always visible.
func (r *Registry) ToolDescriptors() []toolexecutor.ToolDescriptor {
	nameParam := []toolexecutor.ToolParameter{{
		Name:        "name",
		Type:        "string",
		Description: "Skill name as listed in <available_skills>",
		Required:    true,
	}}

	return []toolexecutor.ToolDescriptor{
		{
			Name:          ActivateToolName,
			Description:   "Load a skill's full instructions into the conversation. Use when a listed skill matches the task.",
			Parameters:    nameParam,
			Mutability:    toolexecutor.ReadOnly,
			Origin:        toolexecutor.OriginLocal,
			AlwaysVisible: true,
			Handler:       r.activateHandler,
		},
		{
			Name:          DeactivateToolName,
			Description:   "Unload an active skill when it is no longer needed.",
			Parameters:    nameParam,
			Mutability:    toolexecutor.ReadOnly,
			Origin:        toolexecutor.OriginLocal,
			AlwaysVisible: true,
			Handler:       r.deactivateHandler,
		},
	}
}

func (r *Registry) activateHandler(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	effects, ok := EffectsFromContext(ctx)
	if !ok {
		return nil, ErrNoSkillSession
	}
	name := strings.TrimSpace(fmt.Sprint(args["name"]))

	if effects.active.Has(name) {
		return fmt.Sprintf("Skill %q is already active.", name), nil
	}
	sk, err := r.Activate(ctx, name)
	if err != nil {
		return nil, err
	}
	effects.record(Effect{Kind: EffectActivate, Name: name, Skill: sk})

	msg := fmt.Sprintf("Skill %q activated. Its instructions are now part of your context.", name)
	if tools := sk.AllowedTools(); len(tools) > 0 {
		msg += fmt.Sprintf(" Tools available while active: %s.", strings.Join(tools, ", "))
	}
	return msg, nil
}

func (r *Registry) deactivateHandler(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	effects, ok := EffectsFromContext(ctx)
	if !ok {
		return nil, ErrNoSkillSession
	}
	name := strings.TrimSpace(fmt.Sprint(args["name"]))

	if !effects.active.Has(name) {
		return nil, fmt.Errorf("skill %q is not active", name)
	}
	effects.record(Effect{Kind: EffectDeactivate, Name: name})
	return fmt.Sprintf("Skill %q deactivated.", name), nil
}
