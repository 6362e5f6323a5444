package skills

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ActiveSet is the ordered set of skills active in one session.
type ActiveSet struct {
	mu     sync.RWMutex
	order  []string
	skills map[string]*ActivatedSkill
}

// NewActiveSet creates an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{skills: make(map[string]*ActivatedSkill)}
}

// Add activates sk. It returns false if a skill of that name is already active.
func (a *ActiveSet) Add(sk *ActivatedSkill) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := sk.Name()
	if _, ok := a.skills[name]; ok {
		return false
	}
	a.skills[name] = sk
	a.order = append(a.order, name)
	return true
}

// Remove deactivates name. It returns false if it was not active.
func (a *ActiveSet) Remove(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.skills[name]; !ok {
		return false
	}
	delete(a.skills, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i:i], a.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether name is active.
func (a *ActiveSet) Has(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.skills[name]
	return ok
}

// Len returns the number of active skills.
func (a *ActiveSet) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

// Names returns the active skill names in activation order.
func (a *ActiveSet) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

// Whitelist returns the union of the tool whitelists declared by active
// skills, sorted. It returns nil when no active skill declares one, meaning
// every tool stays visible.
func (a *ActiveSet) Whitelist() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var set map[string]struct{}
	for _, name := range a.order {
		tools := a.skills[name].AllowedTools()
		if len(tools) == 0 {
			continue
		}
		if set == nil {
			set = make(map[string]struct{})
		}
		for _, t := range tools {
			set[t] = struct{}{}
		}
	}
	if set == nil {
		return nil
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ContextBlock renders the bodies of active skills in activation order.
func (a *ActiveSet) ContextBlock() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.order) == 0 {
		return ""
	}
	var b strings.Builder
	for i, name := range a.order {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "<activated_skill name=%q>\n%s\n</activated_skill>", name, a.skills[name].Body)
	}
	return b.String()
}

// Snapshot returns the active skills in activation order.
func (a *ActiveSet) Snapshot() []*ActivatedSkill {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*ActivatedSkill, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.skills[name])
	}
	return out
}

// Restore replaces the set's contents with snap. Later duplicates of a name
// are ignored.
func (a *ActiveSet) Restore(snap []*ActivatedSkill) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.skills = make(map[string]*ActivatedSkill, len(snap))
	a.order = a.order[:0]
	for _, sk := range snap {
		if _, ok := a.skills[sk.Name()]; ok {
			continue
		}
		a.skills[sk.Name()] = sk
		a.order = append(a.order, sk.Name())
	}
}
