package policy

import (
	"fmt"
	"sort"

	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// ApprovalMode is the session's tolerance for unsupervised execution.
type ApprovalMode string

const (
	// ModePlan proposes actions but never executes them.
	ModePlan ApprovalMode = "plan"
	// ModeReadOnly executes read-only tools only.
	ModeReadOnly ApprovalMode = "read_only"
	// ModeDefault executes read-only tools and asks before mutating ones.
	ModeDefault ApprovalMode = "default"
	// ModeYolo executes everything.
	ModeYolo ApprovalMode = "yolo"
)

// Modes lists every approval mode.
var Modes = []ApprovalMode{ModePlan, ModeReadOnly, ModeDefault, ModeYolo}

// ParseMode parses an approval mode name.
func ParseMode(s string) (ApprovalMode, error) {
	m := ApprovalMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown approval mode %q (want plan, read_only, default or yolo)", s)
	}
	return m, nil
}

func (m ApprovalMode) Valid() bool {
	switch m {
	case ModePlan, ModeReadOnly, ModeDefault, ModeYolo:
		return true
	}
	return false
}

func (m ApprovalMode) String() string { return string(m) }

// DecisionKind enumerates policy outcomes.
type DecisionKind int

const (
	Allow DecisionKind = iota
	Deny
	AskHuman
)

func (k DecisionKind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case AskHuman:
		return "ask_human"
	default:
		return "unknown"
	}
}

// Decision is the result of Evaluate. Reason is set for Deny, Prompt for
// AskHuman.
type Decision struct {
	Kind   DecisionKind
	Reason string
	Prompt string
}

func AllowDecision() Decision { return Decision{Kind: Allow} }
func DenyDecision(reason string) Decision { return Decision{Kind: Deny, Reason: reason} }
func AskDecision(prompt string) Decision { return Decision{Kind: AskHuman, Prompt: prompt} }
func (d Decision) String() string { return d.Kind.String() }

// Denial reasons surfaced to the model.
const (
	ReasonPlanMode = "plan mode: execution disabled"
	ReasonReadOnly = "read-only mode"
)

// Overrides are per-session exceptions to the approval mode: tools the user
// configured or answered "always" for.
type Overrides struct {
	AlwaysAllow map[string]bool
	AlwaysDeny  map[string]bool
}

// NewOverrides builds overrides from tool name lists.
func NewOverrides(allow, deny []string) Overrides {
	ov := Overrides{AlwaysAllow: map[string]bool{}, AlwaysDeny: map[string]bool{}}
	for _, name := range allow {
		ov.AlwaysAllow[name] = true
	}
	for _, name := range deny {
		ov.AlwaysDeny[name] = true
	}
	return ov
}

// Clone returns an independent copy.
func (o Overrides) Clone() Overrides {
	out := NewOverrides(nil, nil)
	for k, v := range o.AlwaysAllow {
		out.AlwaysAllow[k] = v
	}
	for k, v := range o.AlwaysDeny {
		out.AlwaysDeny[k] = v
	}
	return out
}

// AllowAlways records a standing approval for tool.
func (o *Overrides) AllowAlways(tool string) {
	if o.AlwaysAllow == nil {
		o.AlwaysAllow = map[string]bool{}
	}
	o.AlwaysAllow[tool] = true
}

// AllowedTools returns the standing approvals, sorted.
func (o Overrides) AllowedTools() []string {
	out := make([]string, 0, len(o.AlwaysAllow))
	for name, ok := range o.AlwaysAllow {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Evaluate decides whether req may run. First match wins:
//
//	plan mode              -> Deny
//	tool in AlwaysDeny     -> Deny
//	read-only tool         -> Allow
//	read_only mode         -> Deny
//	tool in AlwaysAllow    -> Allow
//	yolo mode              -> Allow
//	default mode           -> AskHuman
//
// Read-only tools are therefore allowed in every mode except plan, unless
// the operator lists them in AlwaysDeny. Identical inputs always produce
// identical decisions.
func Evaluate(req toolexecutor.ActionRequest, desc toolexecutor.ToolDescriptor, mode ApprovalMode, ov Overrides) Decision {
	if mode == ModePlan {
		return DenyDecision(ReasonPlanMode)
	}
	if ov.AlwaysDeny[desc.Name] {
		return DenyDecision("denied by policy: " + desc.Name)
	}
	if desc.IsReadOnly() {
		return AllowDecision()
	}
	switch mode {
	case ModeReadOnly:
		return DenyDecision(ReasonReadOnly)
	case ModeYolo:
		return AllowDecision()
	case ModeDefault:
		if ov.AlwaysAllow[desc.Name] {
			return AllowDecision()
		}
		return AskDecision(RenderConfirmationPrompt(req, desc))
	default:
		return DenyDecision(fmt.Sprintf("unknown approval mode %q", mode))
	}
}
