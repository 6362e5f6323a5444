package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrToolNotFound      = errors.New("tool not found")
	ErrDuplicateToolName = errors.New("duplicate tool name")
	ErrInvalidTool       = errors.New("invalid tool definition")
	ErrSchemaMismatch    = errors.New("schema mismatch")
	ErrRemoteUnavailable = errors.New("remote server unavailable")
	ErrCallTimeout       = errors.New("call timed out")
)

// Mutability tells the policy engine whether a tool can change state.
type Mutability string

const (
	ReadOnly Mutability = "read_only"
	Mutating Mutability = "mutating"
)

// Origin tags where a tool comes from: "local" or "remote:<server-id>".
type Origin string

const OriginLocal Origin = "local"

const remotePrefix = "remote:"

// RemoteOrigin returns the origin tag for tools served by serverID.
func RemoteOrigin(serverID string) Origin {
	return Origin(remotePrefix + serverID)
}

func (o Origin) IsRemote() bool {
	return strings.HasPrefix(string(o), remotePrefix)
}

// ServerID returns the remote server id, or "" for local tools.
func (o Origin) ServerID() string {
	if !o.IsRemote() {
		return ""
	}
	return strings.TrimPrefix(string(o), remotePrefix)
}

// ToolParameter describes one argument of a tool.
type ToolParameter struct {
	Name        string
	Type        string // string, number, integer, boolean, object, array
	Description string
	Required    bool
	Default     interface{}
	Enum        []string
}

// ToolHandler executes a tool with validated arguments. Handlers that can
// block must honour ctx.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolDescriptor is the fixed-shape catalog entry for a tool.
type ToolDescriptor struct {
	Name        string
	Description string
	// Parameters generate the input schema unless Schema is set.
	Parameters []ToolParameter
	// Schema is a raw JSON schema for the arguments object, as served by
	// remote servers.
	Schema     map[string]interface{}
	Mutability Mutability
	Origin     Origin
	// Timeout overrides the registry default for this tool.
	Timeout time.Duration
	// AlwaysVisible keeps the tool in the model-facing catalog even when a
	// skill whitelist is in force.
	AlwaysVisible bool
	Handler       ToolHandler
}

func (d ToolDescriptor) IsReadOnly() bool {
	return d.Mutability == ReadOnly
}

// InputSchema returns the JSON schema of the tool's arguments object.
func (d ToolDescriptor) InputSchema() map[string]interface{} {
	if d.Schema != nil {
		return d.Schema
	}
	return generateJSONSchema(d.Parameters)
}

// ActionRequest is a tool invocation proposed by the model.
type ActionRequest struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ActionStatus is the outcome class of an ActionResult.
type ActionStatus string

const (
	StatusSuccess ActionStatus = "success"
	StatusError   ActionStatus = "error"
	StatusDenied  ActionStatus = "denied"
	StatusTimeout ActionStatus = "timeout"
)

// ErrorKind classifies non-success results.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindNotFound          ErrorKind = "NotFound"
	KindSchemaMismatch    ErrorKind = "SchemaMismatch"
	KindToolExecution     ErrorKind = "ToolExecutionError"
	KindPolicyDenied      ErrorKind = "PolicyDenied"
	KindRemoteUnavailable ErrorKind = "RemoteUnavailable"
	KindTimeout           ErrorKind = "Timeout"
)

// ActionResult is the resolved outcome of one ActionRequest.
type ActionResult struct {
	CallID    string        `json:"call_id"`
	ToolName  string        `json:"tool_name"`
	Status    ActionStatus  `json:"status"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Content renders the result as the text the model sees.
func (r ActionResult) Content() string {
	switch r.Status {
	case StatusSuccess:
		if r.Truncated {
			return r.Output + "\n[output truncated]"
		}
		return r.Output
	case StatusDenied:
		return "Denied: " + r.Error
	case StatusTimeout:
		return fmt.Sprintf("Timeout: %s", r.Error)
	default:
		if r.ErrorKind != KindNone {
			return fmt.Sprintf("Error (%s): %s", r.ErrorKind, r.Error)
		}
		return "Error: " + r.Error
	}
}

// IsError reports whether the model should treat the result as a failure.
func (r ActionResult) IsError() bool {
	return r.Status != StatusSuccess
}

// DeniedResult builds the result for a request the policy refused.
func DeniedResult(req ActionRequest, reason string) ActionResult {
	return ActionResult{
		CallID:    req.ID,
		ToolName:  req.Name,
		Status:    StatusDenied,
		Error:     reason,
		ErrorKind: KindPolicyDenied,
	}
}

// ErrorResult builds an error result of the given kind.
func ErrorResult(req ActionRequest, kind ErrorKind, err error) ActionResult {
	return ActionResult{
		CallID:    req.ID,
		ToolName:  req.Name,
		Status:    StatusError,
		Error:     err.Error(),
		ErrorKind: kind,
	}
}

func formatOutput(v interface{}) string {
	switch out := v.(type) {
	case nil:
		return ""
	case string:
		return out
	case []byte:
		return string(out)
	case fmt.Stringer:
		return out.String()
	default:
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Sprintf("%v", out)
		}
		return string(data)
	}
}
