package agent

import (
	"errors"
	"time"

	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// ErrSessionBusy is returned when a session already has a run in progress.
var ErrSessionBusy = errors.New("session already running")

// errSessionTimeout is the cancel cause set when the session wall clock runs out.
var errSessionTimeout = errors.New("session timeout")

// Termination reasons, re-exported for callers that only import agent.
const (
	Completed              = session.Completed
	Cancelled              = session.Cancelled
	IterationLimitExceeded = session.IterationLimitExceeded
	ModelCallFailure       = session.ModelCallFailure
	PolicyHalt             = session.PolicyHalt
	SessionTimeout         = session.SessionTimeout
)

// TerminationResult is how a run ended.
type TerminationResult struct {
	Reason session.TerminationReason `json:"reason"`
	// Content is the final answer for Completed runs.
	Content    string            `json:"content,omitempty"`
	Transcript []session.Message `json:"transcript"`
	Iterations int               `json:"iterations"`
	Usage      TokenUsage        `json:"usage"`
	// Err is the underlying failure for ModelCallFailure.
	Err error `json:"-"`
}

// OK reports whether the run completed with a final answer.
func (r *TerminationResult) OK() bool {
	return r != nil && r.Reason == Completed
}

// EventType names a runner event.
type EventType string

const (
	EventMessage      EventType = "message"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventConfirmation EventType = "confirmation"
	EventStateChange  EventType = "state_change"
	EventCompletion   EventType = "completion"
	EventError        EventType = "error"
)

// State is the phase a run is in, reported by state_change events.
type State string

const (
	StateThinking   State = "thinking"
	StateActing     State = "acting"
	StateConfirming State = "confirming"
	StateIdle       State = "idle"
)

// Event is emitted by the runner as a session progresses. Only the fields
// relevant to Type are set.
type Event struct {
	Type      EventType
	SessionID string
	Iteration int
	Time      time.Time

	Message *session.Message
	Request *toolexecutor.ActionRequest
	Result  *toolexecutor.ActionResult
	Prompt  string
	State   State
	Skills  []string
	Reason  session.TerminationReason
	Err     error
}

// EventHandler receives runner events on the run's goroutine. Handlers must
// not block for long.
type EventHandler func(Event)
