package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harun/nanoclaw/pkg/policy"
	"github.com/harun/nanoclaw/pkg/skills"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one transcript entry. Assistant messages may carry the action
// requests the model proposed; tool messages carry exactly one result.
type Message struct {
	Role      Role                         `json:"role"`
	Content   string                       `json:"content"`
	Requests  []toolexecutor.ActionRequest `json:"requests,omitempty"`
	Result    *toolexecutor.ActionResult   `json:"result,omitempty"`
	Iteration int                          `json:"iteration,omitempty"`
	Timestamp time.Time                    `json:"timestamp"`
}

// HasRequests reports whether the message proposes tool calls.
func (m Message) HasRequests() bool { return len(m.Requests) > 0 }

// TerminationReason says why a run ended.
type TerminationReason string

const (
	Completed              TerminationReason = "Completed"
	Cancelled              TerminationReason = "Cancelled"
	IterationLimitExceeded TerminationReason = "IterationLimitExceeded"
	ModelCallFailure       TerminationReason = "ModelCallFailure"
	PolicyHalt             TerminationReason = "PolicyHalt"
	SessionTimeout         TerminationReason = "SessionTimeout"
)

// Session is the state of one conversation. The agent loop owns it while a
// run is in progress; the lock only guards readers such as event handlers.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu          sync.RWMutex
	mode        policy.ApprovalMode
	overrides   policy.Overrides
	messages    []Message
	iteration   int
	termination TerminationReason
	updatedAt   time.Time

	// Active is the set of skills activated in this session.
	Active *skills.ActiveSet
	// RestoredSkills lists skills that were active when the session was
	// saved. They are re-activated by whoever owns a skill registry.
	RestoredSkills []string
}

// New creates an empty session.
func New(mode policy.ApprovalMode) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		mode:      mode,
		overrides: policy.NewOverrides(nil, nil),
		Active:    skills.NewActiveSet(),
		updatedAt: now,
	}
}

func (s *Session) Mode() policy.ApprovalMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode changes the approval mode for subsequent evaluations.
func (s *Session) SetMode(mode policy.ApprovalMode) {
	s.mu.Lock()
	s.mode = mode
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// Overrides returns a copy of the session's policy overrides.
func (s *Session) Overrides() policy.Overrides {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overrides.Clone()
}

// SetOverrides replaces the session's policy overrides.
func (s *Session) SetOverrides(ov policy.Overrides) {
	s.mu.Lock()
	s.overrides = ov.Clone()
	s.mu.Unlock()
}

// AllowAlways records a standing approval for tool.
func (s *Session) AllowAlways(tool string) {
	s.mu.Lock()
	s.overrides.AllowAlways(tool)
	s.mu.Unlock()
}

// Append adds msg to the transcript, stamping it if needed, and returns the
// stored copy.
func (s *Session) Append(msg Message) Message {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if len(msg.Requests) > 0 {
		msg.Requests = append([]toolexecutor.ActionRequest(nil), msg.Requests...)
	}
	if msg.Result != nil {
		res := *msg.Result
		msg.Result = &res
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.updatedAt = msg.Timestamp
	s.mu.Unlock()
	return msg
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// Len returns the number of messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Session) Iteration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration
}

// IncrementIteration advances the counter and returns the new value.
func (s *Session) IncrementIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iteration++
	return s.iteration
}

// ResetIteration zeroes the counter at the start of a run.
func (s *Session) ResetIteration() {
	s.mu.Lock()
	s.iteration = 0
	s.termination = ""
	s.mu.Unlock()
}

// Termination returns the reason the last run ended, or "" while running.
func (s *Session) Termination() TerminationReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.termination
}

func (s *Session) SetTermination(reason TerminationReason) {
	s.mu.Lock()
	s.termination = reason
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
