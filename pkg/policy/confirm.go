package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// Outcome is the human's answer to a confirmation request.
type Outcome string

const (
	OutcomeApprove       Outcome = "approve"
	OutcomeApproveAlways Outcome = "approve_always"
	OutcomeDeny          Outcome = "deny"
	OutcomeModify        Outcome = "modify"
)

// ConfirmationRequest is shown to the human for an AskHuman decision.
type ConfirmationRequest struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id,omitempty"`
	CallID    string                 `json:"call_id"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Prompt    string                 `json:"prompt"`
	// Modified is true when the arguments were already edited once.
	Modified bool `json:"modified"`
}

// Response is the human's reply. Arguments is required for OutcomeModify.
type Response struct {
	Outcome   Outcome                `json:"outcome"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
}

// Handler delivers confirmation requests to a human and returns the reply.
// Implementations must return when ctx is done.
type Handler interface {
	Confirm(ctx context.Context, req ConfirmationRequest) (Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req ConfirmationRequest) (Response, error)

func (f HandlerFunc) Confirm(ctx context.Context, req ConfirmationRequest) (Response, error) {
	return f(ctx, req)
}

func newConfirmationRequest(sessionID string, req toolexecutor.ActionRequest, prompt string, modified bool) ConfirmationRequest {
	id, err := gonanoid.New()
	if err != nil {
		id = fmt.Sprintf("confirm-%d", time.Now().UnixNano())
	}
	return ConfirmationRequest{
		ID:        id,
		SessionID: sessionID,
		CallID:    req.ID,
		ToolName:  req.Name,
		Arguments: req.Arguments,
		Prompt:    prompt,
		Modified:  modified,
	}
}

// AutoHandler answers every request with the same outcome.
type AutoHandler struct {
	Outcome Outcome
}

func (h AutoHandler) Confirm(ctx context.Context, req ConfirmationRequest) (Response, error) {
	return Response{Outcome: h.Outcome, Reason: "automatic"}, nil
}

// ScriptedHandler replays queued responses and records what it was asked.
// When the script runs out it answers with Fallback, or denies.
type ScriptedHandler struct {
	mu        sync.Mutex
	responses []Response
	requests  []ConfirmationRequest
	Fallback  *Response
	Delay     time.Duration
	Err       error
}

// NewScriptedHandler creates a handler that replays responses in order.
func NewScriptedHandler(responses ...Response) *ScriptedHandler {
	return &ScriptedHandler{responses: responses}
}

func (h *ScriptedHandler) Confirm(ctx context.Context, req ConfirmationRequest) (Response, error) {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()

	if h.Delay > 0 {
		select {
		case <-time.After(h.Delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if h.Err != nil {
		return Response{}, h.Err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.responses) == 0 {
		if h.Fallback != nil {
			return *h.Fallback, nil
		}
		return Response{Outcome: OutcomeDeny, Reason: "no scripted response"}, nil
	}
	resp := h.responses[0]
	h.responses = h.responses[1:]
	return resp, nil
}

// Requests returns the requests received so far.
func (h *ScriptedHandler) Requests() []ConfirmationRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ConfirmationRequest, len(h.requests))
	copy(out, h.requests)
	return out
}
