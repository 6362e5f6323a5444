package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/nanoclaw/internal/observability"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// DefaultConfirmTimeout bounds how long a human has to answer.
const DefaultConfirmTimeout = 5 * time.Minute

// Denial reasons produced while negotiating.
const (
	ReasonUserDenied        = "denied by user"
	ReasonModificationLimit = "modification limit reached"
	ReasonConfirmTimeout    = "confirmation timed out"
	ReasonNoHandler         = "no confirmation channel available"
)

// Resolution is the settled outcome of an AskHuman decision.
type Resolution struct {
	Approved bool
	// Request is the call to dispatch, with any human-edited arguments.
	Request toolexecutor.ActionRequest
	Reason  string
	// AlwaysAllow is set when the human approved the tool for the session.
	AlwaysAllow bool
	Rounds      int
}

// Negotiator settles AskHuman decisions with a Handler.
type Negotiator struct {
	handler Handler
	timeout time.Duration
	logger  zerolog.Logger
}

// NewNegotiator creates a negotiator. A zero timeout uses DefaultConfirmTimeout.
func NewNegotiator(handler Handler, timeout time.Duration) *Negotiator {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	return &Negotiator{
		handler: handler,
		timeout: timeout,
		logger:  log.With().Str("component", "policy").Logger(),
	}
}

// Resolve asks the human about req. A modify reply replaces the arguments and
// re-evaluates the call once; a second modify is denied.
func (n *Negotiator) Resolve(ctx context.Context, sessionID string, req toolexecutor.ActionRequest, desc toolexecutor.ToolDescriptor, mode ApprovalMode, ov Overrides, decision Decision) Resolution {
	res := Resolution{Request: req}
	if decision.Kind != AskHuman {
		res.Approved = decision.Kind == Allow
		res.Reason = decision.Reason
		return res
	}
	if n == nil || n.handler == nil {
		res.Reason = ReasonNoHandler
		return res
	}

	modified := false
	for {
		res.Rounds++
		resp, err := n.ask(ctx, sessionID, res.Request, decision.Prompt, modified)
		if err != nil {
			res.Reason = n.failureReason(err)
			n.record(ctx, sessionID, res.Request, "error", res.Reason)
			return res
		}
		n.record(ctx, sessionID, res.Request, string(resp.Outcome), resp.Reason)

		switch resp.Outcome {
		case OutcomeApprove:
			res.Approved = true
			return res

		case OutcomeApproveAlways:
			res.Approved = true
			res.AlwaysAllow = true
			return res

		case OutcomeModify:
			if modified {
				res.Reason = ReasonModificationLimit
				return res
			}
			if resp.Arguments == nil {
				res.Reason = "modify reply carried no arguments"
				return res
			}
			modified = true
			res.Request.Arguments = resp.Arguments

			decision = Evaluate(res.Request, desc, mode, ov)
			switch decision.Kind {
			case Allow:
				res.Approved = true
				return res
			case Deny:
				res.Reason = decision.Reason
				return res
			}

		default:
			res.Reason = ReasonUserDenied
			if resp.Reason != "" {
				res.Reason = fmt.Sprintf("%s: %s", ReasonUserDenied, resp.Reason)
			}
			return res
		}
	}
}

func (n *Negotiator) ask(ctx context.Context, sessionID string, req toolexecutor.ActionRequest, prompt string, modified bool) (Response, error) {
	askCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	creq := newConfirmationRequest(sessionID, req, prompt, modified)
	n.logger.Debug().
		Str("confirmation_id", creq.ID).
		Str("tool", req.Name).
		Str("call_id", req.ID).
		Bool("modified", modified).
		Msg("Awaiting confirmation")

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := n.handler.Confirm(askCtx, creq)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-askCtx.Done():
		return Response{}, askCtx.Err()
	}
}

func (n *Negotiator) failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonConfirmTimeout
	}
	if errors.Is(err, context.Canceled) {
		return "confirmation cancelled"
	}
	return fmt.Sprintf("confirmation failed: %v", err)
}

func (n *Negotiator) record(ctx context.Context, sessionID string, req toolexecutor.ActionRequest, outcome, reason string) {
	observability.RecordHumanResponse(outcome)
	observability.RecordHumanAudit(ctx, sessionID, req.Name, outcome, map[string]interface{}{
		"call_id": req.ID,
		"reason":  reason,
	})
	n.logger.Info().
		Str("session_id", sessionID).
		Str("tool", req.Name).
		Str("call_id", req.ID).
		Str("outcome", outcome).
		Msg("Confirmation answered")
}
