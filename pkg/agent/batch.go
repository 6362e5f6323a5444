package agent

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/nanoclaw/internal/observability"
	"github.com/harun/nanoclaw/internal/tracing"
	"github.com/harun/nanoclaw/pkg/policy"
	"github.com/harun/nanoclaw/pkg/skills"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// slot tracks one request of a batch through gating and dispatch.
type slot struct {
	req     toolexecutor.ActionRequest
	desc    toolexecutor.ToolDescriptor
	allowed bool
	result  toolexecutor.ActionResult
}

// resolveBatch resolves every request of one model turn and returns the
// results in request order. Gating, including any human confirmation, runs
// sequentially in request order. Allowed calls are then dispatched, in
// parallel when configured, and the batch joins before returning. Skill
// changes requested by the batch are applied after the join.
func (r *Runner) resolveBatch(st *run, requests []toolexecutor.ActionRequest) []toolexecutor.ActionResult {
	ctx, span := tracing.StartSpan(st.ctx, "nanoclaw.agent", "agent.tool_batch",
		attribute.Int("batch.size", len(requests)),
		attribute.Int("iteration", st.sess.Iteration()),
	)
	defer span.End()

	slots := make([]slot, len(requests))
	for i, req := range requests {
		slots[i] = r.gate(ctx, st, req)
	}

	r.emit(st, Event{Type: EventStateChange, State: StateActing})

	effects := skills.NewEffects(st.sess.Active)
	// Tools run to completion under their own timeouts once started; the run
	// observes cancellation after the join.
	toolCtx := skills.WithEffects(context.WithoutCancel(ctx), effects)

	var pending []int
	for i := range slots {
		if !slots[i].allowed {
			continue
		}
		req := slots[i].req
		r.emit(st, Event{Type: EventToolCall, Request: &req})
		pending = append(pending, i)
	}

	dispatch := func(i int) {
		req := slots[i].req
		callCtx := tracing.WithCallID(toolCtx, req.ID)
		callCtx = toolexecutor.ContextWithExecContext(callCtx, &toolexecutor.ExecutionContext{
			SessionID:  st.sess.ID,
			CallID:     req.ID,
			WorkingDir: r.cfg.WorkspacePath,
		})
		// The descriptor the policy decision was made on is the one that runs.
		slots[i].result = r.cfg.Tools.DispatchDescriptor(callCtx, slots[i].desc, req)
	}

	if r.cfg.ParallelTools && len(pending) > 1 {
		var wg sync.WaitGroup
		for _, i := range pending {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				dispatch(i)
			}(i)
		}
		wg.Wait()
	} else {
		for _, i := range pending {
			dispatch(i)
		}
	}

	if changed := effects.Apply(); len(changed) > 0 {
		st.logger.Info().
			Strs("skills", changed).
			Strs("active", st.sess.Active.Names()).
			Msg("Active skills changed")
		r.emit(st, Event{Type: EventStateChange, State: StateActing, Skills: st.sess.Active.Names()})
	}

	results := make([]toolexecutor.ActionResult, len(slots))
	for i := range slots {
		results[i] = slots[i].result
		res := results[i]
		r.emit(st, Event{Type: EventToolResult, Result: &res})
	}
	return results
}

// gate looks up and authorizes one request. Requests that may not run get
// their final result here.
func (r *Runner) gate(ctx context.Context, st *run, req toolexecutor.ActionRequest) slot {
	s := slot{req: req}

	desc, err := r.cfg.Tools.Lookup(req.Name)
	if err != nil {
		s.result = toolexecutor.ErrorResult(req, toolexecutor.KindNotFound, err)
		return s
	}
	if !r.cfg.Tools.IsVisible(req.Name, st.sess.Active.Whitelist()) {
		s.result = toolexecutor.ErrorResult(req, toolexecutor.KindNotFound,
			fmt.Errorf("%w: %s is not available while the active skills restrict tools", toolexecutor.ErrToolNotFound, req.Name))
		return s
	}
	s.desc = desc

	mode := st.sess.Mode()
	overrides := st.sess.Overrides()
	decision := policy.Evaluate(req, desc, mode, overrides)
	observability.RecordPolicyDecision(string(mode), decision.String())
	observability.RecordPolicyAudit(ctx, st.sess.ID, req.Name, decision.String(), map[string]interface{}{
		"call_id": req.ID,
		"mode":    string(mode),
		"reason":  decision.Reason,
	})

	switch decision.Kind {
	case policy.Allow:
		s.allowed = true
		return s
	case policy.Deny:
		st.logger.Info().Str("tool", req.Name).Str("reason", decision.Reason).Msg("Tool call denied by policy")
		s.result = toolexecutor.DeniedResult(req, decision.Reason)
		return s
	}

	r.emit(st, Event{Type: EventStateChange, State: StateConfirming})
	r.emit(st, Event{Type: EventConfirmation, Request: &req, Prompt: decision.Prompt})

	res := r.cfg.Negotiator.Resolve(ctx, st.sess.ID, req, desc, mode, overrides, decision)
	if res.AlwaysAllow {
		st.sess.AllowAlways(req.Name)
	}
	if !res.Approved {
		st.logger.Info().Str("tool", req.Name).Str("reason", res.Reason).Msg("Tool call not approved")
		s.result = toolexecutor.DeniedResult(res.Request, res.Reason)
		return s
	}
	s.req = res.Request
	s.allowed = true
	return s
}
