package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/nanoclaw/internal/observability"
	"github.com/harun/nanoclaw/internal/tracing"
	"github.com/harun/nanoclaw/pkg/memory"
	"github.com/harun/nanoclaw/pkg/policy"
	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/skills"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

const (
	DefaultMaxIterations    = 50
	DefaultMaxDeniedBatches = 3
)

// Config holds runner configuration
type Config struct {
	Provider    LLMProvider
	Model       string
	Temperature float64
	MaxTokens   int

	Tools *toolexecutor.Registry
	// Memory builds model contexts. Nil sends the bare transcript and the
	// full catalog.
	Memory *memory.Manager
	// Skills re-activates skills of restored sessions. Optional.
	Skills     *skills.Registry
	Negotiator *policy.Negotiator
	// Store persists transcripts. Optional.
	Store *session.Store

	MaxIterations int
	ParallelTools bool
	// ModelTimeout bounds a single model call attempt.
	ModelTimeout time.Duration
	// SessionTimeout bounds the wall-clock duration of one run.
	SessionTimeout time.Duration
	// MaxDeniedBatches halts the run after this many consecutive batches in
	// which every request was denied. Zero uses the default; negative
	// disables the check.
	MaxDeniedBatches int
	WorkspacePath    string
	Retry            RetryPolicy

	OnEvent EventHandler
	Logger  *zerolog.Logger
}

// Runner drives sessions through the perceive, reason, act, observe loop.
type Runner struct {
	cfg    Config
	logger zerolog.Logger

	// Active runs for abort capability
	activeRuns map[string]context.CancelCauseFunc
	runsMu     sync.Mutex
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxDeniedBatches == 0 {
		cfg.MaxDeniedBatches = DefaultMaxDeniedBatches
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}

	logger := log.With().Str("component", "agent").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Runner{
		cfg:        cfg,
		logger:     logger,
		activeRuns: make(map[string]context.CancelCauseFunc),
	}, nil
}

// Abort cancels a running agent execution. The run stops at its next safe
// point with reason Cancelled.
func (r *Runner) Abort(sessionID string) error {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[sessionID]
	if !exists {
		r.logger.Debug().Str("session_id", sessionID).Msg("No active run to abort")
		return nil
	}

	r.logger.Info().Str("session_id", sessionID).Msg("Aborting agent execution")
	cancel(context.Canceled)
	return nil
}

// IsRunning checks if an agent is currently running for a session
func (r *Runner) IsRunning(sessionID string) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	_, exists := r.activeRuns[sessionID]
	return exists
}

func (r *Runner) register(id string, cancel context.CancelCauseFunc) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	if _, busy := r.activeRuns[id]; busy {
		return false
	}
	r.activeRuns[id] = cancel
	return true
}

func (r *Runner) unregister(id string) {
	r.runsMu.Lock()
	delete(r.activeRuns, id)
	r.runsMu.Unlock()
}

// run is the per-call state of Run.
type run struct {
	sess   *session.Session
	ctx    context.Context
	logger zerolog.Logger
	usage  TokenUsage
	denied int
}

// Run appends input to sess as a user message and loops until the model
// gives a final answer or a termination condition is met. Loop failures are
// reported in the TerminationResult; the error is only set when the run
// could not start.
func (r *Runner) Run(ctx context.Context, sess *session.Session, input string) (*TerminationResult, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if !r.register(sess.ID, cancel) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, sess.ID)
	}
	defer r.unregister(sess.ID)

	if r.cfg.SessionTimeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, r.cfg.SessionTimeout, errSessionTimeout)
		defer stop()
	}

	runCtx = tracing.NewRunContext(runCtx, sess.ID)
	runCtx, span := tracing.StartSpan(runCtx, "nanoclaw.agent", "agent.run",
		attribute.String("session_id", sess.ID),
		attribute.String("approval_mode", string(sess.Mode())),
	)

	st := &run{
		sess:   sess,
		ctx:    runCtx,
		logger: tracing.LoggerFromContext(runCtx, r.logger),
	}

	observability.SessionStarted()
	sess.ResetIteration()
	r.restoreSkills(st)

	if input != "" {
		r.appendMessage(st, session.Message{Role: session.RoleUser, Content: input})
	}
	st.logger.Info().Str("mode", string(sess.Mode())).Msg("Agent run started")

	result := r.loop(st)

	sess.SetTermination(result.Reason)
	result.Transcript = sess.Messages()
	result.Iterations = sess.Iteration()
	result.Usage = st.usage
	r.checkpoint(st)

	observability.SessionFinished(string(result.Reason), result.Iterations)
	span.SetAttributes(
		attribute.String("termination", string(result.Reason)),
		attribute.Int("iterations", result.Iterations),
	)
	tracing.EndSpan(span, result.Err)

	logEvent := st.logger.Info()
	if result.Reason != Completed {
		logEvent = st.logger.Warn().AnErr("cause", result.Err)
	}
	logEvent.
		Str("reason", string(result.Reason)).
		Int("iterations", result.Iterations).
		Int("input_tokens", st.usage.InputTokens).
		Int("output_tokens", st.usage.OutputTokens).
		Msg("Agent run finished")

	if result.Err != nil {
		r.emit(st, Event{Type: EventError, Err: result.Err})
	}
	r.emit(st, Event{Type: EventCompletion, Reason: result.Reason})
	r.emit(st, Event{Type: EventStateChange, State: StateIdle})
	return result, nil
}

func (r *Runner) loop(st *run) *TerminationResult {
	sess := st.sess
	for {
		if reason, stopped := stopReason(st.ctx); stopped {
			return &TerminationResult{Reason: reason}
		}
		if sess.Iteration() >= r.cfg.MaxIterations {
			return &TerminationResult{
				Reason: IterationLimitExceeded,
				Err:    fmt.Errorf("reached %d iterations", r.cfg.MaxIterations),
			}
		}

		r.emit(st, Event{Type: EventStateChange, State: StateThinking})
		resp, err := r.callModel(st, r.buildRequest(st))
		if err != nil {
			if reason, stopped := stopReason(st.ctx); stopped {
				return &TerminationResult{Reason: reason}
			}
			return &TerminationResult{Reason: ModelCallFailure, Err: err}
		}

		requests := normalizeRequests(resp.Requests)
		r.appendMessage(st, session.Message{
			Role:     session.RoleAssistant,
			Content:  resp.Content,
			Requests: requests,
		})

		if len(requests) == 0 {
			return &TerminationResult{Reason: Completed, Content: resp.Content}
		}

		results := r.resolveBatch(st, requests)
		for i := range results {
			res := results[i]
			r.appendMessage(st, session.Message{
				Role:    session.RoleTool,
				Content: res.Content(),
				Result:  &res,
			})
		}
		sess.IncrementIteration()
		r.checkpoint(st)

		if allDenied(results) {
			st.denied++
		} else {
			st.denied = 0
		}
		if r.cfg.MaxDeniedBatches > 0 && st.denied >= r.cfg.MaxDeniedBatches {
			return &TerminationResult{
				Reason: PolicyHalt,
				Err:    fmt.Errorf("%d consecutive batches denied by policy", st.denied),
			}
		}
	}
}

// stopReason reports whether the run context ended and why.
func stopReason(ctx context.Context) (session.TerminationReason, bool) {
	if ctx.Err() == nil {
		return "", false
	}
	if errors.Is(context.Cause(ctx), errSessionTimeout) {
		return SessionTimeout, true
	}
	return Cancelled, true
}

func (r *Runner) buildRequest(st *run) LLMRequest {
	req := LLMRequest{
		Model:       r.cfg.Model,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}
	if r.cfg.Memory == nil {
		req.Messages = st.sess.Messages()
		req.Tools = r.cfg.Tools.Visible(st.sess.Active.Whitelist())
		return req
	}

	c := r.cfg.Memory.BuildContext(st.sess, r.cfg.Tools)
	req.SystemPrompt = c.System
	req.Messages = c.Messages
	req.Tools = c.Tools
	return req
}

// callModel calls the provider with a per-attempt timeout, retrying
// retryable failures with backoff.
func (r *Runner) callModel(st *run, req LLMRequest) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(st.ctx, "nanoclaw.agent", "agent.model_call",
		attribute.String("provider", r.cfg.Provider.Provider()),
		attribute.String("model", req.Model),
		attribute.Int("iteration", st.sess.Iteration()),
	)
	provider := r.cfg.Provider.Provider()
	retry := r.cfg.Retry

	var lastErr error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.cfg.ModelTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.ModelTimeout)
		}
		start := time.Now()
		resp, err := r.cfg.Provider.Call(callCtx, req)
		cancel()
		observability.RecordModelCall(provider, time.Since(start), err)

		if err == nil && resp == nil {
			err = errors.New("provider returned no response")
		}
		if err == nil {
			if resp.Usage != nil {
				st.usage.InputTokens += resp.Usage.InputTokens
				st.usage.OutputTokens += resp.Usage.OutputTokens
			}
			tracing.EndSpan(span, nil)
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			tracing.EndSpan(span, ctx.Err())
			return nil, ctx.Err()
		}
		if !IsRetryableError(err) || attempt >= retry.MaxRetries {
			break
		}

		delay := retry.Backoff(attempt)
		observability.RecordModelRetry(provider)
		st.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying model call after error")

		select {
		case <-ctx.Done():
			tracing.EndSpan(span, ctx.Err())
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	err := fmt.Errorf("model call failed: %w", lastErr)
	tracing.EndSpan(span, err)
	return nil, err
}

// normalizeRequests gives every request an ID and a non-nil argument map.
func normalizeRequests(reqs []toolexecutor.ActionRequest) []toolexecutor.ActionRequest {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]toolexecutor.ActionRequest, len(reqs))
	for i, req := range reqs {
		if req.ID == "" {
			req.ID = "call_" + gonanoid.Must(12)
		}
		if req.Arguments == nil {
			req.Arguments = map[string]interface{}{}
		}
		out[i] = req
	}
	return out
}

func allDenied(results []toolexecutor.ActionResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, res := range results {
		if res.Status != toolexecutor.StatusDenied {
			return false
		}
	}
	return true
}

func (r *Runner) appendMessage(st *run, msg session.Message) {
	msg.Iteration = st.sess.Iteration()
	stored := st.sess.Append(msg)
	if r.cfg.Store != nil {
		if err := r.cfg.Store.Append(tracing.Detach(st.ctx), st.sess.ID, stored); err != nil {
			st.logger.Warn().Err(err).Msg("Failed to persist message")
		}
	}
	r.emit(st, Event{Type: EventMessage, Message: &stored})
}

func (r *Runner) checkpoint(st *run) {
	if r.cfg.Store == nil {
		return
	}
	if err := r.cfg.Store.Checkpoint(tracing.Detach(st.ctx), st.sess); err != nil {
		st.logger.Warn().Err(err).Msg("Failed to checkpoint session")
	}
}

// restoreSkills re-activates skills recorded on a loaded session.
func (r *Runner) restoreSkills(st *run) {
	names := st.sess.RestoredSkills
	if len(names) == 0 || r.cfg.Skills == nil {
		return
	}
	st.sess.RestoredSkills = nil
	active := st.sess.Active.Snapshot()
	for _, name := range names {
		sk, err := r.cfg.Skills.Activate(st.ctx, name)
		if err != nil {
			st.logger.Warn().Err(err).Str("skill", name).Msg("Failed to restore skill")
			continue
		}
		active = append(active, sk)
	}
	st.sess.Active.Restore(active)
}

func (r *Runner) emit(st *run, ev Event) {
	if r.cfg.OnEvent == nil {
		return
	}
	ev.SessionID = st.sess.ID
	ev.Iteration = st.sess.Iteration()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.cfg.OnEvent(ev)
}
