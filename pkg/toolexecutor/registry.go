package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/nanoclaw/internal/observability"
	"github.com/harun/nanoclaw/internal/tracing"
)

const (
	DefaultToolTimeout    = 30 * time.Second
	DefaultMaxOutputBytes = 10 * 1024
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

var validParamTypes = map[string]bool{
	"string": true, "number": true, "integer": true,
	"boolean": true, "object": true, "array": true,
}

type registeredTool struct {
	desc   ToolDescriptor
	schema *gojsonschema.Schema
}

// Registry is the process-wide tool catalog. Sessions share it read-mostly.
type Registry struct {
	mu             sync.RWMutex
	tools          map[string]*registeredTool
	defaultTimeout time.Duration
	maxOutputBytes int
	logger         zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaultTimeout sets the per-call timeout for tools without their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithMaxOutputBytes caps tool output returned to the model.
func WithMaxOutputBytes(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxOutputBytes = n
		}
	}
}

// NewRegistry creates an empty catalog.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:          make(map[string]*registeredTool),
		defaultTimeout: DefaultToolTimeout,
		maxOutputBytes: DefaultMaxOutputBytes,
		logger:         log.With().Str("component", "toolexecutor").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates desc and adds it to the catalog.
func (r *Registry) Register(desc ToolDescriptor) error {
	entry, err := compileTool(desc)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tools[desc.Name]; ok {
		return fmt.Errorf("%w: %s (already registered from %s)", ErrDuplicateToolName, desc.Name, existing.desc.Origin)
	}
	r.tools[desc.Name] = entry

	r.logger.Debug().
		Str("tool", desc.Name).
		Str("origin", string(entry.desc.Origin)).
		Str("mutability", string(entry.desc.Mutability)).
		Msg("Tool registered")
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return ToolDescriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return entry.desc, nil
}

// List returns every registered descriptor sorted by name.
func (r *Registry) List() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, entry := range r.tools {
		out = append(out, entry.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Visible returns the model-facing subset of the catalog. A nil whitelist
// means no whitelisting is configured and every tool is visible.
func (r *Registry) Visible(whitelist []string) []ToolDescriptor {
	all := r.List()
	if whitelist == nil {
		return all
	}
	allowed := make(map[string]bool, len(whitelist))
	for _, name := range whitelist {
		allowed[name] = true
	}
	out := make([]ToolDescriptor, 0, len(whitelist))
	for _, desc := range all {
		if desc.AlwaysVisible || allowed[desc.Name] {
			out = append(out, desc)
		}
	}
	return out
}

// IsVisible reports whether name is in the model-facing subset for whitelist.
func (r *Registry) IsVisible(name string, whitelist []string) bool {
	desc, err := r.Lookup(name)
	if err != nil {
		return false
	}
	if whitelist == nil || desc.AlwaysVisible {
		return true
	}
	for _, w := range whitelist {
		if w == name {
			return true
		}
	}
	return false
}

// ReplaceOrigin atomically swaps every tool of origin for descs. Either the
// whole new set is installed or the catalog is left untouched.
func (r *Registry) ReplaceOrigin(origin Origin, descs []ToolDescriptor) error {
	compiled := make(map[string]*registeredTool, len(descs))
	for _, desc := range descs {
		desc.Origin = origin
		entry, err := compileTool(desc)
		if err != nil {
			return err
		}
		if _, dup := compiled[desc.Name]; dup {
			return fmt.Errorf("%w: %s (twice from %s)", ErrDuplicateToolName, desc.Name, origin)
		}
		compiled[desc.Name] = entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range compiled {
		if existing, ok := r.tools[name]; ok && existing.desc.Origin != origin {
			return fmt.Errorf("%w: %s (already registered from %s)", ErrDuplicateToolName, name, existing.desc.Origin)
		}
	}
	for name, entry := range r.tools {
		if entry.desc.Origin == origin {
			delete(r.tools, name)
		}
	}
	for name, entry := range compiled {
		r.tools[name] = entry
	}

	r.logger.Info().Str("origin", string(origin)).Int("tools", len(compiled)).Msg("Catalog swapped")
	return nil
}

// RemoveOrigin drops every tool of origin and returns how many were removed.
func (r *Registry) RemoveOrigin(origin Origin) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for name, entry := range r.tools {
		if entry.desc.Origin == origin {
			delete(r.tools, name)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Warn().Str("origin", string(origin)).Int("tools", removed).Msg("Tools pruned from catalog")
	}
	return removed
}

// Dispatch validates and executes req. It never returns an error: every
// failure is reported in the ActionResult.
func (r *Registry) Dispatch(ctx context.Context, req ActionRequest) ActionResult {
	start := time.Now()

	r.mu.RLock()
	entry, ok := r.tools[req.Name]
	r.mu.RUnlock()

	if !ok {
		res := ErrorResult(req, KindNotFound, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name))
		observability.RecordToolDispatch(req.Name, "unknown", string(res.Status), time.Since(start))
		return res
	}
	return r.dispatch(ctx, entry, req, start)
}

// DispatchDescriptor executes req against desc, normally a descriptor
// returned by Lookup, instead of the catalog's current entry. Callers that
// authorize a call from a descriptor use it so a concurrent catalog swap
// cannot change which handler runs.
func (r *Registry) DispatchDescriptor(ctx context.Context, desc ToolDescriptor, req ActionRequest) ActionResult {
	start := time.Now()
	if desc.Name != req.Name {
		res := ErrorResult(req, KindNotFound, fmt.Errorf("%w: %s (descriptor is %s)", ErrToolNotFound, req.Name, desc.Name))
		observability.RecordToolDispatch(req.Name, "unknown", string(res.Status), time.Since(start))
		return res
	}
	entry, err := compileTool(desc)
	if err != nil {
		res := ErrorResult(req, KindToolExecution, err)
		observability.RecordToolDispatch(req.Name, string(desc.Origin), string(res.Status), time.Since(start))
		return res
	}
	return r.dispatch(ctx, entry, req, start)
}

func (r *Registry) dispatch(ctx context.Context, entry *registeredTool, req ActionRequest, start time.Time) ActionResult {
	ctx, span := tracing.StartSpan(ctx, "nanoclaw.toolexecutor", "tool.dispatch",
		attribute.String("tool.name", req.Name),
		attribute.String("tool.origin", string(entry.desc.Origin)),
		attribute.String("tool.call_id", req.ID),
	)
	logger := tracing.LoggerFromContext(tracing.WithCallID(ctx, req.ID), r.logger).With().Str("tool", req.Name).Logger()

	res := r.execute(ctx, entry, req, logger)
	res.Duration = time.Since(start)

	span.SetAttributes(attribute.String("tool.status", string(res.Status)))
	var spanErr error
	if res.Status != StatusSuccess {
		spanErr = errors.New(res.Error)
	}
	tracing.EndSpan(span, spanErr)
	observability.RecordToolDispatch(req.Name, string(entry.desc.Origin), string(res.Status), res.Duration)
	return res
}

func (r *Registry) execute(ctx context.Context, entry *registeredTool, req ActionRequest, logger zerolog.Logger) ActionResult {
	args := req.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	if err := validateArguments(entry.schema, args); err != nil {
		logger.Warn().Err(err).Msg("Argument validation failed")
		return ErrorResult(req, KindSchemaMismatch, err)
	}

	timeout := r.defaultTimeout
	if entry.desc.Timeout > 0 {
		timeout = entry.desc.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCtx := ExecContextFromContext(ctx)
	if execCtx == nil {
		execCtx = &ExecutionContext{}
	}
	scoped := *execCtx
	scoped.CallID = req.ID
	callCtx = ContextWithExecContext(callCtx, &scoped)

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	logger.Debug().Msg("Executing tool")
	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger.Error().Interface("panic", p).Str("stack", string(debug.Stack())).Msg("Tool handler panicked")
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		value, err := entry.desc.Handler(callCtx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return r.classifyError(req, out.err, logger)
		}
		output, truncated := truncateOutput(formatOutput(out.value), r.maxOutputBytes)
		logger.Debug().Bool("truncated", truncated).Msg("Tool execution completed")
		return ActionResult{
			CallID:    req.ID,
			ToolName:  req.Name,
			Status:    StatusSuccess,
			Output:    output,
			Truncated: truncated,
		}
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			logger.Warn().Dur("timeout", timeout).Msg("Tool execution timeout")
			return ActionResult{
				CallID:    req.ID,
				ToolName:  req.Name,
				Status:    StatusTimeout,
				Error:     fmt.Sprintf("tool execution timeout after %v", timeout),
				ErrorKind: KindTimeout,
			}
		}
		return ErrorResult(req, KindToolExecution, fmt.Errorf("tool execution cancelled: %w", callCtx.Err()))
	}
}

func (r *Registry) classifyError(req ActionRequest, err error, logger zerolog.Logger) ActionResult {
	switch {
	case errors.Is(err, ErrCallTimeout), errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Err(err).Msg("Tool call timed out")
		return ActionResult{
			CallID:    req.ID,
			ToolName:  req.Name,
			Status:    StatusTimeout,
			Error:     err.Error(),
			ErrorKind: KindTimeout,
		}
	case errors.Is(err, ErrRemoteUnavailable):
		logger.Warn().Err(err).Msg("Remote tool unavailable")
		return ErrorResult(req, KindRemoteUnavailable, err)
	default:
		logger.Info().Err(err).Msg("Tool execution failed")
		return ErrorResult(req, KindToolExecution, err)
	}
}

func compileTool(desc ToolDescriptor) (*registeredTool, error) {
	if err := validateDescriptor(desc); err != nil {
		return nil, err
	}
	if desc.Origin == "" {
		desc.Origin = OriginLocal
	}
	if desc.Mutability == "" {
		desc.Mutability = Mutating
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(desc.InputSchema()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bad schema: %v", ErrInvalidTool, desc.Name, err)
	}
	return &registeredTool{desc: desc, schema: schema}, nil
}

func validateDescriptor(desc ToolDescriptor) error {
	if !toolNamePattern.MatchString(desc.Name) {
		return fmt.Errorf("%w: invalid tool name %q", ErrInvalidTool, desc.Name)
	}
	if strings.TrimSpace(desc.Description) == "" {
		return fmt.Errorf("%w: %s: description cannot be empty", ErrInvalidTool, desc.Name)
	}
	if desc.Handler == nil {
		return fmt.Errorf("%w: %s: handler cannot be nil", ErrInvalidTool, desc.Name)
	}
	switch desc.Mutability {
	case "", ReadOnly, Mutating:
	default:
		return fmt.Errorf("%w: %s: unknown mutability %q", ErrInvalidTool, desc.Name, desc.Mutability)
	}
	seen := make(map[string]bool, len(desc.Parameters))
	for _, param := range desc.Parameters {
		if param.Name == "" {
			return fmt.Errorf("%w: %s: parameter name cannot be empty", ErrInvalidTool, desc.Name)
		}
		if seen[param.Name] {
			return fmt.Errorf("%w: %s: duplicate parameter %s", ErrInvalidTool, desc.Name, param.Name)
		}
		seen[param.Name] = true
		if !validParamTypes[param.Type] {
			return fmt.Errorf("%w: %s: invalid parameter type %q for %s", ErrInvalidTool, desc.Name, param.Type, param.Name)
		}
	}
	return nil
}

func generateJSONSchema(params []ToolParameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		prop := map[string]interface{}{"type": param.Type}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateArguments(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.Join(msgs, "; "))
}

func truncateOutput(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	cut := limit
	// Back off to a rune boundary.
	for cut > 0 && cut < len(s) && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut], true
}
