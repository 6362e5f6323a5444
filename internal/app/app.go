// Package app wires configuration into a ready-to-run agent: tools, skills,
// remote tool servers, memory, transcript storage and the runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/nanoclaw/internal/config"
	"github.com/harun/nanoclaw/internal/logger"
	"github.com/harun/nanoclaw/internal/observability"
	"github.com/harun/nanoclaw/internal/tracing"
	"github.com/harun/nanoclaw/pkg/agent"
	"github.com/harun/nanoclaw/pkg/memory"
	"github.com/harun/nanoclaw/pkg/policy"
	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/skills"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// Options are the pieces supplied by the caller rather than configuration.
type Options struct {
	// Handler answers confirmation prompts. Nil denies every AskHuman.
	Handler policy.Handler
	// Provider overrides the provider built from config.
	Provider agent.LLMProvider
	OnEvent  agent.EventHandler
	// SkipRemote leaves configured MCP servers unconnected.
	SkipRemote bool
}

// App is the assembled runtime.
type App struct {
	Config  *config.Config
	Tools   *toolexecutor.Registry
	Skills  *skills.Registry
	MCP     *toolexecutor.MCPManager
	Project *memory.ProjectMemory
	Memory  *memory.Manager
	Store   *session.Store
	Runner  *agent.Runner

	logger         zerolog.Logger
	metricsServer  *http.Server
	stopWatch      context.CancelFunc
	watchers       sync.WaitGroup
	tracingEnabled bool
	closeOnce      sync.Once
}

// New builds an App from cfg. Components are initialized in dependency
// order; a failure releases whatever was already started.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	observability.EnsureRegistered()

	a := &App{
		Config: cfg,
		logger: logger.Component("app"),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			a.tracingEnabled = true
		}
	}

	if err := a.initialize(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initialize(ctx context.Context, opts Options) error {
	cfg := a.Config

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		a.logger.Debug().Str("path", auditPath).Msg("Audit logger initialized")
	}

	a.Tools = toolexecutor.NewRegistry(toolexecutor.WithDefaultTimeout(cfg.Agent.ToolTimeout))
	if err := toolexecutor.RegisterBuiltinTools(a.Tools, toolexecutor.BuiltinOptions{
		WorkspaceRoot: cfg.WorkspacePath,
		ExecTimeout:   cfg.Agent.ToolTimeout,
	}); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	watchCtx, stop := context.WithCancel(context.Background())
	a.stopWatch = stop

	if cfg.Skills.Enabled {
		if err := a.initSkills(ctx, watchCtx); err != nil {
			return err
		}
	}

	a.Project = memory.NewProjectMemory(cfg.Memory.GlobalFile, cfg.WorkspacePath, cfg.Memory.ProjectFiles)
	if err := a.Tools.Register(a.Project.ToolDescriptor()); err != nil {
		return fmt.Errorf("failed to register memory tool: %w", err)
	}
	if cfg.Skills.Watch {
		if err := a.Project.Watch(skills.DefaultWatchDebounce); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to watch memory files")
		}
	}
	a.Memory = memory.NewManager(memory.Config{
		SystemPrompt: cfg.Agent.SystemPrompt,
		Budget:       cfg.Agent.ContextBudget,
		KeepRecent:   cfg.Agent.KeepRecent,
	}, a.Skills, a.Project)

	a.MCP = toolexecutor.NewMCPManager(a.Tools)
	if !opts.SkipRemote {
		a.connectRemote(ctx)
	}

	store, err := OpenStore(cfg)
	if err != nil {
		return err
	}
	a.Store = store

	provider := opts.Provider
	if provider == nil {
		provider, err = (&agent.ProviderFactory{}).NewProvider(cfg.Model)
		if err != nil {
			return err
		}
	}

	a.Runner, err = agent.NewRunner(agent.Config{
		Provider:         provider,
		Model:            cfg.Model.Name,
		Temperature:      cfg.Model.Temperature,
		MaxTokens:        cfg.Model.MaxTokens,
		Tools:            a.Tools,
		Memory:           a.Memory,
		Skills:           a.Skills,
		Negotiator:       policy.NewNegotiator(opts.Handler, cfg.Agent.ConfirmTimeout),
		Store:            a.Store,
		MaxIterations:    cfg.Agent.MaxIterations,
		ParallelTools:    cfg.Agent.ParallelTools,
		ModelTimeout:     cfg.Model.Timeout,
		SessionTimeout:   cfg.Agent.SessionTimeout,
		MaxDeniedBatches: cfg.Agent.MaxDeniedBatches,
		WorkspacePath:    cfg.WorkspacePath,
		Retry: agent.RetryPolicy{
			MaxRetries: cfg.Model.MaxRetries,
			BaseDelay:  cfg.Model.RetryBaseDelay,
			MaxDelay:   cfg.Model.RetryMaxDelay,
			Multiplier: 2,
		},
		OnEvent: opts.OnEvent,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.startMetrics()
	}

	a.logger.Info().
		Int("tools", a.Tools.Len()).
		Str("provider", provider.Provider()).
		Str("model", cfg.Model.Name).
		Msg("Runtime initialized")
	return nil
}

func (a *App) initSkills(ctx, watchCtx context.Context) error {
	cfg := a.Config.Skills
	a.Skills = skills.NewRegistry(skills.NewFSSource(
		skills.SourceDir{Path: cfg.BuiltinDir, Kind: skills.KindBuiltin},
		skills.SourceDir{Path: cfg.UserDir, Kind: skills.KindUser},
		skills.SourceDir{Path: cfg.WorkspaceDir, Kind: skills.KindWorkspace},
	))
	if err := a.Skills.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load skills: %w", err)
	}
	for _, desc := range a.Skills.ToolDescriptors() {
		if err := a.Tools.Register(desc); err != nil {
			return fmt.Errorf("failed to register skill tools: %w", err)
		}
	}

	if cfg.Watch {
		a.watchers.Add(1)
		go func() {
			defer a.watchers.Done()
			if err := a.Skills.Watch(watchCtx, skills.DefaultWatchDebounce, nil); err != nil {
				a.logger.Warn().Err(err).Msg("Skill watcher stopped")
			}
		}()
	}
	a.logger.Debug().Int("skills", a.Skills.Len()).Msg("Skills loaded")
	return nil
}

// connectRemote adds every enabled MCP server. Unreachable servers are
// logged and left unavailable; they do not stop startup.
func (a *App) connectRemote(ctx context.Context) {
	for _, srv := range a.Config.MCP.Servers {
		if srv.Disabled {
			continue
		}
		err := a.MCP.AddServer(ctx, toolexecutor.MCPServerConfig{
			ID:          srv.ID,
			Command:     srv.Command,
			Args:        srv.Args,
			Env:         srv.Env,
			URL:         srv.URL,
			CallTimeout: srv.CallTimeout,
		})
		if err != nil {
			a.logger.Warn().Err(err).Str("server", srv.ID).Msg("MCP server not available")
		}
	}
}

func (a *App) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	a.metricsServer = &http.Server{
		Addr:              a.Config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn().Err(err).Msg("Metrics server stopped")
		}
	}()
	a.logger.Info().Str("addr", a.Config.Metrics.Addr).Msg("Metrics endpoint started")
}

// NewSession creates a session in the given mode, or the configured default
// when mode is empty, with the configured policy overrides.
func (a *App) NewSession(mode string) (*session.Session, error) {
	if mode == "" {
		mode = a.Config.Agent.ApprovalMode
	}
	m, err := policy.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	sess := session.New(m)
	sess.SetOverrides(policy.NewOverrides(a.Config.Policy.AlwaysAllow, a.Config.Policy.AlwaysDeny))
	return sess, nil
}

// ResumeSession loads a stored session. Configured always-deny entries are
// reapplied since only session grants are stored.
func (a *App) ResumeSession(ctx context.Context, id string) (*session.Session, error) {
	sess, err := a.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	allow := append(append([]string(nil), a.Config.Policy.AlwaysAllow...), sess.Overrides().AllowedTools()...)
	sess.SetOverrides(policy.NewOverrides(allow, a.Config.Policy.AlwaysDeny))
	return sess, nil
}

// Close stops watchers and remote servers and flushes telemetry.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.stopWatch != nil {
			a.stopWatch()
			a.watchers.Wait()
		}
		if a.MCP != nil {
			if err := a.MCP.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.Project != nil {
			if err := a.Project.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = a.metricsServer.Shutdown(ctx)
			cancel()
		}
		if a.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
		}
		if audit := observability.GetAuditLogger(); audit != nil {
			_ = audit.Close()
		}
	})
	return errors.Join(errs...)
}

// OpenStore opens the transcript store under cfg.DataDir.
func OpenStore(cfg *config.Config) (*session.Store, error) {
	store, err := session.NewStore(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	return store, nil
}
