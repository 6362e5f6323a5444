package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/nanoclaw/internal/observability"
)

const (
	remoteToolPrefix  = "mcp__"
	reconnectTimeout  = 30 * time.Second
	remoteTimeoutSlop = 2 * time.Second
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// MCPServerConfig describes a remote tool server. Command selects the stdio
// transport, URL the websocket transport.
type MCPServerConfig struct {
	ID          string
	Command     string
	Args        []string
	Env         map[string]string
	URL         string
	CallTimeout time.Duration
}

// MCPServerStatus is a snapshot of one server for display.
type MCPServerStatus struct {
	ID        string
	Available bool
	Tools     int
	Remote    MCPServerInfo
	LastError string
}

type mcpServer struct {
	cfg       MCPServerConfig
	client    *MCPClient
	available bool
	tools     int
	lastErr   error
}

// MCPManager connects remote servers and keeps their tools in the registry.
type MCPManager struct {
	registry *Registry
	dial     func(MCPServerConfig) MCPTransport

	mu      sync.Mutex
	servers map[string]*mcpServer
	logger  zerolog.Logger
}

// MCPManagerOption configures an MCPManager.
type MCPManagerOption func(*MCPManager)

// WithTransportFactory replaces how transports are built from server config.
func WithTransportFactory(dial func(MCPServerConfig) MCPTransport) MCPManagerOption {
	return func(m *MCPManager) { m.dial = dial }
}

// NewMCPManager creates a manager that registers remote tools into reg.
func NewMCPManager(reg *Registry, opts ...MCPManagerOption) *MCPManager {
	m := &MCPManager{
		registry: reg,
		dial:     defaultTransport,
		servers:  make(map[string]*mcpServer),
		logger:   log.With().Str("component", "mcp_manager").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func defaultTransport(cfg MCPServerConfig) MCPTransport {
	if cfg.URL != "" {
		return NewWebSocketTransport(cfg.URL, nil)
	}
	return NewStdioTransport(cfg.Command, cfg.Args, cfg.Env)
}

// RemoteToolName is the catalog name of a remote tool.
func RemoteToolName(serverID, tool string) string {
	name := remoteToolPrefix + unsafeNameChars.ReplaceAllString(serverID, "_") + "__" + unsafeNameChars.ReplaceAllString(tool, "_")
	if len(name) > 128 {
		name = name[:128]
	}
	return name
}

// AddServer connects a server and registers its tools. A server that cannot
// be reached after one retry is kept as unavailable and reported with
// ErrRemoteUnavailable; a tool name collision is reported with
// ErrDuplicateToolName and nothing from that server is registered.
func (m *MCPManager) AddServer(ctx context.Context, cfg MCPServerConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: mcp server id is required", ErrInvalidTool)
	}

	m.mu.Lock()
	if _, exists := m.servers[cfg.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("mcp server %s already added", cfg.ID)
	}
	srv := &mcpServer{cfg: cfg}
	srv.client = NewMCPClient(cfg.ID, func() MCPTransport { return m.dial(cfg) }, cfg.CallTimeout)
	m.servers[cfg.ID] = srv
	m.mu.Unlock()

	srv.client.SetOnLost(func(err error) { m.handleLost(cfg.ID, err) })

	if err := srv.client.Connect(ctx); err != nil {
		m.logger.Warn().Err(err).Str("server", cfg.ID).Msg("MCP connect failed, retrying once")
		if err := srv.client.Connect(ctx); err != nil {
			m.markUnavailable(ctx, cfg.ID, err)
			return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, cfg.ID, err)
		}
	}
	return m.syncCatalog(ctx, srv)
}

// Refresh reconnects a server and swaps its catalog in one step.
func (m *MCPManager) Refresh(ctx context.Context, serverID string) error {
	srv, err := m.server(serverID)
	if err != nil {
		return err
	}
	if err := srv.client.Connect(ctx); err != nil {
		m.markUnavailable(ctx, serverID, err)
		return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, serverID, err)
	}
	return m.syncCatalog(ctx, srv)
}

// RemoveServer disconnects a server and drops its tools.
func (m *MCPManager) RemoveServer(serverID string) error {
	m.mu.Lock()
	srv, ok := m.servers[serverID]
	delete(m.servers, serverID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mcp server %s not found", serverID)
	}
	m.registry.RemoveOrigin(RemoteOrigin(serverID))
	observability.SetRemoteServer(serverID, false, 0)
	return srv.client.Close()
}

// Close disconnects every server.
func (m *MCPManager) Close() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.RemoveServer(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status lists every server sorted by id.
func (m *MCPManager) Status() []MCPServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MCPServerStatus, 0, len(m.servers))
	for id, srv := range m.servers {
		st := MCPServerStatus{ID: id, Available: srv.available, Tools: srv.tools, Remote: srv.client.Info()}
		if srv.lastErr != nil {
			st.LastError = srv.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MCPManager) server(id string) (*mcpServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[id]
	if !ok {
		return nil, fmt.Errorf("mcp server %s not found", id)
	}
	return srv, nil
}

func (m *MCPManager) syncCatalog(ctx context.Context, srv *mcpServer) error {
	id := srv.cfg.ID
	tools, err := srv.client.ListTools(ctx)
	if err != nil {
		m.markUnavailable(ctx, id, err)
		return fmt.Errorf("%w: %s: list tools: %v", ErrRemoteUnavailable, id, err)
	}

	descs := make([]ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		descs = append(descs, m.describe(srv, tool))
	}
	if err := m.registry.ReplaceOrigin(RemoteOrigin(id), descs); err != nil {
		m.markUnavailable(ctx, id, err)
		_ = srv.client.Close()
		return err
	}

	m.mu.Lock()
	srv.available = true
	srv.tools = len(descs)
	srv.lastErr = nil
	m.mu.Unlock()

	observability.SetRemoteServer(id, true, len(descs))
	observability.RecordRemoteAudit(ctx, id, "available", map[string]interface{}{"tools": len(descs)})
	m.logger.Info().Str("server", id).Int("tools", len(descs)).Msg("MCP tools registered")
	return nil
}

func (m *MCPManager) describe(srv *mcpServer, tool MCPTool) ToolDescriptor {
	client := srv.client
	serverID := srv.cfg.ID
	remoteName := tool.Name

	mutability := Mutating
	if tool.Annotations != nil && tool.Annotations.ReadOnlyHint != nil && *tool.Annotations.ReadOnlyHint {
		mutability = ReadOnly
	}

	schema := tool.InputSchema
	if schema == nil {
		schema = map[string]interface{}{"type": "object"}
	} else if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}

	description := tool.Description
	if description == "" {
		description = fmt.Sprintf("%s tool from %s", remoteName, serverID)
	}

	return ToolDescriptor{
		Name:        RemoteToolName(serverID, remoteName),
		Description: description,
		Schema:      schema,
		Mutability:  mutability,
		Origin:      RemoteOrigin(serverID),
		Timeout:     client.callTimeout + remoteTimeoutSlop,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			out, err := client.CallTool(ctx, remoteName, params)
			// A dropped connection is owned by handleLost, which prunes only
			// when its reconnect attempt fails.
			if errors.Is(err, ErrRemoteUnavailable) && !errors.Is(err, errConnectionLost) {
				m.markUnavailable(ctx, serverID, err)
			}
			return out, err
		},
	}
}

// handleLost runs the single reconnect attempt after a transport failure.
func (m *MCPManager) handleLost(serverID string, cause error) {
	srv, err := m.server(serverID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
	defer cancel()

	if err := srv.client.Reconnect(ctx); err != nil {
		m.markUnavailable(ctx, serverID, errors.Join(cause, err))
		return
	}
	if err := m.syncCatalog(ctx, srv); err != nil {
		m.logger.Warn().Err(err).Str("server", serverID).Msg("Catalog refresh after reconnect failed")
	}
}

func (m *MCPManager) markUnavailable(ctx context.Context, serverID string, cause error) {
	removed := m.registry.RemoveOrigin(RemoteOrigin(serverID))

	m.mu.Lock()
	if srv, ok := m.servers[serverID]; ok {
		srv.available = false
		srv.tools = 0
		srv.lastErr = cause
	}
	m.mu.Unlock()

	observability.SetRemoteServer(serverID, false, 0)
	observability.RecordRemoteAudit(ctx, serverID, "unavailable", map[string]interface{}{
		"error":         fmt.Sprint(cause),
		"tools_removed": removed,
	})
	m.logger.Error().Err(cause).Str("server", serverID).Int("tools_removed", removed).Msg("MCP server marked unavailable")
}
