package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/nanoclaw/internal/observability"
	"github.com/harun/nanoclaw/internal/tracing"
)

const (
	mcpProtocolVersion    = "2024-11-05"
	DefaultMCPCallTimeout = 30 * time.Second
)

var errConnectionLost = errors.New("connection lost")

type mcpRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      *int64      `json:"id,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
}

type mcpError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCPTool is a tool as listed by a remote server.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
	Annotations *MCPToolAnnotations    `json:"annotations,omitempty"`
}

// MCPToolAnnotations carries the server's behavioural hints.
type MCPToolAnnotations struct {
	ReadOnlyHint    *bool `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool `json:"destructiveHint,omitempty"`
}

// MCPServerInfo is what the server reported during the handshake.
type MCPServerInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"-"`
}

type clientState int

const (
	stateDisconnected clientState = iota
	stateReady
	// stateResync: a call timed out; the transport is restarted before the next call.
	stateResync
	// stateLost: the transport failed underneath us.
	stateLost
	// stateUnavailable: the reconnect attempt failed.
	stateUnavailable
	stateClosed
)

func (s clientState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateResync:
		return "resync"
	case stateLost:
		return "lost"
	case stateUnavailable:
		return "unavailable"
	case stateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// MCPClient is a JSON-RPC client for one remote tool server. Calls are
// bounded by a per-call timeout; a timed-out call leaves the transport
// flagged for restart so a stuck server cannot wedge later calls.
type MCPClient struct {
	serverID    string
	dial        func() MCPTransport
	callTimeout time.Duration
	logger      zerolog.Logger

	connMu sync.Mutex // serializes connect and resync

	mu         sync.Mutex
	transport  MCPTransport
	generation uint64
	state      clientState
	nextID     int64
	pending    map[int64]chan *mcpResponse
	info       MCPServerInfo
	onLost     func(error)
}

// NewMCPClient creates a client that opens transports with dial.
func NewMCPClient(serverID string, dial func() MCPTransport, callTimeout time.Duration) *MCPClient {
	if callTimeout <= 0 {
		callTimeout = DefaultMCPCallTimeout
	}
	return &MCPClient{
		serverID:    serverID,
		dial:        dial,
		callTimeout: callTimeout,
		pending:     make(map[int64]chan *mcpResponse),
		logger:      log.With().Str("component", "mcp").Str("server", serverID).Logger(),
	}
}

// ServerID returns the configured server id.
func (c *MCPClient) ServerID() string { return c.serverID }

// Info returns the server identity from the last handshake.
func (c *MCPClient) Info() MCPServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Ready reports whether the client can issue calls without reconnecting.
func (c *MCPClient) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateReady
}

// SetOnLost registers a hook run (in its own goroutine) when the transport
// fails outside of a deliberate restart.
func (c *MCPClient) SetOnLost(fn func(error)) {
	c.mu.Lock()
	c.onLost = fn
	c.mu.Unlock()
}

// Connect opens a fresh transport and performs the initialize handshake,
// replacing any existing connection.
func (c *MCPClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connectLocked(ctx)
}

func (c *MCPClient) connectLocked(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: client closed", ErrRemoteUnavailable, c.serverID)
	}
	old := c.transport
	c.transport = nil
	c.generation++
	c.failPendingLocked()
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	t := c.dial()
	if err := t.Open(ctx); err != nil {
		_ = t.Close()
		c.setState(stateDisconnected)
		return err
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.transport = t
	c.mu.Unlock()

	go c.listen(t, gen)

	var initResult struct {
		ProtocolVersion string        `json:"protocolVersion"`
		ServerInfo      MCPServerInfo `json:"serverInfo"`
	}
	raw, err := c.request(ctx, "initialize", map[string]interface{}{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "nanoclaw",
			"version": "0.1.0",
		},
	})
	if err == nil {
		err = json.Unmarshal(raw, &initResult)
	}
	if err == nil {
		err = c.notify("notifications/initialized", nil)
	}
	if err != nil {
		c.mu.Lock()
		if c.transport == t {
			c.transport = nil
		}
		c.state = stateDisconnected
		c.mu.Unlock()
		_ = t.Close()
		return fmt.Errorf("initialize %s: %w", c.serverID, err)
	}

	c.mu.Lock()
	c.info = initResult.ServerInfo
	c.info.ProtocolVersion = initResult.ProtocolVersion
	c.state = stateReady
	c.mu.Unlock()

	c.logger.Info().
		Str("remote_name", initResult.ServerInfo.Name).
		Str("protocol", initResult.ProtocolVersion).
		Msg("MCP server connected")
	return nil
}

// Reconnect makes one attempt to restore a timed-out or lost connection.
// A client whose attempt already failed stays unavailable until Connect.
func (c *MCPClient) Reconnect(ctx context.Context) error {
	return c.ensureReady(ctx)
}

func (c *MCPClient) ensureReady(ctx context.Context) error {
	if c.currentState() == stateReady {
		return nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	st := c.currentState()
	switch st {
	case stateReady:
		return nil
	case stateUnavailable, stateClosed, stateDisconnected:
		return fmt.Errorf("%w: %s is %s", ErrRemoteUnavailable, c.serverID, st)
	}

	cause := "reconnect"
	if st == stateResync {
		cause = "timeout"
	}
	observability.RecordRemoteResync(c.serverID, cause)
	c.logger.Info().Str("cause", cause).Msg("Restarting MCP transport")

	if err := c.connectLocked(ctx); err != nil {
		c.setState(stateUnavailable)
		c.logger.Error().Err(err).Msg("MCP server unavailable")
		return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, c.serverID, err)
	}
	return nil
}

// ListTools fetches the full tool catalog, following pagination cursors.
func (c *MCPClient) ListTools(ctx context.Context) ([]MCPTool, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}

	var tools []MCPTool
	cursor := ""
	for page := 0; page < 100; page++ {
		var params map[string]interface{}
		if cursor != "" {
			params = map[string]interface{}{"cursor": cursor}
		}
		raw, err := c.request(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}
		var result struct {
			Tools      []MCPTool `json:"tools"`
			NextCursor string    `json:"nextCursor"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decode tools/list: %w", err)
		}
		tools = append(tools, result.Tools...)
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	return tools, nil
}

// CallTool invokes a remote tool and returns its text content.
func (c *MCPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "nanoclaw.mcp", "mcp.call",
		attribute.String("mcp.server", c.serverID),
		attribute.String("mcp.tool", name),
	)
	out, err := c.callTool(ctx, name, args)
	tracing.EndSpan(span, err)
	return out, err
}

func (c *MCPClient) callTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if err := c.ensureReady(ctx); err != nil {
		return "", err
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	raw, err := c.request(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		if errors.Is(err, errConnectionLost) {
			return "", fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, c.serverID, err)
		}
		return "", err
	}

	var result struct {
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text,omitempty"`
			MimeType string `json:"mimeType,omitempty"`
			Resource *struct {
				URI  string `json:"uri"`
				Text string `json:"text,omitempty"`
			} `json:"resource,omitempty"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode tools/call: %w", err)
	}

	parts := make([]string, 0, len(result.Content))
	for _, item := range result.Content {
		switch item.Type {
		case "text":
			parts = append(parts, item.Text)
		case "resource":
			if item.Resource != nil {
				if item.Resource.Text != "" {
					parts = append(parts, item.Resource.Text)
				} else {
					parts = append(parts, "[resource "+item.Resource.URI+"]")
				}
			}
		default:
			parts = append(parts, fmt.Sprintf("[%s content: %s]", item.Type, item.MimeType))
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		if text == "" {
			text = "remote tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

// Close shuts the transport down for good.
func (c *MCPClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	c.state = stateClosed
	t := c.transport
	c.transport = nil
	c.generation++
	c.failPendingLocked()
	c.mu.Unlock()

	if t != nil {
		return t.Close()
	}
	return nil
}

func (c *MCPClient) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	t := c.transport
	if t == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: not connected", ErrRemoteUnavailable, c.serverID)
	}
	c.nextID++
	id := c.nextID
	gen := c.generation
	ch := make(chan *mcpResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(mcpRequest{JSONRPC: "2.0", Method: method, Params: params, ID: &id})
	if err != nil {
		c.abandon(id, gen, false)
		return nil, err
	}
	if err := t.Send(data); err != nil {
		c.abandon(id, gen, false)
		c.markLost(gen, err)
		return nil, fmt.Errorf("%w: send %s: %v", errConnectionLost, method, err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, fmt.Errorf("%w: awaiting %s", errConnectionLost, method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("remote error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-timer.C:
		c.abandon(id, gen, true)
		c.logger.Warn().Str("method", method).Dur("timeout", c.callTimeout).Msg("MCP call timed out")
		return nil, fmt.Errorf("%w: %s %s after %v", ErrCallTimeout, c.serverID, method, c.callTimeout)
	case <-ctx.Done():
		c.abandon(id, gen, true)
		return nil, ctx.Err()
	}
}

func (c *MCPClient) notify(method string, params interface{}) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return fmt.Errorf("%w: %s: not connected", ErrRemoteUnavailable, c.serverID)
	}
	data, err := json.Marshal(mcpRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	return t.Send(data)
}

// abandon drops a pending call so a late response is discarded. When resync
// is set the transport is flagged for restart before the next call.
func (c *MCPClient) abandon(id int64, gen uint64, resync bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	if resync && gen == c.generation && c.state == stateReady {
		c.state = stateResync
	}
}

func (c *MCPClient) listen(t MCPTransport, gen uint64) {
	for {
		data, err := t.Receive()
		if err != nil {
			c.markLost(gen, err)
			return
		}

		var msg mcpResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Discarding malformed MCP message")
			continue
		}
		if msg.Method != "" {
			// Server notifications and requests are not used.
			c.logger.Debug().Str("method", msg.Method).Msg("Ignoring server message")
			continue
		}
		id, err := strconv.ParseInt(strings.Trim(string(msg.ID), `"`), 10, 64)
		if err != nil {
			c.logger.Warn().Str("id", string(msg.ID)).Msg("Discarding MCP response with unknown id")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[id]
		if ok && gen == c.generation {
			delete(c.pending, id)
		} else {
			ok = false
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Debug().Int64("id", id).Msg("Discarding late MCP response")
			continue
		}
		ch <- &msg
	}
}

func (c *MCPClient) markLost(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation || c.state == stateClosed || c.transport == nil {
		c.mu.Unlock()
		return
	}
	c.state = stateLost
	c.failPendingLocked()
	onLost := c.onLost
	c.mu.Unlock()

	c.logger.Warn().Err(err).Msg("MCP connection lost")
	if onLost != nil {
		go onLost(err)
	}
}

func (c *MCPClient) failPendingLocked() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *MCPClient) currentState() clientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *MCPClient) setState(st clientState) {
	c.mu.Lock()
	if c.state != stateClosed {
		c.state = st
	}
	c.mu.Unlock()
}
