package toolexecutor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransportClosed is returned by a transport after Close.
var ErrTransportClosed = errors.New("transport closed")

// MCPTransport carries framed JSON-RPC messages to one remote server. A
// transport is single-use: after Close a fresh one is opened.
type MCPTransport interface {
	Open(ctx context.Context) error
	Send(msg []byte) error
	// Receive blocks for the next inbound message.
	Receive() ([]byte, error)
	Close() error
}

// stdioTransport speaks newline-delimited JSON-RPC over a subprocess's pipes.
type stdioTransport struct {
	command string
	args    []string
	env     map[string]string

	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	reader  *bufio.Reader
	closed  chan struct{}
	once    sync.Once
}

// NewStdioTransport returns a transport that launches command with args.
func NewStdioTransport(command string, args []string, env map[string]string) MCPTransport {
	return &stdioTransport{command: command, args: args, env: env, closed: make(chan struct{})}
}

func (t *stdioTransport) Open(ctx context.Context) error {
	// The subprocess outlives ctx; Close ends it.
	cmd := exec.Command(t.command, t.args...)
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReaderSize(stdout, 64*1024)
	return ctx.Err()
}

func (t *stdioTransport) Send(msg []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	if _, err := t.stdin.Write(append(msg, '\n')); err != nil {
		return err
	}
	return nil
}

func (t *stdioTransport) Receive() ([]byte, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			select {
			case <-t.closed:
				return nil, ErrTransportClosed
			default:
			}
			return nil, err
		}
		if len(line) > 1 {
			return line[:len(line)-1], nil
		}
	}
}

func (t *stdioTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		if t.stdin != nil {
			t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
			_ = t.cmd.Wait()
		}
	})
	return nil
}

// wsTransport speaks JSON-RPC over a websocket, one message per frame.
type wsTransport struct {
	url    string
	header http.Header

	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  chan struct{}
	once    sync.Once
}

// NewWebSocketTransport returns a transport that dials url.
func NewWebSocketTransport(url string, header http.Header) MCPTransport {
	return &wsTransport{url: url, header: header, closed: make(chan struct{})}
}

func (t *wsTransport) Open(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"mcp"},
	}
	conn, _, err := dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	t.conn = conn
	return nil
}

func (t *wsTransport) Send(msg []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteMessage(websocket.TextMessage, msg)
}

func (t *wsTransport) Receive() ([]byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
				return nil, ErrTransportClosed
			default:
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		if t.conn != nil {
			t.writeMu.Lock()
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			t.writeMu.Unlock()
			_ = t.conn.Close()
		}
	})
	return nil
}
