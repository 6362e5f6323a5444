package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nanoclaw/internal/app"
	"github.com/harun/nanoclaw/internal/config"
	"github.com/harun/nanoclaw/pkg/agent"
	"github.com/harun/nanoclaw/pkg/policy"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

type echoProvider struct{}

func (echoProvider) Provider() string { return "echo" }

func (echoProvider) Call(_ context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return &agent.LLMResponse{Content: "echo: " + last.Content}, nil
}

func newChatLoop(t *testing.T, input string) (*chatLoop, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.WorkspacePath = dir
	cfg.Memory.GlobalFile = filepath.Join(dir, "data", "memory.md")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	handler := policy.NewCLIHandler(strings.NewReader(input), stderr)
	a, err := app.New(context.Background(), cfg, app.Options{Handler: handler, Provider: echoProvider{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	sess, err := a.NewSession("")
	require.NoError(t, err)
	return &chatLoop{app: a, handler: handler, sess: sess, out: stdout, status: stderr}, stdout, stderr
}

func TestChatLoop(t *testing.T) {
	t.Run("sends lines and prints answers", func(t *testing.T) {
		loop, stdout, _ := newChatLoop(t, "hello\n\n/exit\nignored\n")

		require.NoError(t, loop.run(context.Background()))
		assert.Equal(t, "echo: hello\n", stdout.String())
		assert.Equal(t, 2, loop.sess.Len())
	})

	t.Run("end of input quits", func(t *testing.T) {
		loop, _, _ := newChatLoop(t, "hello\n")
		require.NoError(t, loop.run(context.Background()))
	})

	t.Run("mode command", func(t *testing.T) {
		loop, _, stderr := newChatLoop(t, "/mode plan\n/mode bogus\n/exit\n")

		require.NoError(t, loop.run(context.Background()))
		assert.Equal(t, policy.ModePlan, loop.sess.Mode())
		assert.Contains(t, stderr.String(), "mode set to plan")
	})

	t.Run("new session", func(t *testing.T) {
		loop, _, _ := newChatLoop(t, "hello\n/new\n/exit\n")
		first := loop.sess.ID

		require.NoError(t, loop.run(context.Background()))
		assert.NotEqual(t, first, loop.sess.ID)
		assert.Equal(t, 0, loop.sess.Len())
	})

	t.Run("unknown command", func(t *testing.T) {
		loop, _, _ := newChatLoop(t, "")
		quit, err := loop.command("/frobnicate")
		assert.False(t, quit)
		assert.Error(t, err)
	})
}

func TestPrintResult(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, printResult(out, &agent.TerminationResult{Reason: agent.Completed, Content: "done"}))
	assert.Equal(t, "done\n", out.String())

	err := printResult(&bytes.Buffer{}, &agent.TerminationResult{Reason: agent.IterationLimitExceeded})
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(agent.IterationLimitExceeded))

	cause := errors.New("provider down")
	err = printResult(&bytes.Buffer{}, &agent.TerminationResult{Reason: agent.ModelCallFailure, Err: cause})
	assert.ErrorIs(t, err, cause)
}

func TestEventPrinter(t *testing.T) {
	out := &bytes.Buffer{}
	p := newEventPrinter(out)

	p.Handle(agent.Event{
		Type:    agent.EventToolCall,
		Request: &toolexecutor.ActionRequest{Name: "read_file", Arguments: map[string]interface{}{"path": "go.mod"}},
	})
	p.Handle(agent.Event{
		Type:   agent.EventToolResult,
		Result: &toolexecutor.ActionResult{ToolName: "exec", Status: toolexecutor.StatusDenied, Error: "plan mode"},
	})
	p.Handle(agent.Event{Type: agent.EventToolCall})

	text := out.String()
	assert.Contains(t, text, "read_file")
	assert.Contains(t, text, `{"path":"go.mod"}`)
	assert.Contains(t, text, "exec denied: plan mode")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("a\n  b"))
	long := strings.Repeat("x", maxPreview+10)
	assert.Equal(t, strings.Repeat("x", maxPreview)+"...", preview(long))
}
