package policy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

func askFor(req toolexecutor.ActionRequest, desc toolexecutor.ToolDescriptor) Decision {
	return Evaluate(req, desc, ModeDefault, NewOverrides(nil, nil))
}

func TestNegotiatorApprove(t *testing.T) {
	h := NewScriptedHandler(Response{Outcome: OutcomeApprove})
	n := NewNegotiator(h, time.Second)
	req := call("delete_file", map[string]interface{}{"path": "x"})
	desc := writeTool("delete_file")

	res := n.Resolve(context.Background(), "s1", req, desc, ModeDefault, NewOverrides(nil, nil), askFor(req, desc))
	assert.True(t, res.Approved)
	assert.False(t, res.AlwaysAllow)
	assert.Equal(t, 1, res.Rounds)

	reqs := h.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "s1", reqs[0].SessionID)
	assert.Equal(t, "call-1", reqs[0].CallID)
	assert.NotEmpty(t, reqs[0].ID)
	assert.Contains(t, reqs[0].Prompt, "delete_file")
}

func TestNegotiatorApproveAlways(t *testing.T) {
	h := NewScriptedHandler(Response{Outcome: OutcomeApproveAlways})
	n := NewNegotiator(h, time.Second)
	req := call("exec", map[string]interface{}{"command": "ls"})
	desc := writeTool("exec")

	res := n.Resolve(context.Background(), "s1", req, desc, ModeDefault, NewOverrides(nil, nil), askFor(req, desc))
	assert.True(t, res.Approved)
	assert.True(t, res.AlwaysAllow)
}

func TestNegotiatorDeny(t *testing.T) {
	h := NewScriptedHandler(Response{Outcome: OutcomeDeny, Reason: "not now"})
	n := NewNegotiator(h, time.Second)
	req := call("exec", map[string]interface{}{"command": "ls"})
	desc := writeTool("exec")

	res := n.Resolve(context.Background(), "s1", req, desc, ModeDefault, NewOverrides(nil, nil), askFor(req, desc))
	assert.False(t, res.Approved)
	assert.Equal(t, "denied by user: not now", res.Reason)
}

func TestNegotiatorModifyThenApprove(t *testing.T) {
	h := NewScriptedHandler(
		Response{Outcome: OutcomeModify, Arguments: map[string]interface{}{"path": "safe.txt"}},
		Response{Outcome: OutcomeApprove},
	)
	n := NewNegotiator(h, time.Second)
	req := call("delete_file", map[string]interface{}{"path": "important.txt"})
	desc := writeTool("delete_file")

	res := n.Resolve(context.Background(), "s1", req, desc, ModeDefault, NewOverrides(nil, nil), askFor(req, desc))
	assert.True(t, res.Approved)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, "safe.txt", res.Request.Arguments["path"])
	assert.Equal(t, "call-1", res.Request.ID)

	reqs := h.Requests()
	require.Len(t, reqs, 2)
	assert.False(t, reqs[0].Modified)
	assert.True(t, reqs[1].Modified)
	assert.Equal(t, "safe.txt", reqs[1].Arguments["path"])
}

func TestNegotiatorSecondModifyDenied(t *testing.T) {
	h := NewScriptedHandler(
		Response{Outcome: OutcomeModify, Arguments: map[string]interface{}{"path": "a"}},
		Response{Outcome: OutcomeModify, Arguments: map[string]interface{}{"path": "b"}},
		Response{Outcome: OutcomeApprove},
	)
	n := NewNegotiator(h, time.Second)
	req := call("delete_file", map[string]interface{}{"path": "x"})
	desc := writeTool("delete_file")

	res := n.Resolve(context.Background(), "s1", req, desc, ModeDefault, NewOverrides(nil, nil), askFor(req, desc))
	assert.False(t, res.Approved)
	assert.Equal(t, ReasonModificationLimit, res.Reason)
	assert.Len(t, h.Requests(), 2)
}

func TestNegotiatorModifyReevaluatesAgainstOverrides(t *testing.T) {
	h := NewScriptedHandler(Response{Outcome: OutcomeModify, Arguments: map[string]interface{}{"path": "y"}})
	n := NewNegotiator(h, time.Second)
	req := call("delete_file", map[string]interface{}{"path": "x"})
	desc := writeTool("delete_file")

	ov := NewOverrides([]string{"delete_file"}, nil)
	res := n.Resolve(context.Background(), "s1", req, desc, ModeDefault, ov, askFor(req, desc))
	assert.True(t, res.Approved)
	assert.Equal(t, 1, res.Rounds)
}

func TestNegotiatorTimeout(t *testing.T) {
	h := NewScriptedHandler(Response{Outcome: OutcomeApprove})
	h.Delay = time.Second
	n := NewNegotiator(h, 20*time.Millisecond)
	req := call("exec", nil)
	desc := writeTool("exec")

	res := n.Resolve(context.Background(), "s1", req, desc, ModeDefault, NewOverrides(nil, nil), askFor(req, desc))
	assert.False(t, res.Approved)
	assert.Equal(t, ReasonConfirmTimeout, res.Reason)
}

func TestNegotiatorHandlerError(t *testing.T) {
	h := NewScriptedHandler()
	h.Err = errors.New("tty gone")
	n := NewNegotiator(h, time.Second)
	req := call("exec", nil)
	desc := writeTool("exec")

	res := n.Resolve(context.Background(), "s1", req, desc, ModeDefault, NewOverrides(nil, nil), askFor(req, desc))
	assert.False(t, res.Approved)
	assert.Equal(t, "confirmation failed: tty gone", res.Reason)
}

func TestNegotiatorWithoutHandler(t *testing.T) {
	n := NewNegotiator(nil, 0)
	req := call("exec", nil)
	desc := writeTool("exec")

	res := n.Resolve(context.Background(), "s1", req, desc, ModeDefault, NewOverrides(nil, nil), askFor(req, desc))
	assert.False(t, res.Approved)
	assert.Equal(t, ReasonNoHandler, res.Reason)
}

func TestNegotiatorPassesThroughSettledDecisions(t *testing.T) {
	h := NewScriptedHandler()
	n := NewNegotiator(h, time.Second)
	req := call("read_file", nil)

	res := n.Resolve(context.Background(), "s1", req, readTool("read_file"), ModeDefault, NewOverrides(nil, nil), AllowDecision())
	assert.True(t, res.Approved)

	res = n.Resolve(context.Background(), "s1", req, readTool("read_file"), ModePlan, NewOverrides(nil, nil), DenyDecision(ReasonPlanMode))
	assert.False(t, res.Approved)
	assert.Equal(t, ReasonPlanMode, res.Reason)
	assert.Empty(t, h.Requests())
}

func TestCLIHandlerAnswers(t *testing.T) {
	tests := []struct {
		input string
		want  Outcome
	}{
		{"y\n", OutcomeApprove},
		{"YES\n", OutcomeApprove},
		{"a\n", OutcomeApproveAlways},
		{"n\n", OutcomeDeny},
		{"\n", OutcomeDeny},
		{"maybe\n", OutcomeDeny},
		{"", OutcomeDeny},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			h := NewCLIHandler(strings.NewReader(tt.input), &out)

			resp, err := h.Confirm(context.Background(), ConfirmationRequest{ToolName: "exec", Prompt: "Tool: exec (local)\nAllow this action?"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Outcome)
			assert.Contains(t, out.String(), "Confirmation required")
			assert.Contains(t, out.String(), "Tool: exec (local)")
		})
	}
}

func TestCLIHandlerModify(t *testing.T) {
	var out bytes.Buffer
	h := NewCLIHandler(strings.NewReader("m\n{\"path\":\"b.txt\"}\n"), &out)

	resp, err := h.Confirm(context.Background(), ConfirmationRequest{
		ToolName:  "delete_file",
		Arguments: map[string]interface{}{"path": "a.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeModify, resp.Outcome)
	assert.Equal(t, "b.txt", resp.Arguments["path"])
	assert.Contains(t, out.String(), `Current: {"path":"a.txt"}`)
}

func TestCLIHandlerModifyInvalidJSON(t *testing.T) {
	h := NewCLIHandler(strings.NewReader("m\nnot json\n"), io.Discard)

	resp, err := h.Confirm(context.Background(), ConfirmationRequest{ToolName: "delete_file"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeny, resp.Outcome)
	assert.Equal(t, "invalid modified arguments", resp.Reason)
}

func TestCLIHandlerSequentialPrompts(t *testing.T) {
	h := NewCLIHandler(strings.NewReader("y\nn\n"), io.Discard)

	first, err := h.Confirm(context.Background(), ConfirmationRequest{ToolName: "exec"})
	require.NoError(t, err)
	second, err := h.Confirm(context.Background(), ConfirmationRequest{ToolName: "exec"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeApprove, first.Outcome)
	assert.Equal(t, OutcomeDeny, second.Outcome)
}

func TestCLIHandlerContextDone(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := NewCLIHandler(pr, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Confirm(ctx, ConfirmationRequest{ToolName: "exec"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
