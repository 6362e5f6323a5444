package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nanoclaw/pkg/policy"
	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/skills"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

func skillRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "reader"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reader", "SKILL.md"),
		[]byte("---\nname: reader\ndescription: Read-only exploration\nallowed-tools: [read_file]\n---\nOnly read."), 0o644))
	reg := skills.NewRegistry(skills.NewFSSource(skills.SourceDir{Path: dir, Kind: skills.KindUser}))
	require.NoError(t, reg.Reload(context.Background()))
	return reg
}

func toolRegistry(t *testing.T) *toolexecutor.Registry {
	t.Helper()
	noop := func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil }
	reg := toolexecutor.NewRegistry()
	require.NoError(t, reg.Register(toolexecutor.ToolDescriptor{Name: "read_file", Description: "r", Mutability: toolexecutor.ReadOnly, Handler: noop}))
	require.NoError(t, reg.Register(toolexecutor.ToolDescriptor{Name: "write_file", Description: "w", Mutability: toolexecutor.Mutating, Handler: noop}))
	return reg
}

func TestManager_BuildContext(t *testing.T) {
	skillReg := skillRegistry(t)
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "AGENTS.md"), []byte("Use Go 1.24."), 0o644))

	mgr := NewManager(Config{SystemPrompt: "You are a coding agent."}, skillReg, NewProjectMemory("", workspace, nil))
	sess := session.New(policy.ModeDefault)
	sess.Append(session.Message{Role: session.RoleUser, Content: "hi"})
	tools := toolRegistry(t)

	c := mgr.BuildContext(sess, tools)
	assert.Contains(t, c.System, "You are a coding agent.")
	assert.Contains(t, c.System, "Use Go 1.24.")
	assert.Contains(t, c.System, "<name>reader</name>")
	assert.NotContains(t, c.System, "Only read.")
	assert.Len(t, c.Messages, 1)
	assert.Len(t, c.Tools, 2)
	before := c.Tokens()

	sk, err := skillReg.Activate(context.Background(), "reader")
	require.NoError(t, err)
	sess.Active.Add(sk)

	c = mgr.BuildContext(sess, tools)
	assert.Contains(t, c.System, "<activated_skill name=\"reader\">\nOnly read.\n</activated_skill>")
	require.Len(t, c.Tools, 1)
	assert.Equal(t, "read_file", c.Tools[0].Name)

	sess.Active.Remove("reader")
	c = mgr.BuildContext(sess, tools)
	assert.Equal(t, before, c.Tokens())
}

func TestManager_BuildContextCompacts(t *testing.T) {
	mgr := NewManager(Config{Budget: 300, KeepRecent: 2}, nil, nil)
	sess := session.New(policy.ModeDefault)
	for _, m := range transcript(10, 400) {
		sess.Append(m)
	}
	before := sess.Messages()

	c := mgr.BuildContext(sess, nil)
	assert.Less(t, len(c.Messages), len(before))
	assert.Equal(t, session.RoleUser, c.Messages[0].Role)
	assert.Equal(t, session.RoleSystem, c.Messages[1].Role)
	assertPairsIntact(t, c.Messages)

	assert.Equal(t, before, sess.Messages(), "the session transcript is left as appended")

	small := session.New(policy.ModeDefault)
	small.Append(session.Message{Role: session.RoleUser, Content: "short"})
	assert.Equal(t, small.Messages(), mgr.BuildContext(small, nil).Messages)
}
