package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nanoclaw/internal/config"
	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

func sampleTranscript() []session.Message {
	return []session.Message{
		{Role: session.RoleUser, Content: "list and read"},
		{Role: session.RoleSystem, Content: "## Previous Context Summary"},
		{Role: session.RoleAssistant, Content: "on it", Requests: []toolexecutor.ActionRequest{
			{ID: "a", Name: "list_dir", Arguments: map[string]interface{}{"path": "."}},
			{ID: "b", Name: "read_file", Arguments: map[string]interface{}{"path": "x"}},
		}},
		{Role: session.RoleTool, Content: "x", Result: &toolexecutor.ActionResult{CallID: "a", Status: toolexecutor.StatusSuccess}},
		{Role: session.RoleTool, Content: "Error: missing", Result: &toolexecutor.ActionResult{CallID: "b", Status: toolexecutor.StatusError}},
		{Role: session.RoleAssistant, Content: "done"},
	}
}

func TestProviderFactory(t *testing.T) {
	f := &ProviderFactory{}

	for _, name := range []string{"anthropic", "openai", "gemini"} {
		p, err := f.NewProvider(config.ModelConfig{Provider: name, APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, name, p.Provider())
	}

	_, err := f.NewProvider(config.ModelConfig{Provider: "llama"})
	assert.ErrorIs(t, err, ErrNoProvider)

	_, err = f.NewProvider(config.ModelConfig{})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestAnthropicMessages(t *testing.T) {
	msgs, notes := anthropicMessages(sampleTranscript())

	// user, assistant with tool uses, one grouped tool-result turn, assistant
	assert.Len(t, msgs, 4)
	assert.Equal(t, []string{"## Previous Context Summary"}, notes)
	assert.Len(t, msgs[1].Content, 3)
	assert.Len(t, msgs[2].Content, 2)
}

func TestOpenAIMessages(t *testing.T) {
	msgs, err := openAIMessages("system prompt", sampleTranscript())
	require.NoError(t, err)
	// system prompt plus every transcript message
	assert.Len(t, msgs, 7)
}

func TestToolSchema(t *testing.T) {
	desc := toolexecutor.ToolDescriptor{
		Name: "read_file",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Required: true},
			{Name: "limit", Type: "integer"},
		},
	}
	props, required := toolSchema(desc)
	assert.Len(t, props, 2)
	assert.Equal(t, []string{"path"}, required)

	remote := toolexecutor.ToolDescriptor{
		Name: "remote",
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"q"},
		},
	}
	props, required = toolSchema(remote)
	assert.Equal(t, map[string]interface{}{}, props)
	assert.Equal(t, []string{"q"}, required)
}
