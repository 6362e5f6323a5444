package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 250, EstimateTokens(string(make([]byte, 1000))))
}

func TestMessageTokens(t *testing.T) {
	plain := session.Message{Role: session.RoleUser, Content: "abcdefgh"}
	assert.Equal(t, messageOverhead+2, MessageTokens(plain))

	withReq := session.Message{
		Role:     session.RoleAssistant,
		Requests: []toolexecutor.ActionRequest{{ID: "1", Name: "exec", Arguments: map[string]interface{}{"command": "ls"}}},
	}
	assert.Greater(t, MessageTokens(withReq), messageOverhead)

	withRes := session.Message{
		Role:   session.RoleTool,
		Result: &toolexecutor.ActionResult{Status: toolexecutor.StatusSuccess, Output: "12345678"},
	}
	assert.Equal(t, messageOverhead+2, MessageTokens(withRes))
}
