package memory

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// transcript builds: user, then n rounds of assistant(request) + tool(result).
func transcript(n int, payload int) []session.Message {
	msgs := []session.Message{{Role: session.RoleUser, Content: "please refactor the parser"}}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c%d", i)
		msgs = append(msgs,
			session.Message{Role: session.RoleAssistant, Requests: []toolexecutor.ActionRequest{{ID: id, Name: "read_file"}}},
			session.Message{Role: session.RoleTool, Result: &toolexecutor.ActionResult{CallID: id, Status: toolexecutor.StatusSuccess, Output: strings.Repeat("x", payload)}},
		)
	}
	return msgs
}

func assertPairsIntact(t *testing.T, msgs []session.Message) {
	t.Helper()
	pending := map[string]bool{}
	for _, m := range msgs {
		switch m.Role {
		case session.RoleAssistant:
			for _, r := range m.Requests {
				pending[r.ID] = true
			}
		case session.RoleTool:
			require.NotNil(t, m.Result)
			assert.True(t, pending[m.Result.CallID], "result %s has no request", m.Result.CallID)
			delete(pending, m.Result.CallID)
		}
	}
	assert.Empty(t, pending, "requests without results")
}

func TestCompact(t *testing.T) {
	t.Run("should leave small transcripts alone", func(t *testing.T) {
		msgs := transcript(2, 10)
		out, changed := Compact(msgs, 10000, 4, nil)
		assert.False(t, changed)
		assert.Equal(t, msgs, out)
	})

	t.Run("should be disabled with a zero budget", func(t *testing.T) {
		msgs := transcript(20, 400)
		_, changed := Compact(msgs, 0, 4, nil)
		assert.False(t, changed)
	})

	t.Run("should replace the oldest messages with a summary", func(t *testing.T) {
		msgs := transcript(20, 400)
		out, changed := Compact(msgs, 1000, 4, nil)
		require.True(t, changed)

		assert.Equal(t, session.RoleUser, out[0].Role)
		assert.Equal(t, "please refactor the parser", out[0].Content)
		assert.Equal(t, session.RoleSystem, out[1].Role)
		assert.Contains(t, out[1].Content, "Previous Context Summary")
		assert.Contains(t, out[1].Content, "read_file")
		assert.LessOrEqual(t, TranscriptTokens(out), 1000)
		assertPairsIntact(t, out)
	})

	t.Run("should never start the tail with a tool result", func(t *testing.T) {
		msgs := transcript(10, 400)
		for keep := 1; keep <= 8; keep++ {
			out, changed := Compact(msgs, 500, keep, nil)
			require.True(t, changed)
			assert.NotEqual(t, session.RoleTool, out[2].Role, "keep=%d", keep)
			assertPairsIntact(t, out)
		}
	})

	t.Run("should use a custom summary", func(t *testing.T) {
		msgs := transcript(10, 400)
		out, changed := Compact(msgs, 500, 2, func(removed []session.Message) string {
			return fmt.Sprintf("dropped %d", len(removed))
		})
		require.True(t, changed)
		assert.True(t, strings.HasPrefix(out[1].Content, "dropped "))
	})

	t.Run("should fold an older summary into the new one", func(t *testing.T) {
		msgs := transcript(10, 400)
		first, _ := Compact(msgs, 800, 6, nil)
		first = append(first, transcript(10, 400)[1:]...)

		second, changed := Compact(first, 800, 6, nil)
		require.True(t, changed)
		assert.Contains(t, second[1].Content, "older summary")
		assertPairsIntact(t, second)
	})
}
