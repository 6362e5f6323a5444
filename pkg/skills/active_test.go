package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func activated(name, body string, tools ...string) *ActivatedSkill {
	return &ActivatedSkill{
		Manifest: Manifest{Name: name, Description: name, AllowedTools: tools},
		Body:     body,
	}
}

func TestActiveSet(t *testing.T) {
	t.Run("should ignore duplicate activation", func(t *testing.T) {
		set := NewActiveSet()
		assert.True(t, set.Add(activated("a", "A")))
		assert.False(t, set.Add(activated("a", "other body")))
		assert.Equal(t, []string{"a"}, set.Names())
		assert.Contains(t, set.ContextBlock(), "A")
		assert.NotContains(t, set.ContextBlock(), "other body")
	})

	t.Run("should keep activation order", func(t *testing.T) {
		set := NewActiveSet()
		set.Add(activated("zeta", "Z"))
		set.Add(activated("alpha", "A"))
		assert.Equal(t, []string{"zeta", "alpha"}, set.Names())
		assert.Equal(t,
			"<activated_skill name=\"zeta\">\nZ\n</activated_skill>\n\n<activated_skill name=\"alpha\">\nA\n</activated_skill>",
			set.ContextBlock())
	})

	t.Run("should remove only the named skill", func(t *testing.T) {
		set := NewActiveSet()
		set.Add(activated("a", "A", "read_file"))
		set.Add(activated("b", "B", "exec"))

		assert.True(t, set.Remove("a"))
		assert.False(t, set.Remove("a"))
		assert.Equal(t, []string{"b"}, set.Names())
		assert.Equal(t, []string{"exec"}, set.Whitelist())
		assert.NotContains(t, set.ContextBlock(), "A")
		assert.Contains(t, set.ContextBlock(), "B")
	})

	t.Run("should return a nil whitelist when none is declared", func(t *testing.T) {
		set := NewActiveSet()
		assert.Nil(t, set.Whitelist())
		set.Add(activated("plain", "P"))
		assert.Nil(t, set.Whitelist())
	})

	t.Run("should union declared whitelists", func(t *testing.T) {
		set := NewActiveSet()
		set.Add(activated("a", "A", "read_file", "exec"))
		set.Add(activated("b", "B", "exec", "list_dir"))
		set.Add(activated("c", "C"))
		assert.Equal(t, []string{"exec", "list_dir", "read_file"}, set.Whitelist())
	})

	t.Run("should restore a snapshot", func(t *testing.T) {
		set := NewActiveSet()
		set.Add(activated("a", "A"))
		snap := set.Snapshot()

		set.Add(activated("b", "B", "exec"))
		set.Remove("a")
		set.Restore(snap)

		assert.Equal(t, []string{"a"}, set.Names())
		assert.Nil(t, set.Whitelist())
	})
}
