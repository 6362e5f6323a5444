package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harun/nanoclaw/pkg/session"
)

// SummaryFunc condenses the messages removed by compaction into a note.
type SummaryFunc func(removed []session.Message) string

// Compact shrinks msgs below budget tokens by replacing the oldest messages
// with a single system summary. The first user message and at least the last
// keepRecent messages are kept. It returns msgs unchanged and false when no
// compaction was needed or possible.
func Compact(msgs []session.Message, budget, keepRecent int, summarize SummaryFunc) ([]session.Message, bool) {
	if budget <= 0 || TranscriptTokens(msgs) <= budget {
		return msgs, false
	}
	if keepRecent < 1 {
		keepRecent = 1
	}
	if summarize == nil {
		summarize = DigestSummary
	}

	head := firstUserIndex(msgs) + 1
	start := safeBoundary(msgs, len(msgs)-keepRecent)
	if start <= head {
		return msgs, false
	}

	// Move the cut forward while the kept tail alone is still over budget.
	headTokens := TranscriptTokens(msgs[:head])
	for TranscriptTokens(msgs[start:])+headTokens > budget {
		next := nextBoundary(msgs, start)
		if next >= len(msgs) {
			break
		}
		start = next
	}

	removed := msgs[head:start]
	note := session.Message{
		Role:      session.RoleSystem,
		Content:   summarize(removed),
		Timestamp: removed[len(removed)-1].Timestamp,
	}

	out := make([]session.Message, 0, head+1+len(msgs)-start)
	out = append(out, msgs[:head]...)
	out = append(out, note)
	out = append(out, msgs[start:]...)
	return out, true
}

// firstUserIndex returns the index of the first user message, or -1.
func firstUserIndex(msgs []session.Message) int {
	for i, m := range msgs {
		if m.Role == session.RoleUser {
			return i
		}
	}
	return -1
}

// safeBoundary moves i back so msgs[i] is not a tool result whose request
// would be cut off.
func safeBoundary(msgs []session.Message, i int) int {
	if i < 0 {
		return 0
	}
	for i > 0 && msgs[i].Role == session.RoleTool {
		i--
	}
	return i
}

// nextBoundary returns the next index after i where a cut is safe.
func nextBoundary(msgs []session.Message, i int) int {
	i++
	for i < len(msgs) && msgs[i].Role == session.RoleTool {
		i++
	}
	return i
}

// DigestSummary is the default SummaryFunc: it lists the user requests and
// tool activity that were removed.
func DigestSummary(removed []session.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Previous Context Summary\n\n%d earlier messages were compacted.", len(removed))

	var asks []string
	tools := map[string]int{}
	failures := 0
	for _, m := range removed {
		switch m.Role {
		case session.RoleUser:
			asks = append(asks, truncate(m.Content, 160))
		case session.RoleAssistant:
			for _, r := range m.Requests {
				tools[r.Name]++
			}
		case session.RoleTool:
			if m.Result != nil && m.Result.IsError() {
				failures++
			}
		case session.RoleSystem:
			if strings.HasPrefix(m.Content, "## Previous Context Summary") {
				asks = append(asks, "(an older summary was folded in)")
			}
		}
	}

	if len(asks) > 0 {
		b.WriteString("\nUser requests:")
		for _, a := range asks {
			fmt.Fprintf(&b, "\n- %s", a)
		}
	}
	if len(tools) > 0 {
		names := make([]string, 0, len(tools))
		for name := range tools {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s (%d)", name, tools[name]))
		}
		fmt.Fprintf(&b, "\nTools used: %s.", strings.Join(parts, ", "))
	}
	if failures > 0 {
		fmt.Fprintf(&b, "\n%d tool calls failed.", failures)
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
