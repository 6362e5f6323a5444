package memory

import (
	"encoding/json"

	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

// Per-message framing cost charged on top of the content.
const messageOverhead = 4

// EstimateTokens approximates the token count of s at four bytes per token.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// MessageTokens estimates the tokens a message costs in the context.
func MessageTokens(m session.Message) int {
	n := messageOverhead + EstimateTokens(m.Content)
	for _, req := range m.Requests {
		n += EstimateTokens(req.Name)
		if args, err := json.Marshal(req.Arguments); err == nil {
			n += EstimateTokens(string(args))
		}
	}
	if m.Result != nil {
		n += EstimateTokens(m.Result.Content())
	}
	return n
}

// TranscriptTokens sums MessageTokens over msgs.
func TranscriptTokens(msgs []session.Message) int {
	total := 0
	for _, m := range msgs {
		total += MessageTokens(m)
	}
	return total
}

// ToolTokens estimates the cost of advertising tools to the model.
func ToolTokens(tools []toolexecutor.ToolDescriptor) int {
	total := 0
	for _, t := range tools {
		total += EstimateTokens(t.Name) + EstimateTokens(t.Description)
		if schema, err := json.Marshal(t.InputSchema()); err == nil {
			total += EstimateTokens(string(schema))
		}
	}
	return total
}
