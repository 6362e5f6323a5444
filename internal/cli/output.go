package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/harun/nanoclaw/pkg/agent"
	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

const maxPreview = 200

// eventPrinter renders runner events as terminal progress lines. The final
// answer is printed by the command, not here.
type eventPrinter struct {
	out io.Writer
}

func newEventPrinter(out io.Writer) *eventPrinter {
	return &eventPrinter{out: out}
}

func (p *eventPrinter) Handle(ev agent.Event) {
	switch ev.Type {
	case agent.EventMessage:
		if ev.Message != nil && ev.Message.Role == session.RoleAssistant && ev.Message.HasRequests() && ev.Message.Content != "" {
			fmt.Fprintln(p.out, color.New(color.Faint).Sprint(ev.Message.Content))
		}
	case agent.EventToolCall:
		if ev.Request == nil {
			return
		}
		fmt.Fprintf(p.out, "%s %s %s\n", color.CyanString("->"), color.New(color.Bold).Sprint(ev.Request.Name), preview(formatArgs(ev.Request.Arguments)))
	case agent.EventToolResult:
		p.result(ev.Result)
	case agent.EventStateChange:
		if len(ev.Skills) > 0 {
			fmt.Fprintf(p.out, "%s active skills: %s\n", color.MagentaString("*"), strings.Join(ev.Skills, ", "))
		}
	case agent.EventError:
		fmt.Fprintf(p.out, "%s %v\n", color.RedString("error:"), ev.Err)
	}
}

func (p *eventPrinter) result(res *toolexecutor.ActionResult) {
	if res == nil {
		return
	}
	switch res.Status {
	case toolexecutor.StatusSuccess:
		fmt.Fprintf(p.out, "%s %s %s\n", color.GreenString("<-"), res.ToolName, color.New(color.Faint).Sprint(preview(res.Output)))
	case toolexecutor.StatusDenied:
		fmt.Fprintf(p.out, "%s %s denied: %s\n", color.YellowString("x"), res.ToolName, res.Error)
	default:
		fmt.Fprintf(p.out, "%s %s %s\n", color.RedString("!"), res.ToolName, preview(res.Content()))
	}
}

func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(data)
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxPreview {
		return s[:maxPreview] + "..."
	}
	return s
}

// printResult writes the final answer to out and returns an error for runs
// that did not complete.
func printResult(out io.Writer, result *agent.TerminationResult) error {
	if result.Content != "" {
		fmt.Fprintln(out, result.Content)
	}
	if result.OK() {
		return nil
	}
	if result.Err != nil {
		return fmt.Errorf("run ended with %s: %w", result.Reason, result.Err)
	}
	return fmt.Errorf("run ended with %s", result.Reason)
}
