package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
)

// CLIHandler asks for confirmation on a terminal.
//
//	y, yes      approve once
//	a, always   approve this tool for the rest of the session
//	m, modify   enter replacement arguments as a JSON object
//	n, no, ""   deny
type CLIHandler struct {
	out io.Writer

	mu    sync.Mutex
	once  sync.Once
	in    io.Reader
	lines chan lineResult
}

type lineResult struct {
	text string
	err  error
}

// NewCLIHandler creates a handler reading answers from in and writing prompts to out.
func NewCLIHandler(in io.Reader, out io.Writer) *CLIHandler {
	return &CLIHandler{in: in, out: out}
}

// One reader goroutine owns the input so a timed-out prompt does not swallow
// the answer to the next one.
func (c *CLIHandler) start() {
	c.lines = make(chan lineResult)
	go func() {
		reader := bufio.NewReader(c.in)
		for {
			text, err := reader.ReadString('\n')
			if err != nil && text == "" {
				c.lines <- lineResult{err: err}
				close(c.lines)
				return
			}
			c.lines <- lineResult{text: strings.TrimSpace(text)}
		}
	}()
}

func (c *CLIHandler) readLine(ctx context.Context) (string, error) {
	c.once.Do(c.start)
	select {
	case r, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ReadLine returns the next trimmed input line. A REPL sharing the terminal
// with the handler reads through it so prompts and answers stay in order.
func (c *CLIHandler) ReadLine(ctx context.Context) (string, error) {
	return c.readLine(ctx)
}

// Confirm renders req and waits for an answer.
func (c *CLIHandler) Confirm(ctx context.Context, req ConfirmationRequest) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.display(req)

	input, err := c.readLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Response{Outcome: OutcomeDeny, Reason: "no input provided"}, nil
		}
		if ctx.Err() != nil {
			fmt.Fprintln(c.out, color.YellowString("\n  Confirmation timed out"))
		}
		return Response{}, err
	}

	switch strings.ToLower(input) {
	case "y", "yes":
		fmt.Fprintln(c.out, color.GreenString("  Approved"))
		return Response{Outcome: OutcomeApprove}, nil

	case "a", "always":
		fmt.Fprintln(c.out, color.GreenString("  Approved for this session: %s", req.ToolName))
		return Response{Outcome: OutcomeApproveAlways}, nil

	case "m", "modify":
		return c.readModification(ctx, req)

	case "n", "no", "":
		fmt.Fprintln(c.out, color.RedString("  Denied"))
		return Response{Outcome: OutcomeDeny}, nil

	default:
		log.Warn().Str("tool", req.ToolName).Str("input", input).Msg("Invalid confirmation input")
		fmt.Fprintln(c.out, color.RedString("  Invalid input %q, denying", input))
		return Response{Outcome: OutcomeDeny, Reason: fmt.Sprintf("invalid input: %s", input)}, nil
	}
}

func (c *CLIHandler) readModification(ctx context.Context, req ConfirmationRequest) (Response, error) {
	current, _ := json.Marshal(req.Arguments)
	fmt.Fprintf(c.out, "  Current: %s\n", current)
	fmt.Fprint(c.out, "  New arguments (JSON): ")

	input, err := c.readLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Response{Outcome: OutcomeDeny, Reason: "no input provided"}, nil
		}
		return Response{}, err
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		fmt.Fprintln(c.out, color.RedString("  Not a JSON object, denying"))
		return Response{Outcome: OutcomeDeny, Reason: "invalid modified arguments"}, nil
	}
	return Response{Outcome: OutcomeModify, Arguments: args}, nil
}

func (c *CLIHandler) display(req ConfirmationRequest) {
	header := color.New(color.FgYellow, color.Bold)
	fmt.Fprintln(c.out)
	header.Fprintln(c.out, "  Confirmation required")
	for _, line := range strings.Split(req.Prompt, "\n") {
		fmt.Fprintf(c.out, "  %s\n", line)
	}
	if req.Modified {
		fmt.Fprintln(c.out, color.CyanString("  (arguments already modified once)"))
	}
	fmt.Fprint(c.out, "  [y]es / [a]lways / [m]odify / [N]o: ")
}
