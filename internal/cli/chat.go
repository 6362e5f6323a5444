package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harun/nanoclaw/internal/app"
	"github.com/harun/nanoclaw/pkg/policy"
	"github.com/harun/nanoclaw/pkg/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Start an interactive session. Each line is sent to the agent; lines
starting with a slash are commands:

  /mode <mode>   switch approval mode (plan, read_only, default, yolo)
  /skills        list skills and show which are active
  /new           start a fresh session
  /exit          quit

Ctrl-C interrupts the running turn.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&resumeID, "session", "", "resume a stored session")
	rootCmd.AddCommand(chatCmd)
}

// chatLoop holds the state of one interactive session.
type chatLoop struct {
	app     *app.App
	handler *policy.CLIHandler
	sess    *session.Session
	out     io.Writer
	status  io.Writer
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	handler := policy.NewCLIHandler(cmd.InOrStdin(), cmd.ErrOrStderr())

	a, err := app.New(ctx, appConfig, app.Options{
		Handler: handler,
		OnEvent: newEventPrinter(cmd.ErrOrStderr()).Handle,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := openSession(ctx, a, resumeID)
	if err != nil {
		return err
	}

	loop := &chatLoop{
		app:     a,
		handler: handler,
		sess:    sess,
		out:     cmd.OutOrStdout(),
		status:  cmd.ErrOrStderr(),
	}
	return loop.run(ctx)
}

func (l *chatLoop) run(ctx context.Context) error {
	l.banner()
	for {
		fmt.Fprint(l.status, color.CyanString("> "))
		line, err := l.handler.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(l.status)
				return nil
			}
			return err
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := l.command(line)
			if err != nil {
				fmt.Fprintln(l.status, color.RedString("%v", err))
			}
			if quit {
				return nil
			}
			continue
		}

		l.turn(ctx, line)
	}
}

func (l *chatLoop) banner() {
	fmt.Fprintf(l.status, "nanoclaw %s  session %s  mode %s\n", version, l.sess.ID, l.sess.Mode())
	fmt.Fprintln(l.status, "Type /exit to quit.")
}

// turn runs one user message. Interrupts cancel the run, not the REPL.
func (l *chatLoop) turn(ctx context.Context, input string) {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	result, err := l.app.Runner.Run(runCtx, l.sess, input)
	if err != nil {
		fmt.Fprintln(l.status, color.RedString("%v", err))
		return
	}
	if err := printResult(l.out, result); err != nil {
		fmt.Fprintln(l.status, color.YellowString("%v", err))
	}
}

func (l *chatLoop) command(line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true, nil

	case "/mode":
		if len(fields) < 2 {
			fmt.Fprintf(l.status, "mode: %s\n", l.sess.Mode())
			return false, nil
		}
		mode, err := policy.ParseMode(fields[1])
		if err != nil {
			return false, err
		}
		l.sess.SetMode(mode)
		fmt.Fprintf(l.status, "mode set to %s\n", mode)
		return false, nil

	case "/skills":
		if l.app.Skills == nil {
			return false, errors.New("skills are disabled")
		}
		for _, m := range l.app.Skills.ListManifests() {
			marker := " "
			if l.sess.Active.Has(m.Name) {
				marker = "*"
			}
			fmt.Fprintf(l.status, "%s %-24s %s\n", marker, m.Name, m.Description)
		}
		return false, nil

	case "/new":
		sess, err := l.app.NewSession(string(l.sess.Mode()))
		if err != nil {
			return false, err
		}
		l.sess = sess
		fmt.Fprintf(l.status, "new session %s\n", sess.ID)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}
