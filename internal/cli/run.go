package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/nanoclaw/internal/app"
	"github.com/harun/nanoclaw/pkg/policy"
	"github.com/harun/nanoclaw/pkg/session"
)

var resumeID string

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a single task to completion",
	Long: `Run one task through the agent loop and print the final answer.
The prompt is taken from the arguments, or from stdin when none are given.
Actions that need approval are confirmed on the terminal.`,
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&resumeID, "session", "", "resume a stored session")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	handler := policy.NewCLIHandler(cmd.InOrStdin(), cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if prompt == "" {
		line, err := handler.ReadLine(ctx)
		if err != nil {
			return fmt.Errorf("failed to read prompt: %w", err)
		}
		prompt = line
	}
	if prompt == "" {
		return errors.New("prompt is required")
	}

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

	result, err := a.Runner.Run(ctx, sess, prompt)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "session %s\n", sess.ID)
	return printResult(cmd.OutOrStdout(), result)
}

func openSession(ctx context.Context, a *app.App, id string) (*session.Session, error) {
	if id == "" {
		return a.NewSession("")
	}
	sess, err := a.ResumeSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resume session %s: %w", id, err)
	}
	return sess, nil
}
