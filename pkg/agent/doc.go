// Package agent runs sessions through the model/tool loop.
//
// Invariants:
// - One run per session at a time; a second Run returns ErrSessionBusy.
// - Every request of a batch is resolved, and its result appended in
//   request order, before the next model call.
// - Tools never run without a policy decision; AskHuman decisions are
//   settled by the Negotiator before dispatch.
// - Cancellation is observed between batches; started tools finish under
//   their own timeouts.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Provider:   provider,
//		Tools:      registry,
//		Memory:     memoryManager,
//		Negotiator: policy.NewNegotiator(policy.NewCLIHandler(os.Stdin, os.Stdout), 0),
//	})
//	result, _ := runner.Run(ctx, session.New(policy.ModeDefault), "tidy the repo")
//	fmt.Println(result.Reason, result.Content)
package agent
