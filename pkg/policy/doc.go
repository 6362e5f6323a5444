// Package policy decides whether a proposed tool call may run.
//
// Evaluate is a pure function of the request, the tool descriptor, the
// session's approval mode and its overrides. An AskHuman decision is settled
// through a Negotiator, which talks to a Handler (terminal prompt, test
// script) and allows at most one argument modification per call.
package policy
