// Package memory builds the model-facing context for a session and keeps it
// inside a token budget.
//
// Invariants:
// - Compaction never separates an assistant message carrying action requests
//   from the tool results answering it.
// - The first user message survives compaction.
// - Compaction shapes only what the model sees. The session transcript stays
//   append-only.
// - Project memory files are read once and re-read only after they change.
//
// Usage:
//
//	mgr := memory.NewManager(memory.Config{SystemPrompt: "...", Budget: 100000}, skillReg, project)
//	c := mgr.BuildContext(sess, toolRegistry)
package memory
