// Package session holds per-run conversation state and persists transcripts
// as JSONL files.
//
// Invariants:
// - Messages are immutable once appended. Transcript files only grow.
// - Session keys are validated and path-safe.
// - Writes for the same session are serialized.
//
// Usage:
//
//	store, _ := session.NewStore("/tmp/nanoclaw/sessions")
//	sess := session.New(policy.ModeDefault)
//	sess.Append(session.Message{Role: session.RoleUser, Content: "hello"})
//	for _, msg := range sess.Messages() {
//		_ = store.Append(ctx, sess.ID, msg)
//	}
//	_ = store.Checkpoint(ctx, sess)
//	loaded, _ := store.Load(ctx, sess.ID)
package session
