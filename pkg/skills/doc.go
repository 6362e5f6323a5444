// Package skills implements the progressive-disclosure skill registry.
//
// A skill is a directory holding a SKILL.md file: YAML frontmatter (name,
// description, triggers, allowed-tools, version) followed by a markdown body.
// Listing a skill only ever reads its frontmatter. The body and tool
// whitelist are loaded when the skill is activated for a session, and
// dropped again when it is deactivated.
//
// Invariants:
//   - ListManifests never reads a skill body.
//   - Activating an already active skill is a no-op.
//   - Deactivating a skill removes only its own body and whitelist.
//
// Usage:
//
//	reg := skills.NewRegistry(skills.NewFSSource(
//		skills.SourceDir{Path: builtinDir, Kind: skills.KindBuiltin},
//		skills.SourceDir{Path: userDir, Kind: skills.KindUser},
//	))
//	if err := reg.Reload(ctx); err != nil { ... }
//	active := skills.NewActiveSet()
//	sk, _ := reg.Activate(ctx, "pdf")
//	active.Add(sk)
package skills
