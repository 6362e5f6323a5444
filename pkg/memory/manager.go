package memory

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/nanoclaw/internal/observability"
	"github.com/harun/nanoclaw/pkg/session"
	"github.com/harun/nanoclaw/pkg/skills"
	"github.com/harun/nanoclaw/pkg/toolexecutor"
)

const (
	DefaultKeepRecent = 10

	skillsPreamble = "The skills below are available. When a task matches a skill's description, " +
		"call activate_skill with its name to load the full instructions, and deactivate_skill when done."
)

// Config controls context assembly.
type Config struct {
	SystemPrompt string
	// Budget is the transcript token budget. Zero disables compaction.
	Budget int
	// KeepRecent is the minimum number of trailing messages kept verbatim.
	KeepRecent int
}

// Context is what the model sees for one call.
type Context struct {
	System   string
	Messages []session.Message
	Tools    []toolexecutor.ToolDescriptor
}

// Tokens estimates the total size of the context.
func (c Context) Tokens() int {
	return EstimateTokens(c.System) + TranscriptTokens(c.Messages) + ToolTokens(c.Tools)
}

// Manager assembles model contexts. The session transcript itself is never
// rewritten; compaction applies to the messages sent to the model.
type Manager struct {
	cfg     Config
	skills  *skills.Registry
	project *ProjectMemory
	logger  zerolog.Logger
}

// NewManager creates a manager. skillReg and project may be nil.
func NewManager(cfg Config, skillReg *skills.Registry, project *ProjectMemory) *Manager {
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}
	return &Manager{
		cfg:     cfg,
		skills:  skillReg,
		project: project,
		logger:  log.With().Str("component", "memory").Logger(),
	}
}

// SystemPrompt renders the system prompt for sess: base prompt, project
// memory, the skill summary and the bodies of active skills.
func (m *Manager) SystemPrompt(sess *session.Session) string {
	var parts []string
	if p := strings.TrimSpace(m.cfg.SystemPrompt); p != "" {
		parts = append(parts, p)
	}
	if m.project != nil {
		if block := m.project.Block(); block != "" {
			parts = append(parts, block)
		}
	}
	if m.skills != nil {
		if summary := m.skills.PromptSummary(); summary != "" {
			parts = append(parts, skillsPreamble+"\n"+summary)
		}
	}
	if sess != nil && sess.Active != nil {
		if block := sess.Active.ContextBlock(); block != "" {
			parts = append(parts, block)
		}
	}
	return strings.Join(parts, "\n\n")
}

// BuildContext assembles the model-facing context for sess. Tools hidden by
// the active skills' whitelists are left out. When the transcript exceeds the
// budget the returned messages are compacted; sess is left untouched.
func (m *Manager) BuildContext(sess *session.Session, catalog *toolexecutor.Registry) Context {
	msgs := sess.Messages()
	c := Context{
		System:   m.SystemPrompt(sess),
		Messages: msgs,
	}
	if compacted, changed := Compact(msgs, m.cfg.Budget, m.cfg.KeepRecent, DigestSummary); changed {
		c.Messages = compacted
		observability.RecordCompaction()
		m.logger.Debug().
			Str("session_id", sess.ID).
			Int("before", len(msgs)).
			Int("after", len(compacted)).
			Int("tokens", TranscriptTokens(compacted)).
			Msg("Model context compacted")
	}
	if catalog != nil {
		c.Tools = catalog.Visible(sess.Active.Whitelist())
	}
	return c
}
