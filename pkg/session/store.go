package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/nanoclaw/internal/tracing"
	"github.com/harun/nanoclaw/pkg/policy"
	"github.com/harun/nanoclaw/pkg/skills"
)

// ErrSessionNotFound is returned by Load for unknown sessions.
var ErrSessionNotFound = errors.New("session not found")

const (
	recordMeta    = "meta"
	recordMessage = "message"

	// Transcript lines can carry large tool outputs.
	maxLineBytes = 4 << 20
)

// Meta is the session state persisted alongside the transcript.
type Meta struct {
	ID           string              `json:"id"`
	Mode         policy.ApprovalMode `json:"mode"`
	ActiveSkills []string            `json:"active_skills,omitempty"`
	AlwaysAllow  []string            `json:"always_allow,omitempty"`
	Iteration    int                 `json:"iteration"`
	Termination  TerminationReason   `json:"termination,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type record struct {
	Type    string   `json:"type"`
	Meta    *Meta    `json:"meta,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// Info summarizes a stored session.
type Info struct {
	ID           string
	Size         int64
	LastModified time.Time
}

// Store persists sessions as <dir>/<id>.jsonl. Every line is a record: meta
// lines snapshot session state (the last one wins), message lines append to
// the transcript.
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".nanoclaw", "sessions")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &Store{dir: dir, writeLocks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the directory holding transcripts.
func (st *Store) Dir() string { return st.dir }

func validateKey(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (st *Store) path(id string) string {
	return filepath.Join(st.dir, id+".jsonl")
}

func (st *Store) lock(id string) *sync.Mutex {
	st.locksMu.Lock()
	defer st.locksMu.Unlock()
	l, ok := st.writeLocks[id]
	if !ok {
		l = &sync.Mutex{}
		st.writeLocks[id] = l
	}
	return l
}

func metaOf(s *Session) *Meta {
	ov := s.Overrides()
	return &Meta{
		ID:           s.ID,
		Mode:         s.Mode(),
		ActiveSkills: s.Active.Names(),
		AlwaysAllow:  ov.AllowedTools(),
		Iteration:    s.Iteration(),
		Termination:  s.Termination(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt(),
	}
}

// Append writes one message line for id.
func (st *Store) Append(ctx context.Context, id string, msg Message) error {
	_, span := tracing.StartSpan(tracing.WithSessionID(ctx, id), "nanoclaw.session", "session.append",
		attribute.String("role", string(msg.Role)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if err = validateKey(id); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	l := st.lock(id)
	l.Lock()
	defer l.Unlock()

	err = st.appendRecords(id, record{Type: recordMessage, Message: &msg})
	return err
}

// Checkpoint appends a meta line with the session's current state.
func (st *Store) Checkpoint(ctx context.Context, s *Session) error {
	if err := validateKey(s.ID); err != nil {
		return err
	}
	l := st.lock(s.ID)
	l.Lock()
	defer l.Unlock()
	return st.appendRecords(s.ID, record{Type: recordMeta, Meta: metaOf(s)})
}

func (st *Store) appendRecords(id string, records ...record) error {
	file, err := os.OpenFile(st.path(id), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return file.Sync()
}

// Load reads a stored session. Corrupt lines are skipped. Skills listed as
// active are returned in RestoredSkills; the returned ActiveSet is empty.
func (st *Store) Load(ctx context.Context, id string) (*Session, error) {
	ctx, span := tracing.StartSpan(tracing.WithSessionID(ctx, id), "nanoclaw.session", "session.load")
	var err error
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err = validateKey(id); err != nil {
		return nil, err
	}

	file, err := os.Open(st.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("%w: %s", ErrSessionNotFound, id)
			return nil, err
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	sess := &Session{
		ID:        id,
		mode:      policy.ModeDefault,
		overrides: policy.NewOverrides(nil, nil),
		Active:    skills.NewActiveSet(),
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec record
		if jerr := json.Unmarshal(line, &rec); jerr != nil {
			logger.Warn().Int("line", lineNum).Err(jerr).Msg("Failed to parse line, skipping")
			continue
		}

		switch {
		case rec.Type == recordMeta && rec.Meta != nil:
			applyMeta(sess, rec.Meta)
		case rec.Type == recordMessage && rec.Message != nil && rec.Message.Role != "":
			sess.messages = append(sess.messages, *rec.Message)
		default:
			logger.Warn().Int("line", lineNum).Msg("Invalid record, skipping")
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if sess.CreatedAt.IsZero() && len(sess.messages) > 0 {
		sess.CreatedAt = sess.messages[0].Timestamp
	}
	if sess.updatedAt.IsZero() && len(sess.messages) > 0 {
		sess.updatedAt = sess.messages[len(sess.messages)-1].Timestamp
	}

	logger.Debug().Int("messages", len(sess.messages)).Msg("Session loaded")
	return sess, nil
}

func applyMeta(s *Session, m *Meta) {
	if m.Mode.Valid() {
		s.mode = m.Mode
	}
	s.overrides = policy.NewOverrides(m.AlwaysAllow, nil)
	s.RestoredSkills = append([]string(nil), m.ActiveSkills...)
	s.iteration = m.Iteration
	s.termination = m.Termination
	if !m.CreatedAt.IsZero() {
		s.CreatedAt = m.CreatedAt
	}
	s.updatedAt = m.UpdatedAt
}

// List returns stored sessions, most recently modified first.
func (st *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			ID:           strings.TrimSuffix(name, ".jsonl"),
			Size:         fi.Size(),
			LastModified: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	return out, nil
}

// Delete removes a stored session. Deleting an unknown session is not an error.
func (st *Store) Delete(ctx context.Context, id string) error {
	if err := validateKey(id); err != nil {
		return err
	}

	l := st.lock(id)
	l.Lock()
	err := os.Remove(st.path(id))
	l.Unlock()

	st.locksMu.Lock()
	delete(st.writeLocks, id)
	st.locksMu.Unlock()

	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	log.Debug().Str("session_id", id).Msg("Session deleted")
	return nil
}

// Prune deletes sessions not modified within maxAge and returns how many
// were removed.
func (st *Store) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	infos, err := st.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if info.LastModified.After(cutoff) {
			continue
		}
		if err := st.Delete(ctx, info.ID); err != nil {
			log.Warn().Str("session_id", info.ID).Err(err).Msg("Failed to prune session")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Pruned old sessions")
	}
	return deleted, nil
}
