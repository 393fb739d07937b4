package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/m4xw311/atshell/errors"
	"go.uber.org/zap"
)

const (
	chatFile = "chat.log"
	nlFile   = "nl_history.txt"
	lockFile = ".lock"
)

// Store is the durable history of one session: the conversation log and the
// natural-language command log, kept side by side under <dir>/<session>/.
type Store struct {
	name   string
	dir    string
	logger *zap.Logger
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// ValidateName rejects session ids that could escape the history directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.Mark(errors.New("session name is empty"), errors.ErrInvocation)
	case strings.HasPrefix(name, "."):
		return errors.Mark(errors.New("session name %q must not start with a dot", name), errors.ErrInvocation)
	case strings.ContainsAny(name, "/\\\x00"):
		return errors.Mark(errors.New("session name %q must not contain path separators", name), errors.ErrInvocation)
	}
	return nil
}

// Open validates name and creates the session directory under baseDir if
// needed. The log files themselves are created on first append.
func Open(baseDir, name string, opts ...Option) (*Store, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s := &Store{
		name:   name,
		dir:    filepath.Join(baseDir, name),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not create session directory")
	}
	return s, nil
}

func (s *Store) Name() string     { return s.name }
func (s *Store) Dir() string      { return s.dir }
func (s *Store) ChatPath() string { return filepath.Join(s.dir, chatFile) }
func (s *Store) NLPath() string   { return filepath.Join(s.dir, nlFile) }

// Append records messages in the conversation log. Tool results are dropped
// and each requested tool call is kept only as a name(args) summary.
func (s *Store) Append(msgs ...Message) error {
	var buf bytes.Buffer
	for _, m := range msgs {
		for _, line := range historyLines(m) {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	if buf.Len() == 0 {
		return nil
	}
	return s.appendFile(s.ChatPath(), buf.Bytes())
}

// AppendNL records one natural-language payload. Embedded newlines are
// flattened so that an entry always occupies exactly one line.
func (s *Store) AppendNL(payload string) error {
	entry := flatten(payload)
	if entry == "" {
		return nil
	}
	return s.appendFile(s.NLPath(), []byte(entry+"\n"))
}

func (s *Store) appendFile(path string, data []byte) error {
	return s.withLock(true, func() error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not open %s", filepath.Base(path))
		}
		// One write per call keeps concurrent appenders from interleaving.
		if _, err := f.Write(data); err != nil {
			f.Close()
			return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not append to %s", filepath.Base(path))
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not close %s", filepath.Base(path))
		}
		return nil
	})
}

// Load returns the conversation in insertion order as provider-ready
// messages. Tool call summaries come back as assistant "Tool: ..." lines.
// Legacy JSON lines are normalized and the file rewritten in place.
func (s *Store) Load() ([]Message, error) {
	var msgs []Message
	err := s.withLock(true, func() error {
		data, err := os.ReadFile(s.ChatPath())
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not read conversation log")
		}

		var raw, canonical []string
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			text := sc.Text()
			if text == "" {
				continue
			}
			raw = append(raw, text)
			if strings.HasPrefix(text, "{") {
				lines, parsed, ok := parseLegacy(text)
				if !ok {
					canonical = append(canonical, text)
					continue
				}
				canonical = append(canonical, lines...)
				msgs = append(msgs, parsed...)
				continue
			}
			canonical = append(canonical, text)
			if m, ok := parseLine(text); ok {
				msgs = append(msgs, m)
			}
		}
		if err := sc.Err(); err != nil {
			return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not scan conversation log")
		}

		if len(canonical) > 0 && !slices.Equal(raw, canonical) {
			if err := s.rewrite(canonical); err != nil {
				return err
			}
			s.logger.Info("compacted legacy history", zap.String("session", s.name),
				zap.Int("lines_before", len(raw)), zap.Int("lines_after", len(canonical)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// LoadNL returns the natural-language log oldest first.
func (s *Store) LoadNL() ([]string, error) {
	var entries []string
	err := s.withLock(false, func() error {
		data, err := os.ReadFile(s.NLPath())
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not read nl history")
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line != "" {
				entries = append(entries, line)
			}
		}
		return nil
	})
	return entries, err
}

// Reset truncates both logs under one lock. The session directory stays.
func (s *Store) Reset() error {
	return s.withLock(true, func() error {
		for _, path := range []string{s.ChatPath(), s.NLPath()} {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
			if err != nil {
				return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not reset %s", filepath.Base(path))
			}
			if err := f.Close(); err != nil {
				return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not reset %s", filepath.Base(path))
			}
		}
		s.logger.Info("session reset", zap.String("session", s.name))
		return nil
	})
}

func (s *Store) rewrite(lines []string) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not compact conversation log")
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not compact conversation log")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not compact conversation log")
	}
	if err := os.Rename(tmpName, s.ChatPath()); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not compact conversation log")
	}
	return nil
}

func (s *Store) withLock(exclusive bool, fn func() error) error {
	unlock, err := lockPath(filepath.Join(s.dir, lockFile), exclusive)
	if err != nil {
		return errors.Wrapf(errors.Mark(err, errors.ErrStorage), "could not lock session %s", s.name)
	}
	defer unlock()
	return fn()
}

func historyLines(m Message) []string {
	var lines []string
	switch m.Role {
	case RoleAssistant:
		for _, call := range m.ToolCalls {
			lines = append(lines, RoleTool+"\t"+quote(call.Summary()))
		}
		if m.HasText() {
			lines = append(lines, RoleAssistant+"\t"+quote(m.Content))
		}
	case RoleUser, RoleDeveloper, RoleSystem:
		lines = append(lines, m.Role+"\t"+quote(m.Content))
	case RoleTool:
		// Tool output is never persisted.
	}
	return lines
}

func parseLine(line string) (Message, bool) {
	role, rawContent, ok := strings.Cut(line, "\t")
	if !ok {
		return Message{}, false
	}
	content := unquote(rawContent)
	switch role {
	case RoleTool:
		return Message{Role: RoleAssistant, Content: "Tool: " + content}, true
	case RoleUser, RoleAssistant, RoleDeveloper, RoleSystem:
		return Message{Role: role, Content: content}, true
	}
	return Message{}, false
}

// legacyMessage is the shape of lines written by older releases, which
// stored whole provider messages as JSON objects.
type legacyMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	ToolCalls []struct {
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

func parseLegacy(line string) ([]string, []Message, bool) {
	var lm legacyMessage
	if err := json.Unmarshal([]byte(line), &lm); err != nil {
		return nil, nil, false
	}
	content := legacyContent(lm.Content)

	var lines []string
	var msgs []Message
	switch lm.Role {
	case RoleAssistant:
		for _, call := range lm.ToolCalls {
			name := call.Function.Name
			if name == "" {
				name = "unknown"
			}
			summary := name
			if call.Function.Arguments != "" {
				summary = name + "(" + call.Function.Arguments + ")"
			}
			lines = append(lines, RoleTool+"\t"+quote(summary))
			msgs = append(msgs, Message{Role: RoleAssistant, Content: "Tool: " + summary})
		}
		if content != "" {
			lines = append(lines, RoleAssistant+"\t"+quote(content))
			msgs = append(msgs, Message{Role: RoleAssistant, Content: content})
		}
	case RoleUser, RoleDeveloper, RoleSystem:
		lines = append(lines, lm.Role+"\t"+quote(content))
		msgs = append(msgs, Message{Role: lm.Role, Content: content})
	case RoleTool:
	default:
		// Unknown roles are carried over untouched.
		return []string{line}, nil, true
	}
	return lines, msgs, true
}

func legacyContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func unquote(s string) string {
	var out string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	return out
}

func flatten(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	return strings.TrimSpace(s)
}
