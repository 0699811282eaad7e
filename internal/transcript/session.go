package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Role is the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one textual message of a session, in file order.
type Turn struct {
	Index     int
	Role      Role
	Text      string
	Timestamp time.Time
	Model     string
}

// Session is a parsed session log. The engine only ever reads session
// files; it never writes them.
type Session struct {
	ID             string
	Path           string
	Size           int64
	ModTime        time.Time
	Turns          []Turn
	FirstTimestamp time.Time
	LastTimestamp  time.Time
	MessageCount   int
	Usage          TokenStats
	UsageByModel   map[string]TokenStats
}

// Date returns the session's start day, falling back to the file's
// modification time when the log carries no timestamps.
func (s *Session) Date() time.Time {
	ts := s.FirstTimestamp
	if ts.IsZero() {
		ts = s.ModTime
	}
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type entry struct {
	Type      string   `json:"type"`
	Timestamp string   `json:"timestamp"`
	Message   *message `json:"message"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
	Model   string         `json:"model"`
	Usage   *Usage         `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseFile reads and parses a session log file.
func ParseFile(path string, logger *zap.Logger) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	s, err := Parse(SessionID(path), f, logger)
	if err != nil {
		return nil, err
	}
	s.Path = path
	s.Size = info.Size()
	s.ModTime = info.ModTime()
	return s, nil
}

// Parse reads a session log. Malformed lines are skipped with a warning;
// only text content blocks contribute to turn text.
func Parse(id string, r io.Reader, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		ID:           id,
		UsageByModel: make(map[string]TokenStats),
	}

	reader := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			s.consume(line, lineNo, logger)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read session %s: %w", id, err)
		}
	}

	return s, nil
}

func (s *Session) consume(line []byte, lineNo int, logger *zap.Logger) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var e entry
	if err := json.Unmarshal(line, &e); err != nil {
		logger.Warn("skipping malformed session line",
			zap.String("session", s.ID), zap.Int("line", lineNo), zap.Error(err))
		return
	}

	ts := parseTimestamp(e.Timestamp)
	if !ts.IsZero() {
		if s.FirstTimestamp.IsZero() {
			s.FirstTimestamp = ts
		}
		s.LastTimestamp = ts
	}

	if e.Type != "message" || e.Message == nil {
		return
	}
	s.MessageCount++

	msg := e.Message
	if msg.Usage != nil {
		s.Usage.Add(*msg.Usage)
		if msg.Model != "" {
			stats := s.UsageByModel[msg.Model]
			stats.Add(*msg.Usage)
			s.UsageByModel[msg.Model] = stats
		}
	}

	role := Role(msg.Role)
	if role != RoleUser && role != RoleAssistant {
		return
	}
	text := msg.text()
	if text == "" {
		return
	}

	s.Turns = append(s.Turns, Turn{
		Index:     len(s.Turns),
		Role:      role,
		Text:      text,
		Timestamp: ts,
		Model:     msg.Model,
	})
}

func (m *message) text() string {
	var parts []string
	for _, b := range m.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// Format renders the session as "ROLE: text" paragraphs.
func (s *Session) Format() string {
	lines := make([]string, 0, len(s.Turns))
	for _, t := range s.Turns {
		lines = append(lines, strings.ToUpper(string(t.Role))+": "+t.Text)
	}
	return strings.Join(lines, "\n\n")
}

// SessionID derives a session identifier from its file path.
func SessionID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
