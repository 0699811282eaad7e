package domain

import (
	"fmt"
	"strings"
	"time"
)

// LearningKind classifies a learning record.
type LearningKind string

const (
	LearningKindTopic      LearningKind = "topic"
	LearningKindDecision   LearningKind = "decision"
	LearningKindFact       LearningKind = "fact"
	LearningKindActionItem LearningKind = "action_item"
	LearningKindSummary    LearningKind = "summary"
)

// LearningRecord is one structured insight extracted from a session.
// Records are append-only: a later harvest of the same session supersedes
// earlier records instead of mutating them.
type LearningRecord struct {
	ID          string       `json:"id"`
	HarvestID   string       `json:"harvest_id"`
	Kind        LearningKind `json:"kind"`
	Text        string       `json:"text"`
	SessionID   string       `json:"session_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Tags        []string     `json:"tags,omitempty"`
	HarvestedAt time.Time    `json:"harvested_at"`
}

// Date returns the YYYY-MM-DD day of the source session, or "unknown".
func (l LearningRecord) Date() string {
	if l.Timestamp.IsZero() {
		return "unknown"
	}
	return l.Timestamp.UTC().Format("2006-01-02")
}

// SearchText is the text a keyword query is matched against.
func (l LearningRecord) SearchText() string {
	if len(l.Tags) == 0 {
		return l.Text
	}
	return l.Text + " " + strings.Join(l.Tags, " ")
}

// ValidateLearningRecord validates a LearningRecord instance
func ValidateLearningRecord(l *LearningRecord) error {
	if l == nil {
		return fmt.Errorf("learning record cannot be nil")
	}
	if l.ID == "" {
		return fmt.Errorf("learning record ID is required")
	}
	if l.SessionID == "" {
		return fmt.Errorf("learning record SessionID is required")
	}
	if strings.TrimSpace(l.Text) == "" {
		return fmt.Errorf("learning record Text is required")
	}
	if !IsValidLearningKind(l.Kind) {
		return fmt.Errorf("learning record Kind is invalid: %s", l.Kind)
	}
	return nil
}

// IsValidLearningKind checks if a LearningKind is valid
func IsValidLearningKind(k LearningKind) bool {
	switch k {
	case LearningKindTopic, LearningKindDecision, LearningKindFact,
		LearningKindActionItem, LearningKindSummary:
		return true
	}
	return false
}
