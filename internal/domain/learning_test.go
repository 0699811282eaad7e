package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLearningRecord_Date(t *testing.T) {
	l := LearningRecord{Timestamp: time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)}
	assert.Equal(t, "2026-03-04", l.Date())
	assert.Equal(t, "unknown", LearningRecord{}.Date())
}

func TestLearningRecord_SearchText(t *testing.T) {
	l := LearningRecord{Text: "use WAL mode", Tags: []string{"sqlite", "storage"}}
	assert.Equal(t, "use WAL mode sqlite storage", l.SearchText())
	assert.Equal(t, "plain", LearningRecord{Text: "plain"}.SearchText())
}

func TestValidateLearningRecord(t *testing.T) {
	tests := []struct {
		name    string
		record  *LearningRecord
		wantErr bool
	}{
		{"nil", nil, true},
		{"valid", &LearningRecord{ID: "1", SessionID: "s", Text: "t", Kind: LearningKindFact}, false},
		{"missing id", &LearningRecord{SessionID: "s", Text: "t", Kind: LearningKindFact}, true},
		{"missing session", &LearningRecord{ID: "1", Text: "t", Kind: LearningKindFact}, true},
		{"blank text", &LearningRecord{ID: "1", SessionID: "s", Text: "  ", Kind: LearningKindFact}, true},
		{"bad kind", &LearningRecord{ID: "1", SessionID: "s", Text: "t", Kind: "opinion"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLearningRecord(tt.record)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLearningKindConstants(t *testing.T) {
	for _, k := range []LearningKind{LearningKindTopic, LearningKindDecision, LearningKindFact, LearningKindActionItem, LearningKindSummary} {
		assert.True(t, IsValidLearningKind(k), k)
	}
	assert.False(t, IsValidLearningKind("misc"))
}
