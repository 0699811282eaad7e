package learnings

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/profundo/internal/domain"
)

// Extraction is the structured answer the text-generation provider is
// asked to produce for one session.
type Extraction struct {
	Topics       []string `json:"topics"`
	Decisions    []string `json:"decisions"`
	FactsLearned []string `json:"facts_learned"`
	ActionItems  []string `json:"action_items"`
	Summary      string   `json:"summary"`
}

// Harvest identifies one extraction run over one session.
type Harvest struct {
	ID          string
	SessionID   string
	Timestamp   time.Time
	HarvestedAt time.Time
}

// NewHarvest starts a harvest of sessionID with a fresh id.
func NewHarvest(sessionID string, sessionTime, now time.Time) Harvest {
	return Harvest{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Timestamp:   sessionTime,
		HarvestedAt: now.UTC(),
	}
}

// Records explodes an extraction into one learning record per item.
// Topics are also attached to every record as tags. Record ids are
// derived from the harvest id, so the same harvest always yields the same
// ids.
func (h Harvest) Records(ex Extraction) []domain.LearningRecord {
	tags := clean(ex.Topics)

	var out []domain.LearningRecord
	add := func(kind domain.LearningKind, items []string) {
		for i, text := range clean(items) {
			out = append(out, domain.LearningRecord{
				ID:          h.recordID(kind, i),
				HarvestID:   h.ID,
				Kind:        kind,
				Text:        text,
				SessionID:   h.SessionID,
				Timestamp:   h.Timestamp,
				Tags:        tags,
				HarvestedAt: h.HarvestedAt,
			})
		}
	}

	add(domain.LearningKindTopic, ex.Topics)
	add(domain.LearningKindDecision, ex.Decisions)
	add(domain.LearningKindFact, ex.FactsLearned)
	add(domain.LearningKindActionItem, ex.ActionItems)
	add(domain.LearningKindSummary, []string{ex.Summary})
	return out
}

func (h Harvest) recordID(kind domain.LearningKind, i int) string {
	ns, err := uuid.Parse(h.ID)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(h.ID))
	}
	return uuid.NewSHA1(ns, []byte(fmt.Sprintf("%s/%d", kind, i))).String()
}

func clean(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}
