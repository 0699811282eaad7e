package handlers

import (
	"net/http"
	"strconv"

	"github.com/cloo-solutions/profundo/internal/api"
	"github.com/cloo-solutions/profundo/internal/domain"
)

const defaultLearningsLimit = 10

type LearningSearcher interface {
	Search(query string, n int) ([]domain.LearningRecord, error)
}

type LearningsHandler struct {
	log LearningSearcher
}

func NewLearningsHandler(log LearningSearcher) *LearningsHandler {
	return &LearningsHandler{log: log}
}

type LearningResponse struct {
	ID        string   `json:"id"`
	HarvestID string   `json:"harvest_id"`
	Kind      string   `json:"kind"`
	Text      string   `json:"text"`
	SessionID string   `json:"session_id"`
	Date      string   `json:"date"`
	Tags      []string `json:"tags,omitempty"`
}

type LearningsResponse struct {
	Learnings []*LearningResponse `json:"learnings"`
}

// List answers GET /learnings?q=&n=, returning the most recent matches.
func (h *LearningsHandler) List(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	limit := defaultLearningsLimit
	if v := params.Get("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			api.Error(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.log.Search(params.Get("q"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*LearningResponse, len(records))
	for i, rec := range records {
		responses[i] = &LearningResponse{
			ID:        rec.ID,
			HarvestID: rec.HarvestID,
			Kind:      string(rec.Kind),
			Text:      rec.Text,
			SessionID: rec.SessionID,
			Date:      rec.Date(),
			Tags:      rec.Tags,
		}
	}

	api.Success(w, http.StatusOK, LearningsResponse{Learnings: responses})
}
