package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/profundo/internal/api"
	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/service"
)

const maxRecallResults = 100

type RecallService interface {
	Recall(ctx context.Context, q domain.Query) (*service.RecallResult, error)
}

type RecallHandler struct {
	svc RecallService
}

func NewRecallHandler(svc RecallService) *RecallHandler {
	return &RecallHandler{svc: svc}
}

type RecallRequest struct {
	Query     string  `json:"query"`
	Limit     int     `json:"limit,omitempty"`
	Expand    bool    `json:"expand,omitempty"`
	Since     string  `json:"since,omitempty"`
	Until     string  `json:"until,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Policy    string  `json:"policy,omitempty"`
}

type RecallItemResponse struct {
	Rank      int      `json:"rank"`
	Score     float64  `json:"score"`
	RawScore  float64  `json:"raw_score"`
	Origin    string   `json:"origin"`
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Timestamp string   `json:"timestamp,omitempty"`
	Text      string   `json:"text"`
	Kind      string   `json:"kind,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type RecallResponse struct {
	Query    string                `json:"query"`
	Model    string                `json:"model"`
	Variants []string              `json:"variants,omitempty"`
	Scanned  int                   `json:"scanned"`
	Results  []*RecallItemResponse `json:"results"`
}

// Get answers GET /recall?q=&n=&expand=&since=&until=&threshold=&policy=.
func (h *RecallHandler) Get(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	req := RecallRequest{
		Query:  params.Get("q"),
		Since:  params.Get("since"),
		Until:  params.Get("until"),
		Policy: params.Get("policy"),
	}

	var err error
	if v := params.Get("n"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			api.Error(w, http.StatusBadRequest, "n must be an integer")
			return
		}
	}
	if v := params.Get("expand"); v != "" {
		if req.Expand, err = strconv.ParseBool(v); err != nil {
			api.Error(w, http.StatusBadRequest, "expand must be a boolean")
			return
		}
	}
	if v := params.Get("threshold"); v != "" {
		if req.Threshold, err = strconv.ParseFloat(v, 64); err != nil {
			api.Error(w, http.StatusBadRequest, "threshold must be a number")
			return
		}
	}

	h.recall(w, r, req)
}

// Post answers POST /recall with a JSON RecallRequest body.
func (h *RecallHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req RecallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.recall(w, r, req)
}

func (h *RecallHandler) recall(w http.ResponseWriter, r *http.Request, req RecallRequest) {
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit < 0 || req.Limit > maxRecallResults {
		api.Error(w, http.StatusBadRequest, "limit must be between 0 and 100")
		return
	}

	since, until, err := domain.DayRange(req.Since, req.Until)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	policy, err := domain.ParseFusionPolicy(req.Policy)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	result, err := h.svc.Recall(r.Context(), domain.Query{
		Text:     req.Query,
		Expand:   req.Expand,
		K:        req.Limit,
		Since:    since,
		Until:    until,
		MinScore: req.Threshold,
		Policy:   policy,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*RecallItemResponse, len(result.Items))
	for i, item := range result.Items {
		responses[i] = toRecallItemResponse(item)
	}

	api.Success(w, http.StatusOK, RecallResponse{
		Query:    result.Query,
		Model:    result.Model,
		Variants: result.Variants,
		Scanned:  result.Scanned,
		Results:  responses,
	})
}

func toRecallItemResponse(item domain.ResultItem) *RecallItemResponse {
	resp := &RecallItemResponse{
		Rank:      item.Rank,
		Score:     item.Score,
		RawScore:  item.RawScore,
		Origin:    string(item.Origin),
		Timestamp: formatTime(item.Timestamp()),
	}
	switch {
	case item.Chunk != nil:
		resp.ID = item.Chunk.ID()
		resp.SessionID = item.Chunk.SessionID
		resp.Text = item.Chunk.Text
	case item.Learning != nil:
		resp.ID = item.Learning.ID
		resp.SessionID = item.Learning.SessionID
		resp.Text = item.Learning.Text
		resp.Kind = string(item.Learning.Kind)
		resp.Tags = item.Learning.Tags
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
