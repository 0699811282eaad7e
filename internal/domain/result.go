package domain

import (
	"strings"
	"time"
)

// FusionPolicy selects how conversation and learning scores are made
// comparable before interleaving.
type FusionPolicy string

const (
	FusionMinMax FusionPolicy = "minmax"
	FusionRank   FusionPolicy = "rank"
)

// ParseFusionPolicy normalizes a policy name; empty means minmax.
func ParseFusionPolicy(s string) (FusionPolicy, error) {
	switch FusionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FusionMinMax:
		return FusionMinMax, nil
	case FusionRank:
		return FusionRank, nil
	}
	return "", ErrInvalidFusionPolicy
}

// DayLayout is the YYYY-MM-DD form used for dates on the command line and
// in query strings.
const DayLayout = "2006-01-02"

// ParseDay parses a YYYY-MM-DD day as UTC midnight. Empty input is the
// zero time.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, NewDomainErrorWithCause(ErrCodeValidation, "invalid date, want YYYY-MM-DD", err)
	}
	return t, nil
}

// DayRange turns inclusive since/until days into the half-open
// [Since, Until) bounds a Query uses.
func DayRange(since, until string) (time.Time, time.Time, error) {
	from, err := ParseDay(since)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := ParseDay(until)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}

// Query is an ephemeral recall request.
type Query struct {
	Text     string
	Expand   bool
	Terms    []string
	K        int
	Since    time.Time
	Until    time.Time
	MinScore float64
	Policy   FusionPolicy
}

// InRange reports whether ts passes the query's date filter. The range is
// [Since, Until); zero bounds are open. Zero timestamps only pass an
// unfiltered query.
func (q Query) InRange(ts time.Time) bool {
	if q.Since.IsZero() && q.Until.IsZero() {
		return true
	}
	if ts.IsZero() {
		return false
	}
	if !q.Since.IsZero() && ts.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !ts.Before(q.Until) {
		return false
	}
	return true
}

// Origin tags where a result item came from.
type Origin string

const (
	OriginConversation Origin = "conversation"
	OriginLearning     Origin = "learning"
)

// ResultItem is one fused recall result. Exactly one of Chunk and Learning
// is set, matching Origin.
type ResultItem struct {
	Rank     int             `json:"rank"`
	Score    float64         `json:"score"`
	RawScore float64         `json:"raw_score"`
	Origin   Origin          `json:"origin"`
	Chunk    *Chunk          `json:"chunk,omitempty"`
	Learning *LearningRecord `json:"learning,omitempty"`
}

// Timestamp returns the timestamp of the underlying record.
func (r ResultItem) Timestamp() time.Time {
	switch {
	case r.Chunk != nil:
		return r.Chunk.Timestamp
	case r.Learning != nil:
		return r.Learning.Timestamp
	}
	return time.Time{}
}

// Key returns an identity unique across both origins.
func (r ResultItem) Key() string {
	switch {
	case r.Chunk != nil:
		return string(OriginConversation) + ":" + r.Chunk.ID()
	case r.Learning != nil:
		return string(OriginLearning) + ":" + r.Learning.ID
	}
	return ""
}
