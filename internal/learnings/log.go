package learnings

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/domain"
)

// Log is the append-only learnings file, one JSON record per line.
type Log struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func Open(path string, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{path: path, logger: logger}
}

func (l *Log) Path() string {
	return l.path
}

// Append writes records and syncs the file before returning.
func (l *Log) Append(records []domain.LearningRecord) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := domain.ValidateLearningRecord(&records[i]); err != nil {
			return domain.NewInvariantViolation("learning record", "%v", err)
		}
		if err := enc.Encode(records[i]); err != nil {
			return domain.NewStorageError("encode learning", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return domain.NewStorageError("create learnings dir", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.NewStorageError("open learnings", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return domain.NewStorageError("write learnings", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return domain.NewStorageError("sync learnings", err)
	}
	return domain.NewStorageError("close learnings", f.Close())
}

// All returns every record in file order. Lines that cannot be decoded
// are skipped with a warning; per-session summary lines written by older
// releases are expanded into records.
func (l *Log) All() ([]domain.LearningRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStorageError("open learnings", err)
	}
	defer f.Close()

	var out []domain.LearningRecord
	reader := bufio.NewReader(f)
	lineNo := 0
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			lineNo++
			recs, derr := decodeLine(line)
			if derr != nil {
				l.logger.Warn("skipping malformed learnings line", zap.Int("line", lineNo), zap.Error(derr))
			}
			out = append(out, recs...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.NewStorageError("read learnings", err)
		}
	}
	return out, nil
}

// Latest returns only the records of each session's newest harvest, so a
// re-harvest supersedes what an earlier one extracted.
func (l *Log) Latest() ([]domain.LearningRecord, error) {
	all, err := l.All()
	if err != nil {
		return nil, err
	}
	return Supersede(all), nil
}

// Supersede keeps the records of the newest harvest per session. Among
// harvests with equal HarvestedAt the one written last wins.
func Supersede(records []domain.LearningRecord) []domain.LearningRecord {
	type pick struct {
		harvestID string
		at        time.Time
	}
	latest := make(map[string]pick)
	for _, r := range records {
		p, ok := latest[r.SessionID]
		if !ok || !r.HarvestedAt.Before(p.at) {
			latest[r.SessionID] = pick{harvestID: r.HarvestID, at: r.HarvestedAt}
		}
	}

	out := make([]domain.LearningRecord, 0, len(records))
	for _, r := range records {
		if latest[r.SessionID].harvestID == r.HarvestID {
			out = append(out, r)
		}
	}
	return out
}

// Search filters the latest records by a case-insensitive substring of
// their text or tags and returns the last n matches (all when n <= 0).
func (l *Log) Search(query string, n int) ([]domain.LearningRecord, error) {
	records, err := l.Latest()
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q != "" {
		filtered := records[:0]
		for _, r := range records {
			if strings.Contains(strings.ToLower(r.SearchText()), q) {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// HarvestedSessions returns the sorted ids of sessions that have records.
func HarvestedSessions(records []domain.LearningRecord) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.SessionID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type legacyLine struct {
	Extraction
	SessionID   string `json:"session_id"`
	Date        string `json:"date"`
	HarvestedAt string `json:"harvested_at"`
}

func decodeLine(line []byte) ([]domain.LearningRecord, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, err
	}

	if _, ok := probe["kind"]; ok {
		var r domain.LearningRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, err
		}
		if err := domain.ValidateLearningRecord(&r); err != nil {
			return nil, err
		}
		return []domain.LearningRecord{r}, nil
	}

	if _, ok := probe["topics"]; ok {
		var legacy legacyLine
		if err := json.Unmarshal(line, &legacy); err != nil {
			return nil, err
		}
		if legacy.SessionID == "" {
			return nil, errors.New("legacy learning without session_id")
		}
		h := Harvest{
			ID:        "legacy/" + legacy.SessionID + "/" + legacy.HarvestedAt,
			SessionID: legacy.SessionID,
		}
		if ts, err := time.Parse("2006-01-02", legacy.Date); err == nil {
			h.Timestamp = ts.UTC()
		}
		if ts, err := time.Parse(time.RFC3339Nano, legacy.HarvestedAt); err == nil {
			h.HarvestedAt = ts.UTC()
		}
		return h.Records(legacy.Extraction), nil
	}

	return nil, fmt.Errorf("unrecognized learnings line")
}
