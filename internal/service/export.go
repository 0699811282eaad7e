package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/transcript"
)

const rollupHeading = "## Profundo"

// Uploader stores an export remotely and returns its object key.
type Uploader interface {
	Upload(ctx context.Context, name string, body []byte, contentType string) (string, error)
	DownloadURL(ctx context.Context, key string) (string, error)
}

// ExportReport counts what an export contained.
type ExportReport struct {
	Sessions  int    `json:"sessions"`
	Decisions int    `json:"decisions"`
	Facts     int    `json:"facts"`
	Actions   int    `json:"actions"`
	Path      string `json:"path,omitempty"`
	Key       string `json:"key,omitempty"`
	URL       string `json:"url,omitempty"`
}

// RollupReport describes one daily rollup.
type RollupReport struct {
	Date          string `json:"date"`
	Sessions      int    `json:"sessions"`
	StatsSessions int    `json:"stats_sessions"`
	Path          string `json:"path"`
}

// ExportService renders learnings as markdown for the host app's memory
// search.
type ExportService struct {
	log       LearningLog
	stats     *StatsService
	memoryDir string
	uploader  Uploader
}

func NewExportService(log LearningLog, stats *StatsService, memoryDir string, uploader Uploader) *ExportService {
	return &ExportService{log: log, stats: stats, memoryDir: memoryDir, uploader: uploader}
}

// harvestGroup is the records of one harvest, in log order.
type harvestGroup struct {
	sessionID string
	records   []domain.LearningRecord
}

func groupByHarvest(records []domain.LearningRecord) []harvestGroup {
	var groups []harvestGroup
	index := make(map[string]int)
	for _, r := range records {
		i, ok := index[r.HarvestID]
		if !ok {
			i = len(groups)
			index[r.HarvestID] = i
			groups = append(groups, harvestGroup{sessionID: r.SessionID})
		}
		groups[i].records = append(groups[i].records, r)
	}
	return groups
}

// Render builds the full learnings document, newest day first.
func (s *ExportService) Render() ([]byte, *ExportReport, error) {
	records, err := s.log.Latest()
	if err != nil {
		return nil, nil, err
	}

	report := &ExportReport{}
	byDate := make(map[string][]domain.LearningRecord)
	for _, r := range records {
		byDate[r.Date()] = append(byDate[r.Date()], r)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	var b strings.Builder
	b.WriteString("# Profundo Learnings\n\n")
	b.WriteString("Extracted insights from conversation sessions.\n\n")
	for _, date := range dates {
		fmt.Fprintf(&b, "## %s\n\n", date)
		for _, g := range groupByHarvest(byDate[date]) {
			b.WriteString(formatBullets(g.records))
			b.WriteString("\n\n")
			report.Sessions++
			for _, r := range g.records {
				switch r.Kind {
				case domain.LearningKindDecision:
					report.Decisions++
				case domain.LearningKindFact:
					report.Facts++
				case domain.LearningKindActionItem:
					report.Actions++
				}
			}
		}
	}
	return []byte(b.String()), report, nil
}

// Export writes the learnings document to path and, when upload is set,
// to the configured object store.
func (s *ExportService) Export(ctx context.Context, path string, upload bool) (*ExportReport, error) {
	body, report, err := s.Render()
	if err != nil {
		return nil, err
	}
	if report.Sessions == 0 {
		return report, nil
	}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, domain.NewStorageError("create export dir", err)
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return nil, domain.NewStorageError("write export", err)
		}
		report.Path = path
	}

	if upload {
		if s.uploader == nil {
			return nil, errors.New("no object storage configured")
		}
		name := "learnings.md"
		if path != "" {
			name = filepath.Base(path)
		}
		key, err := s.uploader.Upload(ctx, name, body, "text/markdown; charset=utf-8")
		if err != nil {
			return nil, err
		}
		report.Key = key

		// the object is already stored; a missing link is not fatal
		if url, err := s.uploader.DownloadURL(ctx, key); err == nil {
			report.URL = url
		}
	}
	return report, nil
}

// Rollup writes a Profundo section with the day's learnings and usage to
// the daily log <memoryDir>/<date>.md, replacing an earlier section.
func (s *ExportService) Rollup(ctx context.Context, day time.Time) (*RollupReport, error) {
	day = truncateDay(day)
	date := day.Format(dateLayout)

	records, err := s.log.Latest()
	if err != nil {
		return nil, err
	}
	var dayRecords []domain.LearningRecord
	for _, r := range records {
		if r.Date() == date {
			dayRecords = append(dayRecords, r)
		}
	}
	groups := groupByHarvest(dayRecords)

	usage, err := s.stats.Usage(ctx, day, day)
	if err != nil {
		return nil, err
	}

	var section strings.Builder
	section.WriteString("\n" + rollupHeading + "\n\n")
	if usage.Sessions > 0 {
		fmt.Fprintf(&section, "%s (%d sessions)\n\n", formatUsageSummary(usage.Total), usage.Sessions)
	}
	if len(groups) == 0 {
		section.WriteString("_No learnings harvested for this date._\n")
	}
	for _, g := range groups {
		fmt.Fprintf(&section, "### Session `%s`\n\n", shortID(g.sessionID))
		section.WriteString(formatBullets(g.records))
		section.WriteString("\n\n")
	}

	path := filepath.Join(s.memoryDir, date+".md")
	existing, err := os.ReadFile(path)
	var content string
	switch {
	case errors.Is(err, os.ErrNotExist):
		header := fmt.Sprintf("# %s (%s)\n", day.Format("Jan 2"), day.Weekday())
		content = header + section.String()
	case err != nil:
		return nil, domain.NewStorageError("read daily log", err)
	case strings.Contains(string(existing), rollupHeading):
		content = replaceSection(string(existing), section.String())
	default:
		content = string(existing) + section.String()
	}

	if err := os.MkdirAll(s.memoryDir, 0o755); err != nil {
		return nil, domain.NewStorageError("create memory dir", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, domain.NewStorageError("write daily log", err)
	}

	return &RollupReport{
		Date:          date,
		Sessions:      len(groups),
		StatsSessions: usage.Sessions,
		Path:          path,
	}, nil
}

func formatBullets(records []domain.LearningRecord) string {
	var lines []string
	if len(records) > 0 && len(records[0].Tags) > 0 {
		lines = append(lines, "- **Topics**: "+strings.Join(records[0].Tags, ", "))
	}
	for _, kind := range []domain.LearningKind{
		domain.LearningKindSummary,
		domain.LearningKindDecision,
		domain.LearningKindFact,
		domain.LearningKindActionItem,
	} {
		for _, r := range records {
			if r.Kind != kind {
				continue
			}
			switch kind {
			case domain.LearningKindSummary:
				lines = append(lines, "- "+r.Text)
			case domain.LearningKindDecision:
				lines = append(lines, "- **Decision**: "+r.Text)
			case domain.LearningKindFact:
				lines = append(lines, "- **Learned**: "+r.Text)
			case domain.LearningKindActionItem:
				lines = append(lines, "- [ ] "+r.Text)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func formatUsageSummary(t transcript.TokenStats) string {
	return fmt.Sprintf("**Tokens**: %.1fK in / %.1fK out | **Cache**: %.0f%% | **Cost**: $%.4f",
		float64(t.InputTokens)/1000, float64(t.OutputTokens)/1000, t.CacheHitRate()*100, t.TotalCost)
}

// replaceSection swaps the existing Profundo section, which runs up to
// the next level-two heading or the end of the file, for section.
func replaceSection(content, section string) string {
	var out strings.Builder
	in, replaced := false, false
	for _, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
		if strings.HasPrefix(line, rollupHeading) {
			in = true
			continue
		}
		if in {
			if !strings.HasPrefix(line, "## ") {
				continue
			}
			in = false
			replaced = true
			out.WriteString(strings.TrimPrefix(section, "\n"))
			if !strings.HasSuffix(section, "\n\n") {
				out.WriteString("\n")
			}
		}
		out.WriteString(line)
		out.WriteString("\n")
	}
	if !replaced {
		return strings.TrimRight(out.String(), "\n") + "\n" + section
	}
	return out.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
