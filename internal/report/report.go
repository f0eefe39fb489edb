// Package report builds the daily registration summary from the workbook.
package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"go.uber.org/zap"

	"driver_intake/internal/registration"
	"driver_intake/internal/sheets"
)

// SheetReader reads every record of a sheet.
type SheetReader interface {
	ReadSheet(ctx context.Context, sheet string) ([]registration.Record, error)
}

// Counts holds complete and in-progress totals.
type Counts struct {
	Complete   int `json:"complete"`
	InProgress int `json:"in_progress"`
}

// Total is Complete plus InProgress.
func (c Counts) Total() int {
	return c.Complete + c.InProgress
}

func (c *Counts) add(rec registration.Record) {
	if rec.Status == registration.StatusComplete {
		c.Complete++
		return
	}
	c.InProgress++
}

// Summary is the day's tally per category.
type Summary struct {
	Day       time.Time `json:"day"`
	TAC       Counts    `json:"tac"`
	Aggregate Counts    `json:"aggregate"`
	Total     Counts    `json:"total"`
}

// Date renders the day as dd/mm/yyyy.
func (s Summary) Date() string {
	return s.Day.Format("02/01/2006")
}

var summaryTemplate = template.Must(template.New("daily").Parse(`Daily Report - {{.Date}}

Total drivers registered: {{.Total.Total}}
Complete registrations: {{.Total.Complete}}
Incomplete registrations: {{.Total.InProgress}}

Registrations by category:
- TAC: {{.TAC.Complete}} complete, {{.TAC.InProgress}} incomplete
- Aggregate: {{.Aggregate.Complete}} complete, {{.Aggregate.InProgress}} incomplete

Every complete registration counts towards the next milestone!
`))

// Generator tallies the category sheets and writes the report file.
type Generator struct {
	reader SheetReader
	dir    string
	loc    *time.Location
	logger *zap.Logger
}

// NewGenerator creates a generator writing into dir. Days are evaluated in loc.
func NewGenerator(reader SheetReader, dir string, loc *time.Location, logger *zap.Logger) *Generator {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{reader: reader, dir: dir, loc: loc, logger: logger}
}

// Summarize counts the records registered on day. Rows of the TAC and
// Aggregate sheets count by their status. Parked snapshots in the incomplete
// bucket count as in progress under their category, using the latest
// snapshot per phone and skipping phones that completed that day.
// Uncategorized snapshots only count towards the total.
func (g *Generator) Summarize(ctx context.Context, day time.Time) (Summary, error) {
	day = day.In(g.loc)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, g.loc)
	end := start.AddDate(0, 0, 1)
	onDay := func(rec registration.Record) bool {
		return !rec.RegisteredAt.Before(start) && rec.RegisteredAt.Before(end)
	}

	summary := Summary{Day: start}
	completed := make(map[string]bool)
	for _, target := range []struct {
		sheet  string
		counts *Counts
	}{
		{sheets.SheetTAC, &summary.TAC},
		{sheets.SheetAggregate, &summary.Aggregate},
	} {
		records, err := g.reader.ReadSheet(ctx, target.sheet)
		if err != nil {
			return Summary{}, fmt.Errorf("report: read %s: %w", target.sheet, err)
		}
		for _, rec := range records {
			if !onDay(rec) {
				continue
			}
			target.counts.add(rec)
			summary.Total.add(rec)
			if rec.Status == registration.StatusComplete {
				completed[rec.Phone] = true
			}
		}
	}

	parked, err := g.reader.ReadSheet(ctx, sheets.SheetIncomplete)
	if err != nil {
		return Summary{}, fmt.Errorf("report: read %s: %w", sheets.SheetIncomplete, err)
	}
	latest := make(map[string]registration.Record)
	var order []string
	for _, rec := range parked {
		if !onDay(rec) || completed[rec.Phone] {
			continue
		}
		if _, seen := latest[rec.Phone]; !seen {
			order = append(order, rec.Phone)
		}
		latest[rec.Phone] = rec
	}
	for _, phone := range order {
		rec := latest[phone]
		rec.Status = registration.StatusInProgress
		switch rec.Category {
		case registration.CategoryTAC:
			summary.TAC.add(rec)
		case registration.CategoryAggregate:
			summary.Aggregate.add(rec)
		}
		summary.Total.add(rec)
	}
	return summary, nil
}

// Render formats a summary as the plain-text report.
func Render(s Summary) (string, error) {
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("report: render: %w", err)
	}
	return buf.String(), nil
}

// FileName is the report file name for day, e.g. daily_report_18-10-2026.txt.
func FileName(day time.Time) string {
	return "daily_report_" + day.Format("02-01-2006") + ".txt"
}

// Generate summarizes day, renders it and writes the report file. It returns
// the summary and the written path.
func (g *Generator) Generate(ctx context.Context, day time.Time) (Summary, string, error) {
	summary, err := g.Summarize(ctx, day)
	if err != nil {
		return Summary{}, "", err
	}
	text, err := Render(summary)
	if err != nil {
		return Summary{}, "", err
	}

	if g.dir != "" {
		if err := os.MkdirAll(g.dir, 0o755); err != nil {
			return Summary{}, "", fmt.Errorf("report: create %s: %w: %w", g.dir, registration.ErrStorage, err)
		}
	}
	path := filepath.Join(g.dir, FileName(summary.Day))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return Summary{}, "", fmt.Errorf("report: write %s: %w: %w", path, registration.ErrStorage, err)
	}

	g.logger.Info("Daily report generated",
		zap.String("path", path),
		zap.Int("complete", summary.Total.Complete),
		zap.Int("in_progress", summary.Total.InProgress),
	)
	return summary, path, nil
}
