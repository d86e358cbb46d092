// Package export renders course analytics into XLSX workbooks and reads
// demographics snapshots back from them.
package export

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/coursehub/learning-analytics/internal/application/command"
	"github.com/coursehub/learning-analytics/internal/application/query"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

// Sheet names.
const (
	SheetSummary      = "Summary"
	SheetDailyStats   = "Daily Stats"
	SheetEngagement   = "Engagement"
	SheetLessons      = "Lessons"
	SheetDemographics = "Demographics"
)

// Report is everything one course workbook contains. Nil sections are skipped.
type Report struct {
	Summary      *query.CourseSummary
	Daily        *query.DailyStatsResult
	Engagement   *query.EngagementResult
	Lessons      []analytics.LessonProgressStat
	Demographics *query.DemographicsResult
}

// WriteReport writes r as an XLSX workbook to w.
func WriteReport(w io.Writer, r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	b := &builder{f: f, header: header}

	// NewFile starts with "Sheet1"; the summary takes its place.
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("rename first sheet: %w", err)
	}
	if r.Summary != nil {
		b.summary(r.Summary)
	}
	if r.Daily != nil {
		b.daily(r.Daily)
	}
	if r.Engagement != nil {
		b.engagement(r.Engagement)
	}
	if r.Lessons != nil {
		b.lessons(r.Lessons)
	}
	if r.Demographics != nil {
		b.demographics(r.Demographics)
	}
	if b.err != nil {
		return b.err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// builder accumulates the first error so sheet code stays linear.
type builder struct {
	f      *excelize.File
	header int
	err    error
}

func (b *builder) sheet(name string) {
	if b.err != nil || name == SheetSummary {
		return
	}
	if _, err := b.f.NewSheet(name); err != nil {
		b.err = fmt.Errorf("create sheet %q: %w", name, err)
	}
}

func (b *builder) row(sheet string, n int, values ...any) {
	if b.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		b.err = err
		return
	}
	if err := b.f.SetSheetRow(sheet, cell, &values); err != nil {
		b.err = fmt.Errorf("write %s row %d: %w", sheet, n, err)
		return
	}
	if n == 1 {
		if err := b.f.SetRowStyle(sheet, 1, 1, b.header); err != nil {
			b.err = fmt.Errorf("style %s header: %w", sheet, err)
		}
	}
}

func (b *builder) summary(s *query.CourseSummary) {
	rows := [][]any{
		{"Metric", "Value"},
		{"Course ID", s.CourseID},
		{"Title", s.Title},
		{"Total students", s.TotalStudents},
		{"Completed students", s.CompletedStudents},
		{"Reviews", s.ReviewCount},
		{"Average rating", s.AverageRating.StringFixed(2)},
		{"Lessons", s.TotalLessons},
		{"Price", s.Price.StringFixed(2)},
		{"Total views", s.TotalViews},
		{"Unique viewers", s.UniqueViewers},
		{"Views trend %", s.Trends.Views},
		{"Enrollments trend %", s.Trends.Enrollments},
		{"Completions trend %", s.Trends.Completions},
		{"Rating trend %", s.Trends.Rating},
		{"Generated at", s.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	for i, r := range rows {
		b.row(SheetSummary, i+1, r...)
	}
}

func (b *builder) daily(d *query.DailyStatsResult) {
	b.sheet(SheetDailyStats)
	b.row(SheetDailyStats, 1, "Date", "Views", "Unique viewers", "Enrollments", "Lesson completions", "Source")
	for i, s := range d.Stats {
		b.row(SheetDailyStats, i+2,
			timeutil.FormatDay(s.StatDate), s.Views, s.UniqueViewers, s.Enrollments, s.LessonCompletions, string(d.Source))
	}
}

func (b *builder) engagement(e *query.EngagementResult) {
	b.sheet(SheetEngagement)
	head := []any{"Period"}
	for _, t := range analytics.AllEngagementTypes {
		head = append(head, string(t))
	}
	head = append(head, "Total", "Source")
	b.row(SheetEngagement, 1, head...)

	for i, bucket := range e.Buckets {
		vals := []any{bucket.Key}
		for _, t := range analytics.AllEngagementTypes {
			vals = append(vals, bucket.Counts[t])
		}
		vals = append(vals, bucket.Total, string(e.Source))
		b.row(SheetEngagement, i+2, vals...)
	}
}

func (b *builder) lessons(stats []analytics.LessonProgressStat) {
	b.sheet(SheetLessons)
	b.row(SheetLessons, 1, "Position", "Lesson ID", "Title", "Viewers", "Completions", "Average progress %")
	for i, s := range stats {
		b.row(SheetLessons, i+2, s.Position, s.LessonID, s.Title, s.Viewers, s.Completions, s.AverageProgress)
	}
}

func (b *builder) demographics(d *query.DemographicsResult) {
	b.sheet(SheetDemographics)
	b.row(SheetDemographics, 1, "Dimension", "Label", "Count")
	n := 2
	for _, dim := range dimensions {
		dist := dim.get(&d.Snapshot)
		for _, label := range slices.Sorted(maps.Keys(dist)) {
			b.row(SheetDemographics, n, dim.name, label, dist[label])
			n++
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEMOGRAPHICS IMPORT
// ══════════════════════════════════════════════════════════════════════════════

type dimension struct {
	name string
	get  func(*analytics.DemographicsSnapshot) analytics.Distribution
	set  func(*command.ImportDemographicsCommand, analytics.Distribution)
}

var dimensions = []dimension{
	{
		name: "age_ranges",
		get:  func(s *analytics.DemographicsSnapshot) analytics.Distribution { return s.AgeRanges },
		set:  func(c *command.ImportDemographicsCommand, d analytics.Distribution) { c.AgeRanges = d },
	},
	{
		name: "genders",
		get:  func(s *analytics.DemographicsSnapshot) analytics.Distribution { return s.Genders },
		set:  func(c *command.ImportDemographicsCommand, d analytics.Distribution) { c.Genders = d },
	},
	{
		name: "countries",
		get:  func(s *analytics.DemographicsSnapshot) analytics.Distribution { return s.Countries },
		set:  func(c *command.ImportDemographicsCommand, d analytics.Distribution) { c.Countries = d },
	},
	{
		name: "experience_levels",
		get:  func(s *analytics.DemographicsSnapshot) analytics.Distribution { return s.ExperienceLevels },
		set:  func(c *command.ImportDemographicsCommand, d analytics.Distribution) { c.ExperienceLevels = d },
	},
}

// ReadDemographics parses the Demographics sheet of a workbook into an import
// command for courseID. Rows are (dimension, label, count) after a header row;
// blank rows are skipped and anything else malformed is a validation error.
func ReadDemographics(r io.Reader, courseID int64) (*command.ImportDemographicsCommand, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetDemographics)
	if err != nil {
		return nil, shared.WrapError("analytics", "ReadDemographics", shared.ErrInvalidFormat,
			"missing "+SheetDemographics+" sheet", err)
	}

	byName := make(map[string]dimension, len(dimensions))
	for _, d := range dimensions {
		byName[d.name] = d
	}
	dists := make(map[string]analytics.Distribution, len(dimensions))

	for i, row := range rows {
		if i == 0 || isBlank(row) {
			continue
		}
		if len(row) < 3 {
			return nil, shared.Validation("analytics", "ReadDemographics", "row %d: expected dimension, label and count", i+1)
		}
		name := strings.ToLower(strings.TrimSpace(row[0]))
		if _, ok := byName[name]; !ok {
			return nil, shared.Validation("analytics", "ReadDemographics", "row %d: unknown dimension %q", i+1, row[0])
		}
		count, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, shared.Validation("analytics", "ReadDemographics", "row %d: count %q is not an integer", i+1, row[2])
		}
		if dists[name] == nil {
			dists[name] = analytics.Distribution{}
		}
		dists[name][strings.TrimSpace(row[1])] += count
	}

	cmd := &command.ImportDemographicsCommand{CourseID: courseID}
	for name, dist := range dists {
		byName[name].set(cmd, dist)
	}
	return cmd, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
