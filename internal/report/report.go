// Package report exports course progress as XLSX workbooks.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/progress"
)

// SheetName is the worksheet holding one row per enrolled learner.
const SheetName = "Progress"

var header = []any{"User", "Enrolled", "Progress %", "Chapters completed", "Chapters", "Current lesson", "Certificate", "Certificate issued"}

// Row is one learner's line in a progress report.
type Row struct {
	UserID              string
	EnrolledAt          time.Time
	Percentage          float64
	ChaptersCompleted   int
	ChaptersTotal       int
	CurrentLessonID     string
	CertificateCode     string
	CertificateIssuedAt *time.Time
}

// Config holds dependencies for the report service.
type Config struct {
	Store    course.Store
	Progress *progress.Service
}

// Service builds progress reports.
type Service struct {
	store    course.Store
	progress *progress.Service
}

// New creates a report service.
func New(cfg Config) *Service {
	return &Service{store: cfg.Store, progress: cfg.Progress}
}

// Rows computes a report row for every learner enrolled in a course, ordered
// by user ID. Percentages come from the progress service, not from the
// enrollment's stored copy.
func (s *Service) Rows(ctx context.Context, courseID string) ([]Row, error) {
	var enrollments []course.Enrollment
	err := s.store.InTx(ctx, func(tx course.Tx) error {
		if _, err := tx.GetCourse(ctx, courseID); err != nil {
			return err
		}
		var err error
		enrollments, err = tx.ListEnrollments(ctx, courseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(enrollments, func(i, j int) bool { return enrollments[i].UserID < enrollments[j].UserID })

	rows := make([]Row, 0, len(enrollments))
	for _, e := range enrollments {
		sum, err := s.progress.Summary(ctx, e.UserID, courseID)
		if err != nil {
			return nil, fmt.Errorf("progress of %s: %w", e.UserID, err)
		}
		row := Row{
			UserID:          e.UserID,
			EnrolledAt:      e.EnrolledAt,
			Percentage:      sum.Percentage,
			ChaptersTotal:   len(sum.Chapters),
			CurrentLessonID: e.CurrentLessonID,
		}
		for _, ch := range sum.Chapters {
			if ch.Total > 0 && ch.Completed == ch.Total {
				row.ChaptersCompleted++
			}
		}

		cert, err := s.progress.Certificate(ctx, e.UserID, courseID)
		switch {
		case err == nil:
			row.CertificateCode = cert.Code
			issued := cert.IssuedAt
			row.CertificateIssuedAt = &issued
		case !errors.Is(err, course.ErrNotFound):
			return nil, fmt.Errorf("certificate of %s: %w", e.UserID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CourseProgress writes an XLSX workbook with one row per enrolled learner.
func (s *Service) CourseProgress(ctx context.Context, courseID string, w io.Writer) error {
	rows, err := s.Rows(ctx, courseID)
	if err != nil {
		return err
	}
	if err := Write(w, rows); err != nil {
		return err
	}
	slog.Info("progress report written", "course_id", courseID, "learners", len(rows))
	return nil
}

// Write renders rows as an XLSX workbook.
func Write(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("closing workbook", "error", err)
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{r.UserID, r.EnrolledAt, r.Percentage, r.ChaptersCompleted, r.ChaptersTotal, r.CurrentLessonID, r.CertificateCode, ""}
		if r.CertificateIssuedAt != nil {
			values[7] = *r.CertificateIssuedAt
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(SheetName, "A", "H", 20); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
