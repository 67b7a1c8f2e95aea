package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/notify"
)

// Enroll registers a learner in an active course. Enrolling twice returns
// the existing enrollment.
func (s *Service) Enroll(ctx context.Context, userID, courseID string) (course.Enrollment, error) {
	if userID == "" {
		return course.Enrollment{}, course.Invalid("user_id", "is required")
	}
	var (
		out     course.Enrollment
		created bool
	)
	err := s.run(ctx, func(tx course.Tx) error {
		created = false
		c, err := tx.GetCourse(ctx, courseID)
		if err != nil {
			return err
		}
		e, err := tx.GetEnrollment(ctx, userID, courseID)
		if err == nil {
			out = e
			return nil
		}
		if !errors.Is(err, course.ErrNotFound) {
			return err
		}
		if c.Status != course.CourseActive {
			return course.Invalid("course_id", "course %s is %s", courseID, c.Status)
		}

		now := s.timestamp()
		out = course.Enrollment{
			ID:         course.NewID(),
			UserID:     userID,
			CourseID:   courseID,
			EnrolledAt: now,
			UpdatedAt:  now,
		}
		created = true
		return tx.SaveEnrollment(ctx, out)
	})
	if err != nil {
		return course.Enrollment{}, err
	}
	if created {
		slog.Info("learner enrolled", "user_id", userID, "course_id", courseID)
	}
	return out, nil
}

// Enrollment returns a learner's enrollment in a course.
func (s *Service) Enrollment(ctx context.Context, userID, courseID string) (course.Enrollment, error) {
	var out course.Enrollment
	err := s.run(ctx, func(tx course.Tx) error {
		var err error
		out, err = tx.GetEnrollment(ctx, userID, courseID)
		return err
	})
	return out, err
}

// LessonAccess resolves whether a lesson is locked for a learner.
func (s *Service) LessonAccess(ctx context.Context, userID, lessonID string) (Access, error) {
	snap, l, err := s.lessonView(ctx, userID, lessonID)
	if err != nil {
		return Access{}, err
	}
	return snap.access(l), nil
}

// learnerScope loads a lesson for a learner action: the learner must be
// enrolled in the lesson's course, the lesson must be active and unlocked.
func (s *Service) learnerScope(ctx context.Context, tx course.Tx, userID, lessonID string) (*snapshot, course.Lesson, course.Enrollment, error) {
	l, courseID, err := lessonCourse(ctx, tx, lessonID)
	if err != nil {
		return nil, course.Lesson{}, course.Enrollment{}, err
	}
	e, err := tx.GetEnrollment(ctx, userID, courseID)
	if errors.Is(err, course.ErrNotFound) {
		return nil, course.Lesson{}, course.Enrollment{}, fmt.Errorf("%s is not enrolled in course %s: %w", userID, courseID, course.ErrUnauthorized)
	}
	if err != nil {
		return nil, course.Lesson{}, course.Enrollment{}, err
	}
	snap, err := load(ctx, tx, userID, courseID)
	if err != nil {
		return nil, course.Lesson{}, course.Enrollment{}, err
	}
	if !snap.active(l) {
		return nil, course.Lesson{}, course.Enrollment{}, course.Invalid("lesson_id", "lesson %s is archived", lessonID)
	}
	if acc := snap.access(l); acc.Locked {
		return nil, course.Lesson{}, course.Enrollment{}, fmt.Errorf("lesson %s waits on %s (%s): %w", lessonID, acc.WaitingOn, acc.Reason, course.ErrLocked)
	}
	return snap, l, e, nil
}

// RecordAccess notes that a learner opened a lesson and makes it their
// current lesson. Locked lessons are refused with ErrLocked.
func (s *Service) RecordAccess(ctx context.Context, userID, lessonID string) (course.UserProgress, error) {
	var out course.UserProgress
	err := s.run(ctx, func(tx course.Tx) error {
		_, l, e, err := s.learnerScope(ctx, tx, userID, lessonID)
		if err != nil {
			return err
		}

		now := s.timestamp()
		p, err := tx.GetProgress(ctx, userID, lessonID)
		switch {
		case errors.Is(err, course.ErrNotFound):
			p = course.UserProgress{UserID: userID, LessonID: l.ID, FirstAccessedAt: now}
		case err != nil:
			return err
		}
		p.LastAccessedAt = now
		p.AccessCount++
		if err := tx.SaveProgress(ctx, p); err != nil {
			return err
		}

		e.CurrentLessonID = l.ID
		e.UpdatedAt = now
		if err := tx.SaveEnrollment(ctx, e); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return course.UserProgress{}, err
	}
	slog.Debug("lesson accessed", "user_id", userID, "lesson_id", lessonID, "count", out.AccessCount)
	return out, nil
}

// Completion is what a learner reports when finishing a lesson.
type Completion struct {
	TimeSpent        time.Duration // added to the time already recorded
	ViewedPercentage float64
}

// CompleteLesson records study time and marks the lesson completed once the
// lesson's minimum time and viewed percentage are met. When they are not, the
// time is still kept and a ValidationError is returned. Quiz gates are not
// checked here; they apply when progress is computed.
func (s *Service) CompleteLesson(ctx context.Context, userID, lessonID string, c Completion) (course.UserProgress, error) {
	if c.TimeSpent < 0 {
		return course.UserProgress{}, course.Invalid("time_spent", "must not be negative")
	}
	if c.ViewedPercentage < 0 || c.ViewedPercentage > 100 {
		return course.UserProgress{}, course.Invalid("viewed_percentage", "must be between 0 and 100, got %g", c.ViewedPercentage)
	}

	var (
		out       course.UserProgress
		courseID  string
		shortfall error
		completed bool
	)
	err := s.run(ctx, func(tx course.Tx) error {
		shortfall, completed = nil, false
		snap, l, _, err := s.learnerScope(ctx, tx, userID, lessonID)
		if err != nil {
			return err
		}
		courseID = snap.course.ID

		now := s.timestamp()
		p, err := tx.GetProgress(ctx, userID, lessonID)
		switch {
		case errors.Is(err, course.ErrNotFound):
			p = course.UserProgress{UserID: userID, LessonID: l.ID, FirstAccessedAt: now, LastAccessedAt: now, AccessCount: 1}
		case err != nil:
			return err
		}
		p.TimeSpent += c.TimeSpent

		switch {
		case p.Completed:
		case p.TimeSpent < l.MinTimeSpent:
			shortfall = course.Invalid("time_spent", "%s of %s spent", p.TimeSpent, l.MinTimeSpent)
		case c.ViewedPercentage < l.MinCompletionPercentage:
			shortfall = course.Invalid("viewed_percentage", "%g%% viewed, %g%% required", c.ViewedPercentage, l.MinCompletionPercentage)
		default:
			p.Completed = true
			p.CompletedAt = &now
			completed = true
		}
		out = p
		return tx.SaveProgress(ctx, p)
	})
	if err != nil {
		return course.UserProgress{}, err
	}
	if shortfall != nil {
		return out, shortfall
	}

	if completed {
		slog.Info("lesson completed", "user_id", userID, "lesson_id", lessonID)
		s.events.Emit(notify.Event{
			Type:      notify.LessonCompleted,
			UserID:    userID,
			CourseID:  courseID,
			Data:      map[string]any{"lesson_id": lessonID},
			CreatedAt: s.timestamp(),
		})
		if err := s.Refresh(ctx, userID, courseID); err != nil {
			slog.Warn("progress refresh failed", "user_id", userID, "course_id", courseID, "error", err)
		}
	}
	return out, nil
}

// NextLesson returns the active lesson after lessonID in course order,
// crossing chapter boundaries. The bool is false at the end of the course.
func (s *Service) NextLesson(ctx context.Context, lessonID string) (course.Lesson, bool, error) {
	return s.step(ctx, lessonID, 1)
}

// PreviousLesson returns the active lesson before lessonID in course order.
func (s *Service) PreviousLesson(ctx context.Context, lessonID string) (course.Lesson, bool, error) {
	return s.step(ctx, lessonID, -1)
}

func (s *Service) step(ctx context.Context, lessonID string, dir int) (course.Lesson, bool, error) {
	snap, l, err := s.lessonView(ctx, "", lessonID)
	if err != nil {
		return course.Lesson{}, false, err
	}
	next, ok := snap.neighbour(l, dir)
	return next, ok, nil
}
