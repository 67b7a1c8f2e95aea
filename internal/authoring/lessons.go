package authoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/sequence"
)

// Lesson threshold defaults applied when an input leaves them unset.
const (
	DefaultMinQuizScore            = 70.0
	DefaultMinCompletionPercentage = 100.0
)

// LessonInput describes a lesson to create or the new state of one being
// edited. Nil thresholds take the defaults.
type LessonInput struct {
	Name                    string
	Content                 string
	Order                   int // 0 appends; ignored by UpdateLesson
	UnlockAfter             string
	Locked                  bool
	Mandatory               bool
	RequiresQuizPass        bool
	MinTimeSpent            time.Duration
	MinQuizScore            *float64
	MinCompletionPercentage *float64
}

func (in LessonInput) apply(l *course.Lesson) error {
	name, err := cleanName("name", in.Name)
	if err != nil {
		return err
	}
	if in.MinTimeSpent < 0 {
		return course.Invalid("min_time_spent", "must not be negative")
	}
	minScore := valueOr(in.MinQuizScore, DefaultMinQuizScore)
	if err := percentage("min_quiz_score", minScore); err != nil {
		return err
	}
	minViewed := valueOr(in.MinCompletionPercentage, DefaultMinCompletionPercentage)
	if err := percentage("min_completion_percentage", minViewed); err != nil {
		return err
	}

	l.Name = name
	l.Content = in.Content
	l.UnlockAfter = in.UnlockAfter
	l.Locked = in.Locked
	l.Mandatory = in.Mandatory
	l.RequiresQuizPass = in.RequiresQuizPass
	l.MinTimeSpent = in.MinTimeSpent
	l.MinQuizScore = minScore
	l.MinCompletionPercentage = minViewed
	return nil
}

// CreateLesson inserts a lesson at the requested order of its chapter.
func (s *Service) CreateLesson(ctx context.Context, actor Actor, chapterID string, in LessonInput) (course.Lesson, error) {
	var base, out course.Lesson
	if err := in.apply(&base); err != nil {
		return course.Lesson{}, err
	}

	err := s.run(ctx, func(tx course.Tx) error {
		c, _, err := s.chapterScope(ctx, tx, actor, chapterID)
		if err != nil {
			return err
		}
		if err := tx.LockChapter(ctx, chapterID); err != nil {
			return err
		}
		siblings, err := tx.ListLessons(ctx, chapterID)
		if err != nil {
			return err
		}
		if err := uniqueName("name", base.Name, "", lessonNames(siblings)); err != nil {
			return err
		}

		l := base
		l.ID = course.NewID()
		items := lessonItems(siblings)
		k, changes, err := sequence.Insert(items, insertOrder(in.Order, len(items)))
		if err != nil {
			return err
		}
		if err := sequence.ValidateUnlock(sequence.Apply(items, changes), l.ID, k, l.UnlockAfter); err != nil {
			return err
		}
		if err := tx.SetLessonOrders(ctx, chapterID, sequence.Orders(changes)); err != nil {
			return err
		}

		now := s.timestamp()
		l.ChapterID = chapterID
		l.Order = k
		l.Status = course.StatusActive
		l.CreatedAt = now
		l.UpdatedAt = now
		if err := tx.SaveLesson(ctx, l); err != nil {
			return err
		}
		out = l
		return s.touch(ctx, tx, c)
	})
	if err != nil {
		return course.Lesson{}, err
	}

	slog.Info("lesson created", "chapter_id", chapterID, "lesson_id", out.ID, "order", out.Order)
	return out, nil
}

// UpdateLesson edits a lesson in place. Use MoveLesson to change its order.
func (s *Service) UpdateLesson(ctx context.Context, actor Actor, lessonID string, in LessonInput) (course.Lesson, error) {
	var out course.Lesson
	err := s.run(ctx, func(tx course.Tx) error {
		c, l, err := s.lessonScope(ctx, tx, actor, lessonID)
		if err != nil {
			return err
		}
		if err := in.apply(&l); err != nil {
			return err
		}
		siblings, err := tx.ListLessons(ctx, l.ChapterID)
		if err != nil {
			return err
		}
		if err := uniqueName("name", l.Name, l.ID, lessonNames(siblings)); err != nil {
			return err
		}
		if err := sequence.ValidateUnlock(lessonItems(siblings), l.ID, l.Order, l.UnlockAfter); err != nil {
			return err
		}
		l.UpdatedAt = s.timestamp()
		if err := tx.SaveLesson(ctx, l); err != nil {
			return err
		}
		out = l
		return s.touch(ctx, tx, c)
	})
	return out, err
}

// MoveLesson rotates a lesson from one order to another within its chapter.
func (s *Service) MoveLesson(ctx context.Context, actor Actor, lessonID string, from, to int) error {
	return s.run(ctx, func(tx course.Tx) error {
		c, l, err := s.lessonScope(ctx, tx, actor, lessonID)
		if err != nil {
			return err
		}
		if err := tx.LockChapter(ctx, l.ChapterID); err != nil {
			return err
		}
		siblings, err := tx.ListLessons(ctx, l.ChapterID)
		if err != nil {
			return err
		}
		items := lessonItems(siblings)
		changes, err := sequence.Move(items, lessonID, from, to)
		if err != nil || len(changes) == 0 {
			return err
		}
		if err := sequence.ValidateAll(sequence.Apply(items, changes)); err != nil {
			return err
		}
		if err := tx.SetLessonOrders(ctx, l.ChapterID, sequence.Orders(changes)); err != nil {
			return err
		}
		slog.Debug("lesson moved", "lesson_id", lessonID, "from", from, "to", to)
		return s.touch(ctx, tx, c)
	})
}

func lessonNames(ls []course.Lesson) map[string]string {
	m := make(map[string]string, len(ls))
	for _, l := range ls {
		m[l.ID] = l.Name
	}
	return m
}
