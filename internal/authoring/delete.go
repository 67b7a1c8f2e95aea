package authoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/sequence"
)

// Kind names the type of item a Target points at.
type Kind string

const (
	KindChapter Kind = "chapter"
	KindLesson  Kind = "lesson"
	KindQuiz    Kind = "quiz"
)

// Target identifies an item to delete or restore.
type Target struct {
	Kind Kind
	ID   string
}

// Outcome reports what SafeDelete did.
type Outcome string

const (
	Archived Outcome = "archived"
	Removed  Outcome = "removed"
)

// subject is a resolved Target: the records that reference it and the ways
// it can leave or re-enter the course.
type subject struct {
	course    course.Course
	lessonIDs []string
	quizIDs   []string
	setStatus func(course.ItemStatus) error
	remove    func() error
}

// SafeDelete archives the target when learner records reference it and
// removes it otherwise.
func (s *Service) SafeDelete(ctx context.Context, actor Actor, target Target) (Outcome, error) {
	var outcome Outcome
	err := s.run(ctx, func(tx course.Tx) error {
		sub, n, err := s.resolve(ctx, tx, actor, target)
		if err != nil {
			return err
		}
		if n > 0 {
			outcome = Archived
			err = sub.setStatus(course.StatusArchived)
		} else {
			outcome = Removed
			err = sub.remove()
		}
		if err != nil {
			return err
		}
		return s.touch(ctx, tx, sub.course)
	})
	if err != nil {
		return "", err
	}

	slog.Info("item deleted", "kind", target.Kind, "id", target.ID, "outcome", outcome)
	return outcome, nil
}

// HardDelete removes the target and fails with ErrDependencyExists when
// learner records reference it.
func (s *Service) HardDelete(ctx context.Context, actor Actor, target Target) error {
	return s.run(ctx, func(tx course.Tx) error {
		sub, n, err := s.resolve(ctx, tx, actor, target)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%s %s has %d learner records: %w", target.Kind, target.ID, n, course.ErrDependencyExists)
		}
		if err := sub.remove(); err != nil {
			return err
		}
		return s.touch(ctx, tx, sub.course)
	})
}

// Restore reactivates an archived target.
func (s *Service) Restore(ctx context.Context, actor Actor, target Target) error {
	return s.run(ctx, func(tx course.Tx) error {
		sub, _, err := s.resolve(ctx, tx, actor, target)
		if err != nil {
			return err
		}
		if err := sub.setStatus(course.StatusActive); err != nil {
			return err
		}
		return s.touch(ctx, tx, sub.course)
	})
}

// resolve authorizes the actor on the target and counts the learner records
// referencing it or anything beneath it.
func (s *Service) resolve(ctx context.Context, tx course.Tx, actor Actor, target Target) (subject, int, error) {
	var (
		sub subject
		err error
	)
	switch target.Kind {
	case KindChapter:
		sub, err = s.resolveChapter(ctx, tx, actor, target.ID)
	case KindLesson:
		sub, err = s.resolveLesson(ctx, tx, actor, target.ID)
	case KindQuiz:
		sub, err = s.resolveQuiz(ctx, tx, actor, target.ID)
	default:
		return subject{}, 0, course.Invalid("kind", "unknown target kind %q", target.Kind)
	}
	if err != nil {
		return subject{}, 0, err
	}

	n, err := tx.CountLearnerRecords(ctx, sub.lessonIDs, sub.quizIDs)
	if err != nil {
		return subject{}, 0, err
	}
	return sub, n, nil
}

func (s *Service) resolveChapter(ctx context.Context, tx course.Tx, actor Actor, id string) (subject, error) {
	c, ch, err := s.chapterScope(ctx, tx, actor, id)
	if err != nil {
		return subject{}, err
	}
	lessons, err := tx.ListLessons(ctx, id)
	if err != nil {
		return subject{}, err
	}
	sub := subject{course: c}
	for _, l := range lessons {
		sub.lessonIDs = append(sub.lessonIDs, l.ID)
		quizzes, err := tx.ListQuizzes(ctx, l.ID)
		if err != nil {
			return subject{}, err
		}
		for _, q := range quizzes {
			sub.quizIDs = append(sub.quizIDs, q.ID)
		}
	}

	sub.setStatus = func(st course.ItemStatus) error {
		ch.Status = st
		ch.UpdatedAt = s.timestamp()
		return tx.SaveChapter(ctx, ch)
	}
	sub.remove = func() error {
		if err := tx.LockCourse(ctx, ch.CourseID); err != nil {
			return err
		}
		siblings, err := tx.ListChapters(ctx, ch.CourseID)
		if err != nil {
			return err
		}
		items := chapterItems(siblings)
		changes, err := sequence.Remove(items, id)
		if err != nil {
			return err
		}
		for _, dep := range sequence.Dependents(items, id) {
			other, err := tx.GetChapter(ctx, dep)
			if err != nil {
				return err
			}
			other.UnlockAfter = ""
			if err := tx.SaveChapter(ctx, other); err != nil {
				return err
			}
		}
		if err := tx.DeleteChapter(ctx, id); err != nil {
			return err
		}
		return tx.SetChapterOrders(ctx, ch.CourseID, sequence.Orders(changes))
	}
	return sub, nil
}

func (s *Service) resolveLesson(ctx context.Context, tx course.Tx, actor Actor, id string) (subject, error) {
	c, l, err := s.lessonScope(ctx, tx, actor, id)
	if err != nil {
		return subject{}, err
	}
	quizzes, err := tx.ListQuizzes(ctx, id)
	if err != nil {
		return subject{}, err
	}
	sub := subject{course: c, lessonIDs: []string{id}}
	for _, q := range quizzes {
		sub.quizIDs = append(sub.quizIDs, q.ID)
	}

	sub.setStatus = func(st course.ItemStatus) error {
		l.Status = st
		l.UpdatedAt = s.timestamp()
		return tx.SaveLesson(ctx, l)
	}
	sub.remove = func() error {
		if err := tx.LockChapter(ctx, l.ChapterID); err != nil {
			return err
		}
		siblings, err := tx.ListLessons(ctx, l.ChapterID)
		if err != nil {
			return err
		}
		items := lessonItems(siblings)
		changes, err := sequence.Remove(items, id)
		if err != nil {
			return err
		}
		for _, dep := range sequence.Dependents(items, id) {
			other, err := tx.GetLesson(ctx, dep)
			if err != nil {
				return err
			}
			other.UnlockAfter = ""
			if err := tx.SaveLesson(ctx, other); err != nil {
				return err
			}
		}
		if err := tx.DeleteLesson(ctx, id); err != nil {
			return err
		}
		return tx.SetLessonOrders(ctx, l.ChapterID, sequence.Orders(changes))
	}
	return sub, nil
}

func (s *Service) resolveQuiz(ctx context.Context, tx course.Tx, actor Actor, id string) (subject, error) {
	c, q, err := s.quizScope(ctx, tx, actor, id)
	if err != nil {
		return subject{}, err
	}
	sub := subject{course: c, quizIDs: []string{id}}
	sub.setStatus = func(st course.ItemStatus) error {
		q.Status = st
		q.UpdatedAt = s.timestamp()
		return tx.SaveQuiz(ctx, q)
	}
	sub.remove = func() error {
		return tx.DeleteQuiz(ctx, id)
	}
	return sub, nil
}
