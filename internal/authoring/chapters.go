package authoring

import (
	"context"
	"log/slog"
	"strings"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/sequence"
)

// ChapterInput describes a chapter to create or the new state of one being edited.
type ChapterInput struct {
	Name        string
	Description string
	Order       int // 0 appends; ignored by UpdateChapter
	UnlockAfter string
	Locked      bool
}

// CreateChapter inserts a chapter at the requested order, shifting later
// chapters of the course down by one.
func (s *Service) CreateChapter(ctx context.Context, actor Actor, courseID string, in ChapterInput) (course.Chapter, error) {
	name, err := cleanName("name", in.Name)
	if err != nil {
		return course.Chapter{}, err
	}

	var out course.Chapter
	err = s.run(ctx, func(tx course.Tx) error {
		c, err := s.authorize(ctx, tx, actor, courseID)
		if err != nil {
			return err
		}
		if err := tx.LockCourse(ctx, courseID); err != nil {
			return err
		}
		siblings, err := tx.ListChapters(ctx, courseID)
		if err != nil {
			return err
		}
		if err := uniqueName("name", name, "", chapterNames(siblings)); err != nil {
			return err
		}

		id := course.NewID()
		items := chapterItems(siblings)
		k, changes, err := sequence.Insert(items, insertOrder(in.Order, len(items)))
		if err != nil {
			return err
		}
		if err := sequence.ValidateUnlock(sequence.Apply(items, changes), id, k, in.UnlockAfter); err != nil {
			return err
		}
		if err := tx.SetChapterOrders(ctx, courseID, sequence.Orders(changes)); err != nil {
			return err
		}

		now := s.timestamp()
		out = course.Chapter{
			ID:          id,
			CourseID:    courseID,
			Name:        name,
			Description: strings.TrimSpace(in.Description),
			Order:       k,
			UnlockAfter: in.UnlockAfter,
			Locked:      in.Locked,
			Status:      course.StatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.SaveChapter(ctx, out); err != nil {
			return err
		}
		return s.touch(ctx, tx, c)
	})
	if err != nil {
		return course.Chapter{}, err
	}

	slog.Info("chapter created", "course_id", courseID, "chapter_id", out.ID, "order", out.Order)
	return out, nil
}

// UpdateChapter edits a chapter in place. Use MoveChapter to change its order.
func (s *Service) UpdateChapter(ctx context.Context, actor Actor, chapterID string, in ChapterInput) (course.Chapter, error) {
	name, err := cleanName("name", in.Name)
	if err != nil {
		return course.Chapter{}, err
	}

	var out course.Chapter
	err = s.run(ctx, func(tx course.Tx) error {
		c, ch, err := s.chapterScope(ctx, tx, actor, chapterID)
		if err != nil {
			return err
		}
		siblings, err := tx.ListChapters(ctx, ch.CourseID)
		if err != nil {
			return err
		}
		if err := uniqueName("name", name, ch.ID, chapterNames(siblings)); err != nil {
			return err
		}
		if err := sequence.ValidateUnlock(chapterItems(siblings), ch.ID, ch.Order, in.UnlockAfter); err != nil {
			return err
		}

		ch.Name = name
		ch.Description = strings.TrimSpace(in.Description)
		ch.UnlockAfter = in.UnlockAfter
		ch.Locked = in.Locked
		ch.UpdatedAt = s.timestamp()
		if err := tx.SaveChapter(ctx, ch); err != nil {
			return err
		}
		out = ch
		return s.touch(ctx, tx, c)
	})
	return out, err
}

// MoveChapter rotates a chapter from one order to another within its course.
// Moves that would leave an unlock-after reference pointing forward are rejected.
func (s *Service) MoveChapter(ctx context.Context, actor Actor, chapterID string, from, to int) error {
	return s.run(ctx, func(tx course.Tx) error {
		c, ch, err := s.chapterScope(ctx, tx, actor, chapterID)
		if err != nil {
			return err
		}
		if err := tx.LockCourse(ctx, ch.CourseID); err != nil {
			return err
		}
		siblings, err := tx.ListChapters(ctx, ch.CourseID)
		if err != nil {
			return err
		}
		items := chapterItems(siblings)
		changes, err := sequence.Move(items, chapterID, from, to)
		if err != nil || len(changes) == 0 {
			return err
		}
		if err := sequence.ValidateAll(sequence.Apply(items, changes)); err != nil {
			return err
		}
		if err := tx.SetChapterOrders(ctx, ch.CourseID, sequence.Orders(changes)); err != nil {
			return err
		}
		slog.Debug("chapter moved", "chapter_id", chapterID, "from", from, "to", to)
		return s.touch(ctx, tx, c)
	})
}

func chapterNames(chs []course.Chapter) map[string]string {
	m := make(map[string]string, len(chs))
	for _, ch := range chs {
		m[ch.ID] = ch.Name
	}
	return m
}
