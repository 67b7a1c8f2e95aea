// Package authoring applies course-authoring mutations (create, edit, reorder
// and delete of chapters, lessons, quizzes and questions) inside store
// transactions, enforcing ordering, naming and prerequisite invariants.
package authoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/sequence"
)

const maxNameLength = 200

// Actor is the caller of an authoring operation, already authenticated and
// authorized by the collaborator in front of the engine.
type Actor struct {
	UserID   string
	AuthorID string
}

// Config holds dependencies for the authoring service.
type Config struct {
	Store         course.Store
	RetryAttempts int              // conflict retries per operation (default 3)
	Now           func() time.Time // clock (default time.Now)
}

// Service performs authoring operations.
type Service struct {
	store   course.Store
	retries int
	now     func() time.Time
}

// New creates an authoring service.
func New(cfg Config) *Service {
	store := cfg.Store
	if store == nil {
		store = course.NewMemoryStore()
	}
	retries := cfg.RetryAttempts
	if retries <= 0 {
		retries = course.DefaultRetryAttempts
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, retries: retries, now: now}
}

// run executes fn in a transaction, retrying on serialization conflicts.
func (s *Service) run(ctx context.Context, fn func(tx course.Tx) error) error {
	return course.WithRetry(ctx, s.retries, func() error {
		return s.store.InTx(ctx, fn)
	})
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// authorize loads the course and refuses actors outside its scope.
func (s *Service) authorize(ctx context.Context, tx course.Tx, actor Actor, courseID string) (course.Course, error) {
	if actor.UserID == "" || actor.AuthorID == "" {
		return course.Course{}, fmt.Errorf("actor is incomplete: %w", course.ErrUnauthorized)
	}
	c, err := tx.GetCourse(ctx, courseID)
	if err != nil {
		return course.Course{}, err
	}
	if c.AuthorID != actor.AuthorID {
		return course.Course{}, fmt.Errorf("course %s is not authored by %s: %w", courseID, actor.AuthorID, course.ErrUnauthorized)
	}
	return c, nil
}

// chapterScope resolves a chapter and authorizes the actor on its course.
func (s *Service) chapterScope(ctx context.Context, tx course.Tx, actor Actor, chapterID string) (course.Course, course.Chapter, error) {
	ch, err := tx.GetChapter(ctx, chapterID)
	if err != nil {
		return course.Course{}, course.Chapter{}, err
	}
	c, err := s.authorize(ctx, tx, actor, ch.CourseID)
	return c, ch, err
}

func (s *Service) lessonScope(ctx context.Context, tx course.Tx, actor Actor, lessonID string) (course.Course, course.Lesson, error) {
	l, err := tx.GetLesson(ctx, lessonID)
	if err != nil {
		return course.Course{}, course.Lesson{}, err
	}
	c, _, err := s.chapterScope(ctx, tx, actor, l.ChapterID)
	return c, l, err
}

func (s *Service) quizScope(ctx context.Context, tx course.Tx, actor Actor, quizID string) (course.Course, course.Quiz, error) {
	q, err := tx.GetQuiz(ctx, quizID)
	if err != nil {
		return course.Course{}, course.Quiz{}, err
	}
	c, _, err := s.lessonScope(ctx, tx, actor, q.LessonID)
	return c, q, err
}

// touch bumps the course revision so cached aggregates keyed by it go stale.
func (s *Service) touch(ctx context.Context, tx course.Tx, c course.Course) error {
	c.Revision++
	c.UpdatedAt = s.timestamp()
	return tx.SaveCourse(ctx, c)
}

func cleanName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", course.Invalid(field, "is required")
	}
	if len([]rune(name)) > maxNameLength {
		return "", course.Invalid(field, "must be at most %d characters", maxNameLength)
	}
	return name, nil
}

// uniqueName rejects name if another sibling already uses it, ignoring case
// and surrounding whitespace.
func uniqueName(field, name, selfID string, siblings map[string]string) error {
	for id, other := range siblings {
		if id != selfID && course.SameName(name, other) {
			return course.Invalid(field, "%q is already used in this scope", name)
		}
	}
	return nil
}

func percentage(field string, v float64) error {
	if v < 0 || v > 100 {
		return course.Invalid(field, "must be between 0 and 100, got %g", v)
	}
	return nil
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

// insertOrder maps a requested order to Insert's input: zero appends.
func insertOrder(requested, n int) int {
	if requested == 0 {
		return n + 1
	}
	return requested
}

func chapterItems(chs []course.Chapter) []sequence.Item {
	items := make([]sequence.Item, len(chs))
	for i, ch := range chs {
		items[i] = sequence.Item{ID: ch.ID, Order: ch.Order, UnlockAfter: ch.UnlockAfter}
	}
	return items
}

func lessonItems(ls []course.Lesson) []sequence.Item {
	items := make([]sequence.Item, len(ls))
	for i, l := range ls {
		items[i] = sequence.Item{ID: l.ID, Order: l.Order, UnlockAfter: l.UnlockAfter}
	}
	return items
}

func questionItems(qs []course.Question) []sequence.Item {
	items := make([]sequence.Item, len(qs))
	for i, q := range qs {
		items[i] = sequence.Item{ID: q.ID, Order: q.Order}
	}
	return items
}
