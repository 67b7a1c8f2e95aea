// Package progress derives lesson, chapter and course completion from learner
// records, resolves lesson locks, and issues certificates once a course is
// complete.
//
// Percentages are always computed from progress and attempt records. The
// enrollment's stored percentage and the Cache are copies of the last
// computation and are never read back as a source of truth.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/notify"
)

// Config holds dependencies for the progress service.
type Config struct {
	Store         course.Store
	Cache         Cache
	Events        notify.Emitter
	RetryAttempts int
	Now           func() time.Time
}

// Service is the progress aggregator.
type Service struct {
	store   course.Store
	cache   Cache
	events  notify.Emitter
	retries int
	now     func() time.Time
	group   singleflight.Group
}

// New creates a progress service.
func New(cfg Config) *Service {
	store := cfg.Store
	if store == nil {
		store = course.NewMemoryStore()
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NopCache{}
	}
	events := cfg.Events
	if events == nil {
		events = notify.NopPublisher{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, cache: cache, events: events, retries: cfg.RetryAttempts, now: now}
}

func (s *Service) run(ctx context.Context, fn func(tx course.Tx) error) error {
	return course.WithRetry(ctx, s.retries, func() error {
		return s.store.InTx(ctx, fn)
	})
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// view loads a snapshot in its own transaction.
func (s *Service) view(ctx context.Context, userID, courseID string) (*snapshot, error) {
	var snap *snapshot
	err := s.run(ctx, func(tx course.Tx) error {
		var err error
		snap, err = load(ctx, tx, userID, courseID)
		return err
	})
	return snap, err
}

// lessonView loads the snapshot of the course a lesson belongs to.
func (s *Service) lessonView(ctx context.Context, userID, lessonID string) (*snapshot, course.Lesson, error) {
	var (
		snap *snapshot
		l    course.Lesson
	)
	err := s.run(ctx, func(tx course.Tx) error {
		var err error
		var courseID string
		l, courseID, err = lessonCourse(ctx, tx, lessonID)
		if err != nil {
			return err
		}
		snap, err = load(ctx, tx, userID, courseID)
		return err
	})
	return snap, l, err
}

// LessonPercentage is 100 when the lesson is effectively completed, else 0.
func (s *Service) LessonPercentage(ctx context.Context, userID, lessonID string) (float64, error) {
	snap, l, err := s.lessonView(ctx, userID, lessonID)
	if err != nil {
		return 0, err
	}
	return snap.lessonPercentage(l), nil
}

// ChapterPercentage is the share of a chapter's active lessons the learner has completed.
func (s *Service) ChapterPercentage(ctx context.Context, userID, chapterID string) (float64, error) {
	var (
		snap *snapshot
		ch   course.Chapter
	)
	err := s.run(ctx, func(tx course.Tx) error {
		var err error
		ch, err = tx.GetChapter(ctx, chapterID)
		if err != nil {
			return err
		}
		snap, err = load(ctx, tx, userID, ch.CourseID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return snap.chapterProgress(ch).Percentage, nil
}

// CoursePercentage is the share of a course's active lessons the learner has
// completed. Results are cached per course revision and enrollment version;
// concurrent calls for the same key share one computation.
func (s *Service) CoursePercentage(ctx context.Context, userID, courseID string) (float64, error) {
	key, err := s.cacheKey(ctx, userID, courseID)
	if err != nil {
		return 0, err
	}

	if pct, ok, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("progress cache read failed", "key", key, "error", err)
	} else if ok {
		return pct, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		sum, err := s.Summary(ctx, userID, courseID)
		if err != nil {
			return 0.0, err
		}
		s.remember(ctx, Key(courseID, sum.Revision, sum.Version, userID), sum.Percentage)
		return sum.Percentage, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Summary computes a learner's full course progress without consulting the cache.
func (s *Service) Summary(ctx context.Context, userID, courseID string) (Summary, error) {
	snap, err := s.view(ctx, userID, courseID)
	if err != nil {
		return Summary{}, err
	}
	return snap.summary(userID), nil
}

// CertificateEligible recomputes whether the learner has earned the course certificate.
func (s *Service) CertificateEligible(ctx context.Context, userID, courseID string) (bool, error) {
	sum, err := s.Summary(ctx, userID, courseID)
	return sum.CertificateEligible, err
}

// Certificate returns the certificate issued to the learner for a course.
func (s *Service) Certificate(ctx context.Context, userID, courseID string) (course.Certificate, error) {
	var cert course.Certificate
	err := s.run(ctx, func(tx course.Tx) error {
		var err error
		cert, err = tx.GetCertificate(ctx, userID, courseID)
		return err
	})
	return cert, err
}

// Refresh recomputes a learner's course progress after a change to their
// records. It bumps the enrollment version, caches the new percentage under
// it, stores the percentage on the enrollment and issues the certificate the
// first time the learner becomes eligible.
func (s *Service) Refresh(ctx context.Context, userID, courseID string) error {
	var (
		sum      Summary
		before   float64
		enrolled bool
		issued   *course.Certificate
	)
	err := s.run(ctx, func(tx course.Tx) error {
		issued = nil
		snap, err := load(ctx, tx, userID, courseID)
		if err != nil {
			return err
		}
		sum = snap.summary(userID)

		e, err := tx.GetEnrollment(ctx, userID, courseID)
		if errors.Is(err, course.ErrNotFound) {
			enrolled = false
			return nil
		}
		if err != nil {
			return err
		}
		enrolled = true
		before = e.ProgressPercentage

		now := s.timestamp()
		e.ProgressPercentage = sum.Percentage
		e.UpdatedAt = now
		e.Version++
		sum.Version = e.Version
		if sum.CertificateEligible && e.CertificateIssuedAt == nil {
			cert, err := s.issue(ctx, tx, snap, e, sum, now)
			if err != nil {
				return err
			}
			issued = cert
			e.CertificateIssuedAt = &now
		}
		return tx.SaveEnrollment(ctx, e)
	})
	if err != nil {
		s.forget(ctx, userID, courseID)
		return err
	}
	s.remember(ctx, Key(courseID, sum.Revision, sum.Version, userID), sum.Percentage)

	if !enrolled {
		return nil
	}
	slog.Debug("progress refreshed", "user_id", userID, "course_id", courseID, "percentage", sum.Percentage)
	if before < 100 && sum.Percentage >= 100 {
		s.events.Emit(notify.Event{
			Type:      notify.CourseCompleted,
			UserID:    userID,
			CourseID:  courseID,
			CreatedAt: s.timestamp(),
		})
	}
	if issued != nil {
		slog.Info("certificate issued", "user_id", userID, "course_id", courseID, "code", issued.Code)
		s.events.Emit(notify.Event{
			Type:     notify.CertificateIssued,
			UserID:   userID,
			CourseID: courseID,
			Data: map[string]any{
				"certificate_id": issued.ID,
				"code":           issued.Code,
				"final_score":    issued.FinalScore,
			},
			CreatedAt: issued.IssuedAt,
		})
	}
	return nil
}

// issue writes the learner's certificate unless one already exists.
func (s *Service) issue(ctx context.Context, tx course.Tx, snap *snapshot, e course.Enrollment, sum Summary, now time.Time) (*course.Certificate, error) {
	if _, err := tx.GetCertificate(ctx, e.UserID, e.CourseID); err == nil {
		return nil, nil
	} else if !errors.Is(err, course.ErrNotFound) {
		return nil, err
	}
	cert := course.Certificate{
		ID:           course.NewID(),
		EnrollmentID: e.ID,
		UserID:       e.UserID,
		CourseID:     e.CourseID,
		Code:         course.NewCertificateCode(),
		FinalScore:   snap.finalScore(sum.Percentage),
		IssuedAt:     now,
	}
	if err := tx.SaveCertificate(ctx, cert); err != nil {
		return nil, fmt.Errorf("issue certificate: %w", err)
	}
	return &cert, nil
}

// remember writes a computed percentage to the cache, logging failures.
func (s *Service) remember(ctx context.Context, key string, pct float64) {
	if err := s.cache.Set(ctx, key, pct); err != nil {
		slog.Warn("progress cache write failed", "key", key, "error", err)
	}
}

// forget drops the learner's current cached percentage so a failed refresh
// cannot leave a stale value behind.
func (s *Service) forget(ctx context.Context, userID, courseID string) {
	key, err := s.cacheKey(ctx, userID, courseID)
	if err == nil {
		err = s.cache.Invalidate(ctx, key)
	}
	if err != nil {
		slog.Warn("progress cache invalidate failed", "user_id", userID, "course_id", courseID, "error", err)
	}
}

// cacheKey reads the course revision and the learner's enrollment version in
// one transaction.
func (s *Service) cacheKey(ctx context.Context, userID, courseID string) (string, error) {
	var rev, ver int64
	err := s.run(ctx, func(tx course.Tx) error {
		c, err := tx.GetCourse(ctx, courseID)
		if err != nil {
			return err
		}
		rev = c.Revision
		e, err := tx.GetEnrollment(ctx, userID, courseID)
		switch {
		case err == nil:
			ver = e.Version
		case !errors.Is(err, course.ErrNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return Key(courseID, rev, ver, userID), nil
}

// lessonCourse resolves a lesson and the course it belongs to.
func lessonCourse(ctx context.Context, tx course.Tx, lessonID string) (course.Lesson, string, error) {
	l, err := tx.GetLesson(ctx, lessonID)
	if err != nil {
		return course.Lesson{}, "", err
	}
	ch, err := tx.GetChapter(ctx, l.ChapterID)
	if err != nil {
		return course.Lesson{}, "", err
	}
	return l, ch.CourseID, nil
}
