package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/notify"
)

// DefaultAbandonGrace is how long past its deadline an open attempt is left
// alone before it is finalized on the learner's behalf.
const DefaultAbandonGrace = 30 * time.Minute

// Refresher recomputes a learner's course progress after an attempt is graded.
type Refresher interface {
	Refresh(ctx context.Context, userID, courseID string) error
}

// Config holds dependencies for the attempt service.
type Config struct {
	Store         course.Store
	Events        notify.Emitter
	Progress      Refresher
	RetryAttempts int
	AbandonGrace  time.Duration
	Now           func() time.Time
}

// Service drives the attempt lifecycle NotStarted -> InProgress -> Submitted.
type Service struct {
	store    course.Store
	events   notify.Emitter
	progress Refresher
	retries  int
	grace    time.Duration
	now      func() time.Time
}

// New creates an attempt service.
func New(cfg Config) *Service {
	store := cfg.Store
	if store == nil {
		store = course.NewMemoryStore()
	}
	events := cfg.Events
	if events == nil {
		events = notify.NopPublisher{}
	}
	grace := cfg.AbandonGrace
	if grace <= 0 {
		grace = DefaultAbandonGrace
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		events:   events,
		progress: cfg.Progress,
		retries:  cfg.RetryAttempts,
		grace:    grace,
		now:      now,
	}
}

// Answer is a learner's selection for one question.
type Answer struct {
	QuestionID        string   `json:"question_id"`
	SelectedOptionIDs []string `json:"selected_option_ids"`
}

func (s *Service) run(ctx context.Context, fn func(tx course.Tx) error) error {
	return course.WithRetry(ctx, s.retries, func() error {
		return s.store.InTx(ctx, fn)
	})
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// Start opens a new attempt. An open attempt abandoned past its deadline plus
// the grace period is finalized first; any other open attempt makes Start fail
// with ErrAttemptInProgress.
func (s *Service) Start(ctx context.Context, userID, quizID string) (course.QuizAttempt, error) {
	if userID == "" {
		return course.QuizAttempt{}, course.Invalid("user_id", "is required")
	}

	var (
		out       course.QuizAttempt
		finalized []course.QuizAttempt
		courseID  string
	)
	err := s.run(ctx, func(tx course.Tx) error {
		finalized = finalized[:0]
		q, err := tx.GetQuiz(ctx, quizID)
		if err != nil {
			return err
		}
		if q.Status != course.StatusActive {
			return course.Invalid("quiz_id", "quiz %s is archived", quizID)
		}
		attempts, err := tx.ListAttempts(ctx, userID, quizID)
		if err != nil {
			return err
		}

		now := s.timestamp()
		for _, a := range attempts {
			if a.EndedAt != nil {
				continue
			}
			if !s.abandoned(q, a, now) {
				return fmt.Errorf("attempt %s on quiz %s: %w", a.ID, quizID, course.ErrAttemptInProgress)
			}
			done, err := s.finalize(ctx, tx, q, a.ID)
			if err != nil {
				return err
			}
			finalized = append(finalized, done)
		}

		if q.MaxAttempts != course.Unlimited && len(attempts) >= q.MaxAttempts {
			return fmt.Errorf("%d of %d attempts used on quiz %s: %w", len(attempts), q.MaxAttempts, quizID, course.ErrAttemptLimitExceeded)
		}

		a := course.QuizAttempt{
			ID:            course.NewID(),
			UserID:        userID,
			QuizID:        quizID,
			AttemptNumber: len(attempts) + 1,
			StartedAt:     now,
			Answers:       []course.UserAnswer{},
		}
		if err := tx.CreateAttempt(ctx, a); err != nil {
			return err
		}
		out = a

		if len(finalized) > 0 {
			courseID, err = courseOf(ctx, tx, q.LessonID)
			return err
		}
		return nil
	})
	if err != nil {
		return course.QuizAttempt{}, err
	}

	for _, a := range finalized {
		s.graded(ctx, a, courseID)
	}
	slog.Info("attempt started", "user_id", userID, "quiz_id", quizID, "attempt_id", out.ID, "attempt_number", out.AttemptNumber)
	return out, nil
}

// RecordAnswers stores answers on an open attempt. Answers arriving at or
// after the deadline are refused with ErrAttemptExpired.
func (s *Service) RecordAnswers(ctx context.Context, userID, attemptID string, answers []Answer) error {
	return s.run(ctx, func(tx course.Tx) error {
		a, q, questions, err := s.openAttempt(ctx, tx, userID, attemptID)
		if err != nil {
			return err
		}
		now := s.timestamp()
		if deadline, timed := q.Deadline(a.StartedAt); timed && !now.Before(deadline) {
			return fmt.Errorf("attempt %s closed at %s: %w", attemptID, deadline.Format(time.RFC3339), course.ErrAttemptExpired)
		}
		recorded, err := stamp(questions, answers, now)
		if err != nil {
			return err
		}
		return tx.SaveAnswers(ctx, attemptID, recorded)
	})
}

// Submit closes an open attempt and grades it in the same transaction.
// After the deadline the submission is still accepted, but only answers
// recorded before the deadline are graded.
func (s *Service) Submit(ctx context.Context, userID, attemptID string, answers []Answer) (course.QuizAttempt, Result, error) {
	var (
		out      course.QuizAttempt
		res      Result
		courseID string
	)
	err := s.run(ctx, func(tx course.Tx) error {
		a, q, questions, err := s.openAttempt(ctx, tx, userID, attemptID)
		if err != nil {
			return err
		}

		now := s.timestamp()
		if deadline, timed := q.Deadline(a.StartedAt); timed && !now.Before(deadline) {
			slog.Debug("late submission, grading recorded answers only", "attempt_id", attemptID, "deadline", deadline)
		} else {
			recorded, err := stamp(questions, answers, now)
			if err != nil {
				return err
			}
			if err := tx.SaveAnswers(ctx, attemptID, recorded); err != nil {
				return err
			}
			a.Answers = append(a.Answers, recorded...)
		}

		a, res = grade(q, questions, a, now)
		if err := tx.FinishAttempt(ctx, a); err != nil {
			return err
		}
		out = a
		courseID, err = courseOf(ctx, tx, q.LessonID)
		return err
	})
	if err != nil {
		return course.QuizAttempt{}, Result{}, err
	}

	s.graded(ctx, out, courseID)
	return out, res, nil
}

// Review returns a finished attempt with its per-question grade. The grade is
// recomputed from the stored answers and matches the one given at submission.
func (s *Service) Review(ctx context.Context, userID, attemptID string) (course.QuizAttempt, Result, error) {
	var (
		out course.QuizAttempt
		res Result
	)
	err := s.run(ctx, func(tx course.Tx) error {
		a, err := s.ownAttempt(ctx, tx, userID, attemptID)
		if err != nil {
			return err
		}
		if a.EndedAt == nil {
			return fmt.Errorf("attempt %s is still in progress: %w", attemptID, course.ErrInvalidAttemptState)
		}
		q, err := tx.GetQuiz(ctx, a.QuizID)
		if err != nil {
			return err
		}
		questions, err := tx.ListQuestions(ctx, a.QuizID)
		if err != nil {
			return err
		}
		out = a
		res = Score(q, questions, gradable(q, a))
		return nil
	})
	return out, res, err
}

// CanRetake reports whether the learner may start another attempt.
func (s *Service) CanRetake(ctx context.Context, userID, quizID string) (bool, error) {
	var ok bool
	err := s.run(ctx, func(tx course.Tx) error {
		q, err := tx.GetQuiz(ctx, quizID)
		if err != nil {
			return err
		}
		attempts, err := tx.ListAttempts(ctx, userID, quizID)
		if err != nil {
			return err
		}
		ok = q.MaxAttempts == course.Unlimited || len(attempts) < q.MaxAttempts
		return nil
	})
	return ok, err
}

// ActiveAttempt returns the learner's open attempt on a quiz with its answers,
// or ErrNotFound.
func (s *Service) ActiveAttempt(ctx context.Context, userID, quizID string) (course.QuizAttempt, error) {
	var out course.QuizAttempt
	err := s.run(ctx, func(tx course.Tx) error {
		attempts, err := tx.ListAttempts(ctx, userID, quizID)
		if err != nil {
			return err
		}
		for _, a := range attempts {
			if a.EndedAt == nil {
				out, err = tx.GetAttempt(ctx, a.ID)
				return err
			}
		}
		return course.NotFound("open attempt on quiz", quizID)
	})
	return out, err
}

// Attempts lists a learner's attempts on a quiz by attempt number.
func (s *Service) Attempts(ctx context.Context, userID, quizID string) ([]course.QuizAttempt, error) {
	var out []course.QuizAttempt
	err := s.run(ctx, func(tx course.Tx) error {
		var err error
		out, err = tx.ListAttempts(ctx, userID, quizID)
		return err
	})
	return out, err
}

// FinalizeExpired grades every open attempt left past its deadline plus the
// grace period and returns how many were closed.
func (s *Service) FinalizeExpired(ctx context.Context) (int, error) {
	var open []course.QuizAttempt
	err := s.run(ctx, func(tx course.Tx) error {
		var err error
		open, err = tx.ListOpenAttempts(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, candidate := range open {
		var (
			done     course.QuizAttempt
			courseID string
			skipped  bool
		)
		err := s.run(ctx, func(tx course.Tx) error {
			skipped = false
			q, err := tx.GetQuiz(ctx, candidate.QuizID)
			if err != nil {
				return err
			}
			if !s.abandoned(q, candidate, s.timestamp()) {
				skipped = true
				return nil
			}
			done, err = s.finalize(ctx, tx, q, candidate.ID)
			if err != nil {
				return err
			}
			courseID, err = courseOf(ctx, tx, q.LessonID)
			return err
		})
		switch {
		case errors.Is(err, course.ErrInvalidAttemptState):
			// Submitted since the scan.
			continue
		case err != nil:
			return closed, err
		case skipped:
			continue
		}
		closed++
		s.graded(ctx, done, courseID)
	}

	if closed > 0 {
		slog.Info("abandoned attempts finalized", "count", closed)
	}
	return closed, nil
}

// abandoned reports whether an open attempt on a timed quiz is past its
// deadline plus the grace period. Untimed attempts are never abandoned.
func (s *Service) abandoned(q course.Quiz, a course.QuizAttempt, now time.Time) bool {
	deadline, timed := q.Deadline(a.StartedAt)
	return timed && !now.Before(deadline.Add(s.grace))
}

// finalize grades an abandoned attempt as if it were submitted at its deadline.
func (s *Service) finalize(ctx context.Context, tx course.Tx, q course.Quiz, attemptID string) (course.QuizAttempt, error) {
	a, err := tx.GetAttempt(ctx, attemptID)
	if err != nil {
		return course.QuizAttempt{}, err
	}
	if a.EndedAt != nil {
		return course.QuizAttempt{}, fmt.Errorf("attempt %s: %w", attemptID, course.ErrInvalidAttemptState)
	}
	questions, err := tx.ListQuestions(ctx, q.ID)
	if err != nil {
		return course.QuizAttempt{}, err
	}
	deadline, _ := q.Deadline(a.StartedAt)
	a, _ = grade(q, questions, a, deadline)
	if err := tx.FinishAttempt(ctx, a); err != nil {
		return course.QuizAttempt{}, err
	}
	slog.Debug("abandoned attempt finalized", "attempt_id", a.ID, "user_id", a.UserID, "score", *a.Score)
	return a, nil
}

// ownAttempt loads an attempt and refuses other learners' attempts.
func (s *Service) ownAttempt(ctx context.Context, tx course.Tx, userID, attemptID string) (course.QuizAttempt, error) {
	a, err := tx.GetAttempt(ctx, attemptID)
	if err != nil {
		return course.QuizAttempt{}, err
	}
	if userID == "" || a.UserID != userID {
		return course.QuizAttempt{}, fmt.Errorf("attempt %s does not belong to %q: %w", attemptID, userID, course.ErrUnauthorized)
	}
	return a, nil
}

// openAttempt loads an in-progress attempt together with its quiz and questions.
func (s *Service) openAttempt(ctx context.Context, tx course.Tx, userID, attemptID string) (course.QuizAttempt, course.Quiz, []course.Question, error) {
	a, err := s.ownAttempt(ctx, tx, userID, attemptID)
	if err != nil {
		return course.QuizAttempt{}, course.Quiz{}, nil, err
	}
	if a.State() != course.AttemptInProgress {
		return course.QuizAttempt{}, course.Quiz{}, nil, fmt.Errorf("attempt %s is %s: %w", attemptID, a.State(), course.ErrInvalidAttemptState)
	}
	q, err := tx.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return course.QuizAttempt{}, course.Quiz{}, nil, err
	}
	questions, err := tx.ListQuestions(ctx, a.QuizID)
	if err != nil {
		return course.QuizAttempt{}, course.Quiz{}, nil, err
	}
	return a, q, questions, nil
}

// graded runs the fire-and-forget follow-ups of a graded attempt.
func (s *Service) graded(ctx context.Context, a course.QuizAttempt, courseID string) {
	slog.Info("attempt graded",
		"attempt_id", a.ID,
		"user_id", a.UserID,
		"quiz_id", a.QuizID,
		"score", *a.Score,
		"passed", a.Passed,
	)
	if a.Passed {
		s.events.Emit(notify.Event{
			Type:     notify.QuizPassed,
			UserID:   a.UserID,
			CourseID: courseID,
			QuizID:   a.QuizID,
			Data: map[string]any{
				"attempt_id":     a.ID,
				"attempt_number": a.AttemptNumber,
				"score":          *a.Score,
			},
			CreatedAt: s.timestamp(),
		})
	}
	if s.progress == nil || courseID == "" {
		return
	}
	if err := s.progress.Refresh(ctx, a.UserID, courseID); err != nil {
		slog.Warn("progress refresh failed", "user_id", a.UserID, "course_id", courseID, "error", err)
	}
}

// stamp validates answers against the quiz's questions and timestamps them.
func stamp(questions []course.Question, answers []Answer, now time.Time) ([]course.UserAnswer, error) {
	byID := make(map[string]course.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	out := make([]course.UserAnswer, 0, len(answers))
	for _, ans := range answers {
		q, ok := byID[ans.QuestionID]
		if !ok {
			return nil, course.Invalid("question_id", "%s is not part of this quiz", ans.QuestionID)
		}
		for _, id := range ans.SelectedOptionIDs {
			if !hasOption(q, id) {
				return nil, course.Invalid("selected_option_ids", "%s is not an option of question %s", id, q.ID)
			}
		}
		out = append(out, course.UserAnswer{
			QuestionID:        ans.QuestionID,
			SelectedOptionIDs: dedupe(ans.SelectedOptionIDs),
			RecordedAt:        now,
		})
	}
	return out, nil
}

func hasOption(q course.Question, id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// courseOf resolves the course a lesson belongs to.
func courseOf(ctx context.Context, tx course.Tx, lessonID string) (string, error) {
	l, err := tx.GetLesson(ctx, lessonID)
	if err != nil {
		return "", err
	}
	ch, err := tx.GetChapter(ctx, l.ChapterID)
	if err != nil {
		return "", err
	}
	return ch.CourseID, nil
}
