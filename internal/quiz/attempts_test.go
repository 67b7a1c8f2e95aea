package quiz_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/notify"
	"github.com/p-n-ai/pai-courses/internal/quiz"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingRefresher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingRefresher) Refresh(_ context.Context, userID, courseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userID+"/"+courseID)
	return r.err
}

type fixture struct {
	store    *course.MemoryStore
	clock    *fakeClock
	events   *notify.MemoryPublisher
	progress *recordingRefresher
	svc      *quiz.Service
}

// newFixture seeds course c1 > chapter ch1 > lesson l1 > quiz qz with two
// one-point questions: q1 (correct a) and q2 (correct true).
func newFixture(t *testing.T, settings course.Quiz) *fixture {
	t.Helper()
	f := &fixture{
		store:    course.NewMemoryStore(),
		clock:    newClock(),
		events:   notify.NewMemoryPublisher(),
		progress: &recordingRefresher{},
	}
	settings.ID = "qz"
	settings.LessonID = "l1"
	settings.Name = "Check"
	if settings.Status == "" {
		settings.Status = course.StatusActive
	}

	err := f.store.InTx(t.Context(), func(tx course.Tx) error {
		ctx := t.Context()
		steps := []func() error{
			func() error { return tx.SaveCourse(ctx, course.Course{ID: "c1", AuthorID: "a1", Title: "Go", Status: course.CourseActive, Revision: 1}) },
			func() error { return tx.SaveChapter(ctx, course.Chapter{ID: "ch1", CourseID: "c1", Name: "Basics", Order: 1, Status: course.StatusActive}) },
			func() error { return tx.SaveLesson(ctx, course.Lesson{ID: "l1", ChapterID: "ch1", Name: "Intro", Order: 1, Status: course.StatusActive}) },
			func() error { return tx.SaveQuiz(ctx, settings) },
			func() error {
				q := question("q1", course.SingleChoice, 1, "a", "b", "c")
				q.QuizID, q.Order = "qz", 1
				return tx.SaveQuestion(ctx, q)
			},
			func() error {
				q := question("q2", course.TrueFalse, 1, "true", "false")
				q.QuizID, q.Order = "qz", 2
				return tx.SaveQuestion(ctx, q)
			},
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	f.svc = quiz.New(quiz.Config{
		Store:         f.store,
		Events:        f.events,
		Progress:      f.progress,
		RetryAttempts: 1,
		Now:           f.clock.Now,
	})
	return f
}

func timed(limit time.Duration, maxAttempts int, passing float64) course.Quiz {
	return course.Quiz{TimeLimit: limit, MaxAttempts: maxAttempts, PassingScore: passing}
}

func (f *fixture) start(t *testing.T, userID string) course.QuizAttempt {
	t.Helper()
	a, err := f.svc.Start(t.Context(), userID, "qz")
	if err != nil {
		t.Fatalf("Start(%s) error = %v", userID, err)
	}
	return a
}

func (f *fixture) submit(t *testing.T, userID, attemptID string, answers ...quiz.Answer) (course.QuizAttempt, quiz.Result) {
	t.Helper()
	a, res, err := f.svc.Submit(t.Context(), userID, attemptID, answers)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return a, res
}

func TestSubmit_GradesAndNotifies(t *testing.T) {
	f := newFixture(t, timed(30*time.Minute, 3, 50))
	a := f.start(t, "u1")
	if a.State() != course.AttemptInProgress || a.AttemptNumber != 1 {
		t.Fatalf("started attempt = %+v", a)
	}

	f.clock.Advance(4 * time.Minute)
	got, res := f.submit(t, "u1", a.ID,
		quiz.Answer{QuestionID: "q1", SelectedOptionIDs: []string{"a"}},
		quiz.Answer{QuestionID: "q2", SelectedOptionIDs: []string{"false"}},
	)

	if got.Score == nil || *got.Score != 50 || !got.Passed {
		t.Fatalf("graded attempt score=%v passed=%v, want 50 passed", got.Score, got.Passed)
	}
	if res.Percentage != 50 || res.Possible != 2 {
		t.Errorf("result = %+v", res)
	}
	if got.TimeSpent() != 4*time.Minute {
		t.Errorf("TimeSpent() = %v, want 4m", got.TimeSpent())
	}
	if evs := f.events.OfType(notify.QuizPassed); len(evs) != 1 || evs[0].CourseID != "c1" {
		t.Errorf("quiz passed events = %+v", evs)
	}
	if len(f.progress.calls) != 1 || f.progress.calls[0] != "u1/c1" {
		t.Errorf("progress refreshes = %v, want [u1/c1]", f.progress.calls)
	}
}

func TestSubmit_FailingGradeEmitsNothing(t *testing.T) {
	f := newFixture(t, timed(0, course.Unlimited, 70))
	a := f.start(t, "u1")
	got, _ := f.submit(t, "u1", a.ID, quiz.Answer{QuestionID: "q1", SelectedOptionIDs: []string{"b"}})
	if got.Passed || *got.Score != 0 {
		t.Errorf("attempt = passed %v score %v", got.Passed, *got.Score)
	}
	if evs := f.events.Events(); len(evs) != 0 {
		t.Errorf("events = %+v, want none", evs)
	}
	if len(f.progress.calls) != 1 {
		t.Errorf("progress should refresh after every grade, got %v", f.progress.calls)
	}
}

func TestStart_AttemptLimit(t *testing.T) {
	f := newFixture(t, timed(30*time.Minute, 2, 70))
	for i := 0; i < 2; i++ {
		a := f.start(t, "u1")
		f.submit(t, "u1", a.ID)
	}

	ok, err := f.svc.CanRetake(t.Context(), "u1", "qz")
	if err != nil || ok {
		t.Errorf("CanRetake() = %v, %v; want false", ok, err)
	}
	if _, err := f.svc.Start(t.Context(), "u1", "qz"); !errors.Is(err, course.ErrAttemptLimitExceeded) {
		t.Errorf("third Start() error = %v, want ErrAttemptLimitExceeded", err)
	}

	ok, err = f.svc.CanRetake(t.Context(), "u2", "qz")
	if err != nil || !ok {
		t.Errorf("CanRetake(u2) = %v, %v; want true", ok, err)
	}
}

func TestStart_Unlimited(t *testing.T) {
	f := newFixture(t, timed(0, course.Unlimited, 70))
	for i := 1; i <= 5; i++ {
		a := f.start(t, "u1")
		if a.AttemptNumber != i {
			t.Fatalf("AttemptNumber = %d, want %d", a.AttemptNumber, i)
		}
		f.submit(t, "u1", a.ID)
	}
	if ok, _ := f.svc.CanRetake(t.Context(), "u1", "qz"); !ok {
		t.Error("CanRetake() = false, want true for unlimited quiz")
	}
}

func TestStart_OneOpenAttempt(t *testing.T) {
	f := newFixture(t, timed(30*time.Minute, 3, 70))
	first := f.start(t, "u1")

	if _, err := f.svc.Start(t.Context(), "u1", "qz"); !errors.Is(err, course.ErrAttemptInProgress) {
		t.Fatalf("second Start() error = %v, want ErrAttemptInProgress", err)
	}
	active, err := f.svc.ActiveAttempt(t.Context(), "u1", "qz")
	if err != nil || active.ID != first.ID {
		t.Errorf("ActiveAttempt() = %v, %v; want %s", active.ID, err, first.ID)
	}
	if _, err := f.svc.ActiveAttempt(t.Context(), "u2", "qz"); !errors.Is(err, course.ErrNotFound) {
		t.Errorf("ActiveAttempt(u2) error = %v, want ErrNotFound", err)
	}
}

func TestStart_ConcurrentStartsOpenOneAttempt(t *testing.T) {
	f := newFixture(t, timed(30*time.Minute, 10, 70))

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		started   int
		inFlight  int
		unexpects []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Start(context.Background(), "u1", "qz")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case errors.Is(err, course.ErrAttemptInProgress):
				inFlight++
			default:
				unexpects = append(unexpects, err)
			}
		}()
	}
	wg.Wait()

	if started != 1 || inFlight != n-1 || len(unexpects) > 0 {
		t.Fatalf("started=%d inFlight=%d unexpected=%v", started, inFlight, unexpects)
	}
	attempts, err := f.svc.Attempts(t.Context(), "u1", "qz")
	if err != nil || len(attempts) != 1 {
		t.Errorf("Attempts() = %d, %v; want 1", len(attempts), err)
	}
}

func TestSubmit_OnlyOnce(t *testing.T) {
	f := newFixture(t, timed(30*time.Minute, 3, 50))
	a := f.start(t, "u1")
	first, firstRes := f.submit(t, "u1", a.ID, quiz.Answer{QuestionID: "q1", SelectedOptionIDs: []string{"a"}})

	f.clock.Advance(time.Minute)
	_, _, err := f.svc.Submit(t.Context(), "u1", a.ID, []quiz.Answer{{QuestionID: "q2", SelectedOptionIDs: []string{"true"}}})
	if !errors.Is(err, course.ErrInvalidAttemptState) {
		t.Fatalf("second Submit() error = %v, want ErrInvalidAttemptState", err)
	}
	if err := f.svc.RecordAnswers(t.Context(), "u1", a.ID, nil); !errors.Is(err, course.ErrInvalidAttemptState) {
		t.Errorf("RecordAnswers() after submit error = %v, want ErrInvalidAttemptState", err)
	}

	reviewed, res, err := f.svc.Review(t.Context(), "u1", a.ID)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if *reviewed.Score != *first.Score || !reviewed.EndedAt.Equal(*first.EndedAt) {
		t.Errorf("stored attempt changed: %+v", reviewed)
	}
	if res.Percentage != firstRes.Percentage || res.Earned != firstRes.Earned {
		t.Errorf("Review() grade %+v differs from submission %+v", res, firstRes)
	}
}

func TestTimeLimit(t *testing.T) {
	f := newFixture(t, timed(10*time.Minute, 3, 50))
	a := f.start(t, "u1")

	f.clock.Advance(time.Minute)
	if err := f.svc.RecordAnswers(t.Context(), "u1", a.ID, []quiz.Answer{{QuestionID: "q1", SelectedOptionIDs: []string{"a"}}}); err != nil {
		t.Fatalf("RecordAnswers() error = %v", err)
	}

	f.clock.Advance(9 * time.Minute)
	err := f.svc.RecordAnswers(t.Context(), "u1", a.ID, []quiz.Answer{{QuestionID: "q2", SelectedOptionIDs: []string{"true"}}})
	if !errors.Is(err, course.ErrAttemptExpired) || !errors.Is(err, course.ErrInvalidAttemptState) {
		t.Fatalf("RecordAnswers() at deadline error = %v, want ErrAttemptExpired", err)
	}

	f.clock.Advance(5 * time.Minute)
	got, res := f.submit(t, "u1", a.ID,
		quiz.Answer{QuestionID: "q1", SelectedOptionIDs: []string{"a"}},
		quiz.Answer{QuestionID: "q2", SelectedOptionIDs: []string{"true"}},
	)
	if *got.Score != 50 || res.Questions[1].Answered {
		t.Errorf("late submission graded %v with q2 answered=%v; want 50 from recorded answers only", *got.Score, res.Questions[1].Answered)
	}
}

func TestStart_FinalizesAbandonedAttempt(t *testing.T) {
	f := newFixture(t, timed(10*time.Minute, 3, 50))
	a := f.start(t, "u1")
	if err := f.svc.RecordAnswers(t.Context(), "u1", a.ID, []quiz.Answer{{QuestionID: "q1", SelectedOptionIDs: []string{"a"}}}); err != nil {
		t.Fatalf("RecordAnswers() error = %v", err)
	}

	f.clock.Advance(20 * time.Minute)
	if _, err := f.svc.Start(t.Context(), "u1", "qz"); !errors.Is(err, course.ErrAttemptInProgress) {
		t.Fatalf("Start() within grace error = %v, want ErrAttemptInProgress", err)
	}

	f.clock.Advance(25 * time.Minute)
	next := f.start(t, "u1")
	if next.AttemptNumber != 2 {
		t.Errorf("AttemptNumber = %d, want 2", next.AttemptNumber)
	}

	attempts, _ := f.svc.Attempts(t.Context(), "u1", "qz")
	old := attempts[0]
	if old.EndedAt == nil || !old.EndedAt.Equal(a.StartedAt.Add(10*time.Minute)) {
		t.Fatalf("abandoned attempt EndedAt = %v, want its deadline", old.EndedAt)
	}
	if *old.Score != 50 || !old.Passed {
		t.Errorf("abandoned attempt score = %v passed = %v, want 50 passed", *old.Score, old.Passed)
	}
	if len(f.events.OfType(notify.QuizPassed)) != 1 {
		t.Error("finalized passing attempt should emit quiz passed")
	}
}

func TestFinalizeExpired(t *testing.T) {
	f := newFixture(t, timed(10*time.Minute, 3, 50))
	f.start(t, "u1")
	f.clock.Advance(39 * time.Minute)
	fresh := f.start(t, "u2")
	f.clock.Advance(2 * time.Minute)

	n, err := f.svc.FinalizeExpired(t.Context())
	if err != nil {
		t.Fatalf("FinalizeExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("finalized = %d, want 1", n)
	}
	active, err := f.svc.ActiveAttempt(t.Context(), "u2", "qz")
	if err != nil || active.ID != fresh.ID {
		t.Errorf("fresh attempt should stay open: %v, %v", active.ID, err)
	}
	if _, err := f.svc.ActiveAttempt(t.Context(), "u1", "qz"); !errors.Is(err, course.ErrNotFound) {
		t.Errorf("abandoned attempt still open: %v", err)
	}

	if n, _ := f.svc.FinalizeExpired(t.Context()); n != 0 {
		t.Errorf("second FinalizeExpired() = %d, want 0", n)
	}
}

func TestAttempt_Errors(t *testing.T) {
	f := newFixture(t, timed(30*time.Minute, 3, 50))
	a := f.start(t, "u1")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "other learner submits",
			err:  func() error { _, _, err := f.svc.Submit(t.Context(), "u2", a.ID, nil); return err }(),
			want: course.ErrUnauthorized,
		},
		{
			name: "unknown question",
			err:  f.svc.RecordAnswers(t.Context(), "u1", a.ID, []quiz.Answer{{QuestionID: "zz", SelectedOptionIDs: []string{"a"}}}),
			want: course.ErrValidation,
		},
		{
			name: "option from another question",
			err:  f.svc.RecordAnswers(t.Context(), "u1", a.ID, []quiz.Answer{{QuestionID: "q1", SelectedOptionIDs: []string{"true"}}}),
			want: course.ErrValidation,
		},
		{
			name: "unknown attempt",
			err:  f.svc.RecordAnswers(t.Context(), "u1", "missing", nil),
			want: course.ErrNotFound,
		},
		{
			name: "review of open attempt",
			err:  func() error { _, _, err := f.svc.Review(t.Context(), "u1", a.ID); return err }(),
			want: course.ErrInvalidAttemptState,
		},
		{
			name: "unknown quiz",
			err:  func() error { _, err := f.svc.Start(t.Context(), "u1", "nope"); return err }(),
			want: course.ErrNotFound,
		},
		{
			name: "anonymous learner",
			err:  func() error { _, err := f.svc.Start(t.Context(), "", "qz"); return err }(),
			want: course.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}
}

func TestStart_ArchivedQuiz(t *testing.T) {
	f := newFixture(t, course.Quiz{MaxAttempts: 3, PassingScore: 70, Status: course.StatusArchived})
	if _, err := f.svc.Start(t.Context(), "u1", "qz"); !errors.Is(err, course.ErrValidation) {
		t.Errorf("Start() on archived quiz error = %v, want ErrValidation", err)
	}
}

func TestSubmit_RefreshFailureDoesNotFailSubmission(t *testing.T) {
	f := newFixture(t, timed(0, 3, 50))
	f.progress.err = errors.New("cache down")
	a := f.start(t, "u1")
	if _, _, err := f.svc.Submit(t.Context(), "u1", a.ID, nil); err != nil {
		t.Errorf("Submit() error = %v, want nil", err)
	}
}
