package course_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/pai-courses/internal/course"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// seedTree writes a course with two chapters, three lessons, one quiz and one question.
func seedTree(t *testing.T, store course.Store) {
	t.Helper()
	err := store.InTx(t.Context(), func(tx course.Tx) error {
		ctx := t.Context()
		steps := []func() error{
			func() error {
				return tx.SaveCourse(ctx, course.Course{ID: "c1", AuthorID: "a1", Title: "Go", Status: course.CourseActive, CreatedAt: t0, UpdatedAt: t0})
			},
			func() error {
				return tx.SaveChapter(ctx, course.Chapter{ID: "ch1", CourseID: "c1", Name: "Basics", Order: 1, Status: course.StatusActive, CreatedAt: t0, UpdatedAt: t0})
			},
			func() error {
				return tx.SaveChapter(ctx, course.Chapter{ID: "ch2", CourseID: "c1", Name: "Types", Order: 2, Status: course.StatusActive, CreatedAt: t0, UpdatedAt: t0})
			},
			func() error {
				return tx.SaveLesson(ctx, course.Lesson{ID: "l1", ChapterID: "ch1", Name: "Hello", Order: 1, Mandatory: true, Status: course.StatusActive, CreatedAt: t0, UpdatedAt: t0})
			},
			func() error {
				return tx.SaveLesson(ctx, course.Lesson{ID: "l2", ChapterID: "ch1", Name: "Vars", Order: 2, UnlockAfter: "l1", MinTimeSpent: 90 * time.Second, Status: course.StatusActive, CreatedAt: t0, UpdatedAt: t0})
			},
			func() error {
				return tx.SaveLesson(ctx, course.Lesson{ID: "l3", ChapterID: "ch2", Name: "Structs", Order: 1, Status: course.StatusActive, CreatedAt: t0, UpdatedAt: t0})
			},
			func() error {
				return tx.SaveQuiz(ctx, course.Quiz{ID: "q1", LessonID: "l1", Name: "Check", TimeLimit: 10 * time.Minute, PassingScore: 70, MaxAttempts: 3, Status: course.StatusActive, CreatedAt: t0, UpdatedAt: t0})
			},
			func() error {
				return tx.SaveQuestion(ctx, course.Question{ID: "qq1", QuizID: "q1", Text: "2+2?", Type: course.SingleChoice, Points: 1, Order: 1,
					Options: []course.AnswerOption{{ID: "o1", Text: "4", Correct: true}, {ID: "o2", Text: "5"}}})
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
}

// runStoreContract exercises behavior every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) course.Store) {
	t.Run("course lessons in course order", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		_ = store.InTx(t.Context(), func(tx course.Tx) error {
			lessons, err := tx.ListCourseLessons(t.Context(), "c1")
			if err != nil {
				t.Fatalf("ListCourseLessons() error = %v", err)
			}
			var ids []string
			for _, l := range lessons {
				ids = append(ids, l.ID)
			}
			if len(ids) != 3 || ids[0] != "l1" || ids[1] != "l2" || ids[2] != "l3" {
				t.Errorf("lesson order = %v, want [l1 l2 l3]", ids)
			}
			if lessons[1].MinTimeSpent != 90*time.Second {
				t.Errorf("MinTimeSpent = %v, want 1m30s", lessons[1].MinTimeSpent)
			}
			if lessons[1].UnlockAfter != "l1" {
				t.Errorf("UnlockAfter = %q, want l1", lessons[1].UnlockAfter)
			}
			return nil
		})
	})

	t.Run("failed transaction leaves no trace", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		boom := errors.New("boom")
		err := store.InTx(t.Context(), func(tx course.Tx) error {
			if err := tx.SetLessonOrders(t.Context(), "ch1", map[string]int{"l1": 2, "l2": 1}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v, want boom", err)
		}

		_ = store.InTx(t.Context(), func(tx course.Tx) error {
			l1, err := tx.GetLesson(t.Context(), "l1")
			if err != nil {
				t.Fatalf("GetLesson() error = %v", err)
			}
			if l1.Order != 1 {
				t.Errorf("l1.Order = %d after rollback, want 1", l1.Order)
			}
			return nil
		})
	})

	t.Run("swap positions inside one transaction", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		err := store.InTx(t.Context(), func(tx course.Tx) error {
			return tx.SetChapterOrders(t.Context(), "c1", map[string]int{"ch1": 2, "ch2": 1})
		})
		if err != nil {
			t.Fatalf("SetChapterOrders() error = %v", err)
		}
		_ = store.InTx(t.Context(), func(tx course.Tx) error {
			chapters, _ := tx.ListChapters(t.Context(), "c1")
			if len(chapters) != 2 || chapters[0].ID != "ch2" {
				t.Errorf("chapters = %+v, want ch2 first", chapters)
			}
			return nil
		})
	})

	t.Run("duplicate position is a conflict", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		err := store.InTx(t.Context(), func(tx course.Tx) error {
			return tx.SetLessonOrders(t.Context(), "ch1", map[string]int{"l2": 1})
		})
		if !errors.Is(err, course.ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}
	})

	t.Run("archived sibling keeps its position", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		err := store.InTx(t.Context(), func(tx course.Tx) error {
			l2, err := tx.GetLesson(t.Context(), "l2")
			if err != nil {
				return err
			}
			l2.Status = course.StatusArchived
			return tx.SaveLesson(t.Context(), l2)
		})
		if err != nil {
			t.Fatalf("archive l2: %v", err)
		}
		err = store.InTx(t.Context(), func(tx course.Tx) error {
			return tx.SetLessonOrders(t.Context(), "ch1", map[string]int{"l1": 2})
		})
		if !errors.Is(err, course.ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}
	})

	t.Run("one open attempt per user and quiz", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		create := func(id string, n int) error {
			return store.InTx(t.Context(), func(tx course.Tx) error {
				return tx.CreateAttempt(t.Context(), course.QuizAttempt{ID: id, UserID: "u1", QuizID: "q1", AttemptNumber: n, StartedAt: t0})
			})
		}
		if err := create("a1", 1); err != nil {
			t.Fatalf("CreateAttempt() error = %v", err)
		}
		if err := create("a2", 2); !errors.Is(err, course.ErrAttemptInProgress) {
			t.Fatalf("second CreateAttempt() error = %v, want ErrAttemptInProgress", err)
		}

		end := t0.Add(time.Minute)
		score := 100.0
		finish := func() error {
			return store.InTx(t.Context(), func(tx course.Tx) error {
				return tx.FinishAttempt(t.Context(), course.QuizAttempt{ID: "a1", EndedAt: &end, Score: &score, EarnedPoints: 1, PossiblePoints: 1, Passed: true})
			})
		}
		if err := finish(); err != nil {
			t.Fatalf("FinishAttempt() error = %v", err)
		}
		if err := finish(); !errors.Is(err, course.ErrInvalidAttemptState) {
			t.Errorf("second FinishAttempt() error = %v, want ErrInvalidAttemptState", err)
		}
		if err := create("a2", 2); err != nil {
			t.Errorf("CreateAttempt() after finish error = %v", err)
		}
	})

	t.Run("answers upsert by question", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		err := store.InTx(t.Context(), func(tx course.Tx) error {
			ctx := t.Context()
			if err := tx.CreateAttempt(ctx, course.QuizAttempt{ID: "a1", UserID: "u1", QuizID: "q1", AttemptNumber: 1, StartedAt: t0}); err != nil {
				return err
			}
			if err := tx.SaveAnswers(ctx, "a1", []course.UserAnswer{{QuestionID: "qq1", SelectedOptionIDs: []string{"o2"}, RecordedAt: t0}}); err != nil {
				return err
			}
			return tx.SaveAnswers(ctx, "a1", []course.UserAnswer{{QuestionID: "qq1", SelectedOptionIDs: []string{"o1"}, RecordedAt: t0.Add(time.Second)}})
		})
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}
		_ = store.InTx(t.Context(), func(tx course.Tx) error {
			a, err := tx.GetAttempt(t.Context(), "a1")
			if err != nil {
				t.Fatalf("GetAttempt() error = %v", err)
			}
			if len(a.Answers) != 1 || a.Answers[0].SelectedOptionIDs[0] != "o1" {
				t.Errorf("answers = %+v, want single answer o1", a.Answers)
			}
			if a.State() != course.AttemptInProgress {
				t.Errorf("State() = %q, want in_progress", a.State())
			}
			return nil
		})
	})

	t.Run("learner records are counted", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		err := store.InTx(t.Context(), func(tx course.Tx) error {
			ctx := t.Context()
			if err := tx.SaveProgress(ctx, course.UserProgress{UserID: "u1", LessonID: "l1", FirstAccessedAt: t0, LastAccessedAt: t0, AccessCount: 1}); err != nil {
				return err
			}
			return tx.CreateAttempt(ctx, course.QuizAttempt{ID: "a1", UserID: "u2", QuizID: "q1", AttemptNumber: 1, StartedAt: t0})
		})
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}
		_ = store.InTx(t.Context(), func(tx course.Tx) error {
			n, err := tx.CountLearnerRecords(t.Context(), []string{"l1", "l2"}, []string{"q1"})
			if err != nil {
				t.Fatalf("CountLearnerRecords() error = %v", err)
			}
			if n != 2 {
				t.Errorf("CountLearnerRecords() = %d, want 2", n)
			}
			n, _ = tx.CountLearnerRecords(t.Context(), []string{"l3"}, nil)
			if n != 0 {
				t.Errorf("CountLearnerRecords(l3) = %d, want 0", n)
			}
			return nil
		})
	})

	t.Run("delete chapter cascades to lessons and quizzes", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		if err := store.InTx(t.Context(), func(tx course.Tx) error {
			return tx.DeleteChapter(t.Context(), "ch1")
		}); err != nil {
			t.Fatalf("DeleteChapter() error = %v", err)
		}
		_ = store.InTx(t.Context(), func(tx course.Tx) error {
			if _, err := tx.GetLesson(t.Context(), "l2"); !errors.Is(err, course.ErrNotFound) {
				t.Errorf("GetLesson() error = %v, want ErrNotFound", err)
			}
			if _, err := tx.GetQuestion(t.Context(), "qq1"); !errors.Is(err, course.ErrNotFound) {
				t.Errorf("GetQuestion() error = %v, want ErrNotFound", err)
			}
			return nil
		})
	})

	t.Run("enrollment and certificate", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		issued := t0.Add(time.Hour)
		err := store.InTx(t.Context(), func(tx course.Tx) error {
			ctx := t.Context()
			if err := tx.SaveEnrollment(ctx, course.Enrollment{ID: "e1", UserID: "u1", CourseID: "c1", EnrolledAt: t0, UpdatedAt: t0}); err != nil {
				return err
			}
			if err := tx.SaveEnrollment(ctx, course.Enrollment{ID: "e1", UserID: "u1", CourseID: "c1", ProgressPercentage: 100, CertificateIssuedAt: &issued, EnrolledAt: t0, UpdatedAt: issued}); err != nil {
				return err
			}
			return tx.SaveCertificate(ctx, course.Certificate{ID: "cert1", EnrollmentID: "e1", UserID: "u1", CourseID: "c1", Code: "ABCD1234", FinalScore: 90, IssuedAt: issued})
		})
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}

		err = store.InTx(t.Context(), func(tx course.Tx) error {
			return tx.SaveCertificate(t.Context(), course.Certificate{ID: "cert2", EnrollmentID: "e1", UserID: "u1", CourseID: "c1", Code: "ZZZZ9999", IssuedAt: issued})
		})
		if !errors.Is(err, course.ErrConflict) {
			t.Errorf("second certificate error = %v, want ErrConflict", err)
		}

		_ = store.InTx(t.Context(), func(tx course.Tx) error {
			e, err := tx.GetEnrollment(t.Context(), "u1", "c1")
			if err != nil {
				t.Fatalf("GetEnrollment() error = %v", err)
			}
			if e.ProgressPercentage != 100 || e.CertificateIssuedAt == nil {
				t.Errorf("enrollment = %+v, want 100%% with certificate", e)
			}
			return nil
		})
	})

	t.Run("enrollment version is never lowered", func(t *testing.T) {
		store := newStore(t)
		seedTree(t, store)

		save := func(version int64, current string) {
			t.Helper()
			err := store.InTx(t.Context(), func(tx course.Tx) error {
				return tx.SaveEnrollment(t.Context(), course.Enrollment{
					ID: "e1", UserID: "u1", CourseID: "c1", CurrentLessonID: current,
					EnrolledAt: t0, UpdatedAt: t0, Version: version,
				})
			})
			if err != nil {
				t.Fatalf("SaveEnrollment(version %d) error = %v", version, err)
			}
		}
		save(3, "l1")
		save(1, "l2")

		_ = store.InTx(t.Context(), func(tx course.Tx) error {
			e, err := tx.GetEnrollment(t.Context(), "u1", "c1")
			if err != nil {
				t.Fatalf("GetEnrollment() error = %v", err)
			}
			if e.Version != 3 || e.CurrentLessonID != "l2" {
				t.Errorf("enrollment = version %d at %q, want version 3 at l2", e.Version, e.CurrentLessonID)
			}
			return nil
		})
	})

	t.Run("missing records", func(t *testing.T) {
		store := newStore(t)
		_ = store.InTx(t.Context(), func(tx course.Tx) error {
			ctx := t.Context()
			if _, err := tx.GetCourse(ctx, "nope"); !errors.Is(err, course.ErrNotFound) {
				t.Errorf("GetCourse() error = %v, want ErrNotFound", err)
			}
			if _, err := tx.GetAttempt(ctx, "nope"); !errors.Is(err, course.ErrNotFound) {
				t.Errorf("GetAttempt() error = %v, want ErrNotFound", err)
			}
			if _, err := tx.GetProgress(ctx, "u1", "nope"); !errors.Is(err, course.ErrNotFound) {
				t.Errorf("GetProgress() error = %v, want ErrNotFound", err)
			}
			return nil
		})
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) course.Store { return course.NewMemoryStore() })
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := course.NewMemoryStore()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	called := false
	err := store.InTx(ctx, func(tx course.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("InTx() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn should not run on a canceled context")
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := course.NewMemoryStore()
	seedTree(t, store)

	_ = store.InTx(t.Context(), func(tx course.Tx) error {
		q, _ := tx.GetQuestion(t.Context(), "qq1")
		q.Options[0].Correct = false
		return nil
	})
	_ = store.InTx(t.Context(), func(tx course.Tx) error {
		q, _ := tx.GetQuestion(t.Context(), "qq1")
		if !q.Options[0].Correct {
			t.Error("mutating a returned question changed the stored one")
		}
		return nil
	})
}
