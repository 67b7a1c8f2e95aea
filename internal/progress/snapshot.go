package progress

import (
	"context"
	"errors"
	"math"

	"github.com/p-n-ai/pai-courses/internal/course"
)

// snapshot is everything needed to derive one learner's progress through one
// course, read in a single transaction.
type snapshot struct {
	course   course.Course
	chapters []course.Chapter
	lessons  []course.Lesson // course order
	quizzes  map[string][]course.Quiz
	progress map[string]course.UserProgress
	best     map[string]float64 // best passing score per quiz
	version  int64              // enrollment version the records were read at
}

func load(ctx context.Context, tx course.Tx, userID, courseID string) (*snapshot, error) {
	c, err := tx.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	chapters, err := tx.ListChapters(ctx, courseID)
	if err != nil {
		return nil, err
	}
	lessons, err := tx.ListCourseLessons(ctx, courseID)
	if err != nil {
		return nil, err
	}
	quizzes, err := tx.ListCourseQuizzes(ctx, courseID)
	if err != nil {
		return nil, err
	}

	s := &snapshot{
		course:   c,
		chapters: chapters,
		lessons:  lessons,
		quizzes:  make(map[string][]course.Quiz),
		progress: make(map[string]course.UserProgress),
		best:     make(map[string]float64),
	}
	quizIDs := make([]string, 0, len(quizzes))
	for _, q := range quizzes {
		s.quizzes[q.LessonID] = append(s.quizzes[q.LessonID], q)
		quizIDs = append(quizIDs, q.ID)
	}
	lessonIDs := make([]string, 0, len(lessons))
	for _, l := range lessons {
		lessonIDs = append(lessonIDs, l.ID)
	}

	if userID == "" {
		return s, nil
	}
	// The enrollment is read before the records so that a snapshot never
	// carries a version newer than its records.
	e, err := tx.GetEnrollment(ctx, userID, courseID)
	switch {
	case err == nil:
		s.version = e.Version
	case !errors.Is(err, course.ErrNotFound):
		return nil, err
	}
	records, err := tx.ListProgress(ctx, userID, lessonIDs)
	if err != nil {
		return nil, err
	}
	for _, p := range records {
		s.progress[p.LessonID] = p
	}
	attempts, err := tx.ListUserAttempts(ctx, userID, quizIDs)
	if err != nil {
		return nil, err
	}
	for _, a := range attempts {
		if !a.Passed || a.Score == nil {
			continue
		}
		if prev, ok := s.best[a.QuizID]; !ok || *a.Score > prev {
			s.best[a.QuizID] = *a.Score
		}
	}
	return s, nil
}

func (s *snapshot) chapter(id string) (course.Chapter, bool) {
	for _, ch := range s.chapters {
		if ch.ID == id {
			return ch, true
		}
	}
	return course.Chapter{}, false
}

// active reports whether a lesson counts toward progress: it and its chapter
// are both active.
func (s *snapshot) active(l course.Lesson) bool {
	if l.Status != course.StatusActive {
		return false
	}
	ch, ok := s.chapter(l.ChapterID)
	return ok && ch.Status == course.StatusActive
}

func (s *snapshot) activeLessons() []course.Lesson {
	var out []course.Lesson
	for _, l := range s.lessons {
		if s.active(l) {
			out = append(out, l)
		}
	}
	return out
}

func (s *snapshot) chapterLessons(chapterID string) []course.Lesson {
	var out []course.Lesson
	for _, l := range s.lessons {
		if l.ChapterID == chapterID && l.Status == course.StatusActive {
			out = append(out, l)
		}
	}
	return out
}

func (s *snapshot) activeQuizzes(lessonID string) []course.Quiz {
	var out []course.Quiz
	for _, q := range s.quizzes[lessonID] {
		if q.Status == course.StatusActive {
			out = append(out, q)
		}
	}
	return out
}

// gateQuizzes returns the quizzes a lesson's completion waits on. Quizzes
// marked as blocking gate the lesson on their own; a lesson that requires a
// quiz pass without any blocking quiz is gated by all of its quizzes.
func (s *snapshot) gateQuizzes(l course.Lesson) []course.Quiz {
	quizzes := s.activeQuizzes(l.ID)
	var blocking []course.Quiz
	for _, q := range quizzes {
		if q.BlocksLessonCompletion {
			blocking = append(blocking, q)
		}
	}
	if len(blocking) > 0 {
		return blocking
	}
	if l.RequiresQuizPass {
		return quizzes
	}
	return nil
}

// passed reports whether the learner has a passing attempt on q scoring at
// least min.
func (s *snapshot) passed(q course.Quiz, min float64) bool {
	best, ok := s.best[q.ID]
	return ok && best >= min
}

// completed is effective lesson completion: the progress flag plus a passing
// attempt on every gating quiz, judged by the quiz's own passing score.
func (s *snapshot) completed(l course.Lesson) bool {
	if !s.progress[l.ID].Completed {
		return false
	}
	for _, q := range s.gateQuizzes(l) {
		if !s.passed(q, q.PassingScore) {
			return false
		}
	}
	return true
}

func (s *snapshot) lessonPercentage(l course.Lesson) float64 {
	if s.completed(l) {
		return 100
	}
	return 0
}

// ChapterProgress is one chapter's share of a course summary.
type ChapterProgress struct {
	ChapterID  string  `json:"chapter_id"`
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

func (s *snapshot) chapterProgress(ch course.Chapter) ChapterProgress {
	cp := ChapterProgress{ChapterID: ch.ID}
	for _, l := range s.chapterLessons(ch.ID) {
		cp.Total++
		if s.completed(l) {
			cp.Completed++
		}
	}
	cp.Percentage = percent(cp.Completed, cp.Total)
	return cp
}

// Summary is one learner's derived progress through a course.
type Summary struct {
	UserID              string            `json:"user_id"`
	CourseID            string            `json:"course_id"`
	Revision            int64             `json:"revision"`
	Version             int64             `json:"version"`
	CompletedLessons    int               `json:"completed_lessons"`
	TotalLessons        int               `json:"total_lessons"`
	Percentage          float64           `json:"percentage"`
	Chapters            []ChapterProgress `json:"chapters"`
	CertificateEligible bool              `json:"certificate_eligible"`
}

func (s *snapshot) summary(userID string) Summary {
	sum := Summary{UserID: userID, CourseID: s.course.ID, Revision: s.course.Revision, Version: s.version}
	for _, ch := range s.chapters {
		if ch.Status != course.StatusActive {
			continue
		}
		cp := s.chapterProgress(ch)
		sum.CompletedLessons += cp.Completed
		sum.TotalLessons += cp.Total
		sum.Chapters = append(sum.Chapters, cp)
	}
	sum.Percentage = percent(sum.CompletedLessons, sum.TotalLessons)
	sum.CertificateEligible = s.eligible(sum.Percentage)
	return sum
}

// eligible reports whether a course at pct earns a certificate. Courses that
// require quizzes also need a passing attempt on every quiz of every
// mandatory lesson.
func (s *snapshot) eligible(pct float64) bool {
	if pct < 100 {
		return false
	}
	if !s.course.RequireQuizzesForCertificate {
		return true
	}
	for _, l := range s.activeLessons() {
		if !l.Mandatory {
			continue
		}
		for _, q := range s.activeQuizzes(l.ID) {
			if !s.passed(q, q.PassingScore) {
				return false
			}
		}
	}
	return true
}

// finalScore averages the best passing scores over the course's active
// quizzes. A course without quizzes scores its completion percentage.
func (s *snapshot) finalScore(pct float64) float64 {
	var total float64
	n := 0
	for _, l := range s.activeLessons() {
		for _, q := range s.activeQuizzes(l.ID) {
			total += s.best[q.ID]
			n++
		}
	}
	if n == 0 {
		return pct
	}
	return round2(total / float64(n))
}

func percent(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(done) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
