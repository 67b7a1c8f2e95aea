// Package quiz runs learners through quiz attempts: eligibility, start, answer
// recording, time-limit enforcement, submission and grading.
package quiz

import (
	"math"
	"slices"
	"time"

	"github.com/p-n-ai/pai-courses/internal/course"
)

// QuestionResult is the grade of one question.
type QuestionResult struct {
	QuestionID string   `json:"question_id"`
	Points     float64  `json:"points"`
	Earned     float64  `json:"earned"`
	Answered   bool     `json:"answered"`
	Correct    bool     `json:"correct"`
	Selected   []string `json:"selected,omitempty"`
}

// Result is the grade of a whole attempt.
type Result struct {
	Earned     float64          `json:"earned"`
	Possible   float64          `json:"possible"`
	Percentage float64          `json:"percentage"`
	Passed     bool             `json:"passed"`
	Questions  []QuestionResult `json:"questions"`
}

// Score grades answers against the quiz's questions. When a question was
// answered more than once the last answer counts; answers to questions outside
// the quiz are ignored. Score does not modify its arguments.
func Score(q course.Quiz, questions []course.Question, answers []course.UserAnswer) Result {
	latest := make(map[string][]string, len(answers))
	for _, a := range answers {
		latest[a.QuestionID] = a.SelectedOptionIDs
	}

	res := Result{Questions: make([]QuestionResult, 0, len(questions))}
	for _, qq := range questions {
		qr := QuestionResult{QuestionID: qq.ID, Points: qq.Points}
		selected, ok := latest[qq.ID]
		if ok && len(selected) > 0 {
			qr.Answered = true
			qr.Selected = slices.Clone(selected)
			qr.Correct = isCorrect(qq, selected)
		}
		if qr.Correct {
			qr.Earned = qq.Points
		}
		res.Earned += qr.Earned
		res.Possible += qq.Points
		res.Questions = append(res.Questions, qr)
	}

	if res.Possible > 0 {
		res.Percentage = round2(res.Earned / res.Possible * 100)
	}
	res.Passed = res.Percentage >= q.PassingScore
	return res
}

func isCorrect(q course.Question, selected []string) bool {
	switch q.Type {
	case course.SingleChoice, course.TrueFalse:
		return sameSet(selected, q.CorrectOptions())
	}
	return false
}

// sameSet reports whether a and b hold the same IDs, ignoring order and duplicates.
func sameSet(a, b []string) bool {
	x, y := dedupe(a), dedupe(b)
	return slices.Equal(x, y)
}

func dedupe(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// gradable returns the answers that count toward a grade: for timed quizzes
// only those recorded before the deadline.
func gradable(q course.Quiz, a course.QuizAttempt) []course.UserAnswer {
	deadline, timed := q.Deadline(a.StartedAt)
	if !timed {
		return a.Answers
	}
	out := make([]course.UserAnswer, 0, len(a.Answers))
	for _, ans := range a.Answers {
		if ans.RecordedAt.Before(deadline) {
			out = append(out, ans)
		}
	}
	return out
}

// grade closes the attempt at endedAt and stores its grade on it.
func grade(q course.Quiz, questions []course.Question, a course.QuizAttempt, endedAt time.Time) (course.QuizAttempt, Result) {
	res := Score(q, questions, gradable(q, a))
	score := res.Percentage
	a.EndedAt = &endedAt
	a.Score = &score
	a.EarnedPoints = res.Earned
	a.PossiblePoints = res.Possible
	a.Passed = res.Passed
	return a, res
}
