package quiz

import (
	"context"

	"github.com/p-n-ai/pai-courses/internal/course"
)

// Stats summarizes the attempts made on a quiz.
type Stats struct {
	QuizID            string  `json:"quiz_id"`
	QuestionCount     int     `json:"question_count"`
	TotalAttempts     int     `json:"total_attempts"`
	CompletedAttempts int     `json:"completed_attempts"`
	PassedAttempts    int     `json:"passed_attempts"`
	Learners          int     `json:"learners"`
	PassRate          float64 `json:"pass_rate"`     // percent of completed attempts
	AverageScore      float64 `json:"average_score"` // over completed attempts
}

// Statistics aggregates every attempt on a quiz.
func (s *Service) Statistics(ctx context.Context, quizID string) (Stats, error) {
	st := Stats{QuizID: quizID}
	err := s.run(ctx, func(tx course.Tx) error {
		if _, err := tx.GetQuiz(ctx, quizID); err != nil {
			return err
		}
		questions, err := tx.ListQuestions(ctx, quizID)
		if err != nil {
			return err
		}
		attempts, err := tx.ListQuizAttempts(ctx, quizID)
		if err != nil {
			return err
		}
		st = summarize(quizID, len(questions), attempts)
		return nil
	})
	return st, err
}

func summarize(quizID string, questions int, attempts []course.QuizAttempt) Stats {
	st := Stats{QuizID: quizID, QuestionCount: questions, TotalAttempts: len(attempts)}
	learners := map[string]struct{}{}
	var total float64
	for _, a := range attempts {
		learners[a.UserID] = struct{}{}
		if a.EndedAt == nil || a.Score == nil {
			continue
		}
		st.CompletedAttempts++
		total += *a.Score
		if a.Passed {
			st.PassedAttempts++
		}
	}
	st.Learners = len(learners)
	if st.CompletedAttempts > 0 {
		n := float64(st.CompletedAttempts)
		st.PassRate = round2(float64(st.PassedAttempts) / n * 100)
		st.AverageScore = round2(total / n)
	}
	return st
}
