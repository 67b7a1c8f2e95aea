package authoring

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/sequence"
)

// Quiz setting defaults applied when an input leaves them unset.
const (
	DefaultTimeLimit    = 30 * time.Minute
	DefaultPassingScore = 70.0
	DefaultMaxAttempts  = 3
)

// QuizInput describes a quiz. Nil settings take the defaults; a zero
// TimeLimit means unlimited time and a zero MaxAttempts unlimited attempts.
type QuizInput struct {
	Name                   string
	TimeLimit              *time.Duration
	PassingScore           *float64
	MaxAttempts            *int
	BlocksLessonCompletion bool
	IsPrerequisite         bool
}

func (in QuizInput) apply(q *course.Quiz) error {
	name, err := cleanName("name", in.Name)
	if err != nil {
		return err
	}
	limit := valueOr(in.TimeLimit, DefaultTimeLimit)
	if limit < 0 {
		return course.Invalid("time_limit", "must not be negative")
	}
	passing := valueOr(in.PassingScore, DefaultPassingScore)
	if err := percentage("passing_score", passing); err != nil {
		return err
	}
	attempts := valueOr(in.MaxAttempts, DefaultMaxAttempts)
	if attempts < 0 {
		return course.Invalid("max_attempts", "must be at least 1, or %d for unlimited", course.Unlimited)
	}

	q.Name = name
	q.TimeLimit = limit
	q.PassingScore = passing
	q.MaxAttempts = attempts
	q.BlocksLessonCompletion = in.BlocksLessonCompletion
	q.IsPrerequisite = in.IsPrerequisite
	return nil
}

// CreateQuiz attaches a new quiz to a lesson.
func (s *Service) CreateQuiz(ctx context.Context, actor Actor, lessonID string, in QuizInput) (course.Quiz, error) {
	var base, out course.Quiz
	if err := in.apply(&base); err != nil {
		return course.Quiz{}, err
	}

	err := s.run(ctx, func(tx course.Tx) error {
		c, _, err := s.lessonScope(ctx, tx, actor, lessonID)
		if err != nil {
			return err
		}
		siblings, err := tx.ListQuizzes(ctx, lessonID)
		if err != nil {
			return err
		}
		if err := uniqueName("name", base.Name, "", quizNames(siblings)); err != nil {
			return err
		}

		now := s.timestamp()
		q := base
		q.ID = course.NewID()
		q.LessonID = lessonID
		q.Status = course.StatusActive
		q.CreatedAt = now
		q.UpdatedAt = now
		if err := tx.SaveQuiz(ctx, q); err != nil {
			return err
		}
		out = q
		return s.touch(ctx, tx, c)
	})
	if err != nil {
		return course.Quiz{}, err
	}

	slog.Info("quiz created", "lesson_id", lessonID, "quiz_id", out.ID)
	return out, nil
}

// UpdateQuiz replaces the settings of a quiz. Finished attempts keep the
// grade they were given.
func (s *Service) UpdateQuiz(ctx context.Context, actor Actor, quizID string, in QuizInput) (course.Quiz, error) {
	var out course.Quiz
	err := s.run(ctx, func(tx course.Tx) error {
		c, q, err := s.quizScope(ctx, tx, actor, quizID)
		if err != nil {
			return err
		}
		if err := in.apply(&q); err != nil {
			return err
		}
		siblings, err := tx.ListQuizzes(ctx, q.LessonID)
		if err != nil {
			return err
		}
		if err := uniqueName("name", q.Name, q.ID, quizNames(siblings)); err != nil {
			return err
		}
		q.UpdatedAt = s.timestamp()
		if err := tx.SaveQuiz(ctx, q); err != nil {
			return err
		}
		out = q
		return s.touch(ctx, tx, c)
	})
	return out, err
}

// OptionInput is one answer option of a question.
type OptionInput struct {
	Text    string
	Correct bool
}

// QuestionInput describes a question to add or the new state of one being edited.
type QuestionInput struct {
	Text        string
	Explanation string
	Type        course.QuestionType
	Points      float64
	Order       int // 0 appends; ignored by UpdateQuestion
	Options     []OptionInput
}

// apply validates the input against its question type and copies it onto q,
// keeping option IDs stable by position.
func (in QuestionInput) apply(q *course.Question) error {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return course.Invalid("text", "is required")
	}
	if in.Points <= 0 {
		return course.Invalid("points", "must be positive, got %g", in.Points)
	}

	correct := 0
	for i, o := range in.Options {
		if strings.TrimSpace(o.Text) == "" {
			return course.Invalid("options", "option %d has no text", i+1)
		}
		if o.Correct {
			correct++
		}
	}
	switch in.Type {
	case course.SingleChoice:
		if len(in.Options) < 2 {
			return course.Invalid("options", "single choice needs at least 2 options, got %d", len(in.Options))
		}
	case course.TrueFalse:
		if len(in.Options) != 2 {
			return course.Invalid("options", "true/false needs exactly 2 options, got %d", len(in.Options))
		}
	default:
		return course.Invalid("type", "unsupported question type %v", in.Type)
	}
	if correct != 1 {
		return course.Invalid("options", "exactly one option must be correct, got %d", correct)
	}

	options := make([]course.AnswerOption, len(in.Options))
	for i, o := range in.Options {
		id := course.NewID()
		if i < len(q.Options) {
			id = q.Options[i].ID
		}
		options[i] = course.AnswerOption{ID: id, Text: strings.TrimSpace(o.Text), Correct: o.Correct}
	}

	q.Text = text
	q.Explanation = strings.TrimSpace(in.Explanation)
	q.Type = in.Type
	q.Points = in.Points
	q.Options = options
	return nil
}

// AddQuestion inserts a question at the requested order of its quiz.
func (s *Service) AddQuestion(ctx context.Context, actor Actor, quizID string, in QuestionInput) (course.Question, error) {
	var base, out course.Question
	if err := in.apply(&base); err != nil {
		return course.Question{}, err
	}

	err := s.run(ctx, func(tx course.Tx) error {
		c, _, err := s.quizScope(ctx, tx, actor, quizID)
		if err != nil {
			return err
		}
		siblings, err := tx.ListQuestions(ctx, quizID)
		if err != nil {
			return err
		}
		items := questionItems(siblings)
		k, changes, err := sequence.Insert(items, insertOrder(in.Order, len(items)))
		if err != nil {
			return err
		}
		if err := tx.SetQuestionOrders(ctx, quizID, sequence.Orders(changes)); err != nil {
			return err
		}

		q := base
		q.ID = course.NewID()
		q.QuizID = quizID
		q.Order = k
		if err := tx.SaveQuestion(ctx, q); err != nil {
			return err
		}
		out = q
		return s.touch(ctx, tx, c)
	})
	return out, err
}

// UpdateQuestion edits a question in place.
func (s *Service) UpdateQuestion(ctx context.Context, actor Actor, questionID string, in QuestionInput) (course.Question, error) {
	var out course.Question
	err := s.run(ctx, func(tx course.Tx) error {
		q, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		c, _, err := s.quizScope(ctx, tx, actor, q.QuizID)
		if err != nil {
			return err
		}
		if err := in.apply(&q); err != nil {
			return err
		}
		if err := tx.SaveQuestion(ctx, q); err != nil {
			return err
		}
		out = q
		return s.touch(ctx, tx, c)
	})
	return out, err
}

// MoveQuestion rotates a question from one order to another within its quiz.
func (s *Service) MoveQuestion(ctx context.Context, actor Actor, questionID string, from, to int) error {
	return s.run(ctx, func(tx course.Tx) error {
		q, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		c, _, err := s.quizScope(ctx, tx, actor, q.QuizID)
		if err != nil {
			return err
		}
		siblings, err := tx.ListQuestions(ctx, q.QuizID)
		if err != nil {
			return err
		}
		changes, err := sequence.Move(questionItems(siblings), questionID, from, to)
		if err != nil || len(changes) == 0 {
			return err
		}
		if err := tx.SetQuestionOrders(ctx, q.QuizID, sequence.Orders(changes)); err != nil {
			return err
		}
		return s.touch(ctx, tx, c)
	})
}

// RemoveQuestion deletes a question and closes the gap it leaves. Answers
// already recorded against it stay with their attempts.
func (s *Service) RemoveQuestion(ctx context.Context, actor Actor, questionID string) error {
	return s.run(ctx, func(tx course.Tx) error {
		q, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		c, _, err := s.quizScope(ctx, tx, actor, q.QuizID)
		if err != nil {
			return err
		}
		siblings, err := tx.ListQuestions(ctx, q.QuizID)
		if err != nil {
			return err
		}
		changes, err := sequence.Remove(questionItems(siblings), questionID)
		if err != nil {
			return err
		}
		if err := tx.DeleteQuestion(ctx, questionID); err != nil {
			return err
		}
		if err := tx.SetQuestionOrders(ctx, q.QuizID, sequence.Orders(changes)); err != nil {
			return err
		}
		return s.touch(ctx, tx, c)
	})
}

func quizNames(qs []course.Quiz) map[string]string {
	m := make(map[string]string, len(qs))
	for _, q := range qs {
		m[q.ID] = q.Name
	}
	return m
}
