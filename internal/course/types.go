// Package course holds the course, assessment and learner records shared by the
// progression engine, together with the storage contracts they are persisted through.
package course

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CourseStatus is the publication state of a course.
type CourseStatus string

const (
	CourseDraft    CourseStatus = "draft"
	CourseActive   CourseStatus = "active"
	CourseArchived CourseStatus = "archived"
)

// ItemStatus is the lifecycle state of a chapter, lesson or quiz.
type ItemStatus string

const (
	StatusActive   ItemStatus = "active"
	StatusArchived ItemStatus = "archived"
)

// Unlimited is the MaxAttempts sentinel for quizzes without an attempt bound.
const Unlimited = 0

// Course is the root of the content tree.
type Course struct {
	ID                           string       `json:"id"`
	AuthorID                     string       `json:"author_id"`
	Title                        string       `json:"title"`
	Status                       CourseStatus `json:"status"`
	EnforceSequentialAccess      bool         `json:"enforce_sequential_access"`
	RequireQuizzesForCertificate bool         `json:"require_quizzes_for_certificate"`
	Revision                     int64        `json:"revision"` // bumped by every authoring write
	CreatedAt                    time.Time    `json:"created_at"`
	UpdatedAt                    time.Time    `json:"updated_at"`
}

// Chapter is an ordered section of a course.
type Chapter struct {
	ID          string     `json:"id"`
	CourseID    string     `json:"course_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Order       int        `json:"order"`
	UnlockAfter string     `json:"unlock_after,omitempty"`
	Locked      bool       `json:"locked"`
	Status      ItemStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Lesson is an ordered unit of content within a chapter.
type Lesson struct {
	ID                      string        `json:"id"`
	ChapterID               string        `json:"chapter_id"`
	Name                    string        `json:"name"`
	Content                 string        `json:"content,omitempty"`
	Order                   int           `json:"order"`
	UnlockAfter             string        `json:"unlock_after,omitempty"`
	Locked                  bool          `json:"locked"`
	Mandatory               bool          `json:"mandatory"`
	RequiresQuizPass        bool          `json:"requires_quiz_pass"`
	MinTimeSpent            time.Duration `json:"min_time_spent"`
	MinQuizScore            float64       `json:"min_quiz_score"`
	MinCompletionPercentage float64       `json:"min_completion_percentage"`
	Status                  ItemStatus    `json:"status"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// Quiz is an assessment attached to a lesson.
type Quiz struct {
	ID                     string        `json:"id"`
	LessonID               string        `json:"lesson_id"`
	Name                   string        `json:"name"`
	TimeLimit              time.Duration `json:"time_limit"` // zero means unlimited
	PassingScore           float64       `json:"passing_score"`
	MaxAttempts            int           `json:"max_attempts"` // Unlimited or >= 1
	BlocksLessonCompletion bool          `json:"blocks_lesson_completion"`
	IsPrerequisite         bool          `json:"is_prerequisite"`
	Status                 ItemStatus    `json:"status"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// Deadline returns the instant after which no answers are accepted.
// The second result is false for quizzes without a time limit.
func (q Quiz) Deadline(startedAt time.Time) (time.Time, bool) {
	if q.TimeLimit <= 0 {
		return time.Time{}, false
	}
	return startedAt.Add(q.TimeLimit), true
}

// QuestionType is the closed set of gradable question kinds.
type QuestionType int

const (
	SingleChoice QuestionType = iota + 1
	TrueFalse
)

func (t QuestionType) String() string {
	switch t {
	case SingleChoice:
		return "single_choice"
	case TrueFalse:
		return "true_false"
	}
	return fmt.Sprintf("QuestionType(%d)", int(t))
}

// ParseQuestionType maps a stored or imported type name to a QuestionType.
func ParseQuestionType(s string) (QuestionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single_choice", "multiple_choice", "single":
		return SingleChoice, nil
	case "true_false", "truefalse", "boolean":
		return TrueFalse, nil
	}
	return 0, &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported question type %q", s)}
}

// Question is an ordered, scored item of a quiz.
type Question struct {
	ID          string         `json:"id"`
	QuizID      string         `json:"quiz_id"`
	Text        string         `json:"text"`
	Explanation string         `json:"explanation,omitempty"`
	Type        QuestionType   `json:"type"`
	Points      float64        `json:"points"`
	Order       int            `json:"order"`
	Options     []AnswerOption `json:"options"`
}

// CorrectOptions returns the IDs of the options marked correct.
func (q Question) CorrectOptions() []string {
	var ids []string
	for _, o := range q.Options {
		if o.Correct {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// AnswerOption is one selectable answer; its order is its position in Question.Options.
type AnswerOption struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// AttemptState is the position of an attempt in its lifecycle.
type AttemptState string

const (
	AttemptNotStarted AttemptState = "not_started"
	AttemptInProgress AttemptState = "in_progress"
	AttemptSubmitted  AttemptState = "submitted"
)

// QuizAttempt is one learner's timed run through a quiz.
type QuizAttempt struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	QuizID         string       `json:"quiz_id"`
	AttemptNumber  int          `json:"attempt_number"`
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        *time.Time   `json:"ended_at,omitempty"`
	Answers        []UserAnswer `json:"answers"`
	Score          *float64     `json:"score,omitempty"` // percentage, nil until graded
	EarnedPoints   float64      `json:"earned_points"`
	PossiblePoints float64      `json:"possible_points"`
	Passed         bool         `json:"passed"`
}

// State reports whether the attempt is still open.
func (a QuizAttempt) State() AttemptState {
	if a.EndedAt == nil {
		return AttemptInProgress
	}
	return AttemptSubmitted
}

// TimeSpent is the wall time between start and submission.
func (a QuizAttempt) TimeSpent() time.Duration {
	if a.EndedAt == nil {
		return 0
	}
	return a.EndedAt.Sub(a.StartedAt)
}

// UserAnswer is the learner's selection for one question.
type UserAnswer struct {
	QuestionID        string    `json:"question_id"`
	SelectedOptionIDs []string  `json:"selected_option_ids"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// UserProgress tracks one learner's access to one lesson.
type UserProgress struct {
	UserID          string        `json:"user_id"`
	LessonID        string        `json:"lesson_id"`
	FirstAccessedAt time.Time     `json:"first_accessed_at"`
	LastAccessedAt  time.Time     `json:"last_accessed_at"`
	AccessCount     int           `json:"access_count"`
	TimeSpent       time.Duration `json:"time_spent"`
	Completed       bool          `json:"completed"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// Enrollment links a learner to a course. ProgressPercentage mirrors the last
// computed aggregate and is never the source of truth.
type Enrollment struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	CourseID            string     `json:"course_id"`
	ProgressPercentage  float64    `json:"progress_percentage"`
	CurrentLessonID     string     `json:"current_lesson_id,omitempty"`
	CertificateIssuedAt *time.Time `json:"certificate_issued_at,omitempty"`
	EnrolledAt          time.Time  `json:"enrolled_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Version             int64      `json:"version"` // bumped by every progress refresh, never lowered
}

// Certificate records a course completion award.
type Certificate struct {
	ID           string    `json:"id"`
	EnrollmentID string    `json:"enrollment_id"`
	UserID       string    `json:"user_id"`
	CourseID     string    `json:"course_id"`
	Code         string    `json:"code"`
	FinalScore   float64   `json:"final_score"`
	IssuedAt     time.Time `json:"issued_at"`
}

// NewID returns a new globally unique identifier.
func NewID() string {
	return uuid.NewString()
}

// NewCertificateCode returns a short human-readable certificate code.
func NewCertificateCode() string {
	id := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}
