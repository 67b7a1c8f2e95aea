package course

import "context"

// Store runs units of work against course and learner records.
type Store interface {
	// InTx runs fn in a single transaction: every write made through tx is
	// committed together or not at all. Serialization failures surface as
	// errors matching ErrConflict so callers can retry with WithRetry.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of record operations available inside a transaction.
type Tx interface {
	ContentTx
	AttemptTx
	LearnerTx
}

// ContentTx reads and writes the authored content tree.
// List methods return siblings sorted by Order.
type ContentTx interface {
	GetCourse(ctx context.Context, id string) (Course, error)
	SaveCourse(ctx context.Context, c Course) error
	// LockCourse and LockChapter serialize reorders within a scope.
	LockCourse(ctx context.Context, id string) error
	LockChapter(ctx context.Context, id string) error

	ListChapters(ctx context.Context, courseID string) ([]Chapter, error)
	GetChapter(ctx context.Context, id string) (Chapter, error)
	SaveChapter(ctx context.Context, ch Chapter) error
	SetChapterOrders(ctx context.Context, courseID string, orders map[string]int) error
	DeleteChapter(ctx context.Context, id string) error

	ListLessons(ctx context.Context, chapterID string) ([]Lesson, error)
	// ListCourseLessons returns every lesson of a course in course order
	// (chapter order, then lesson order).
	ListCourseLessons(ctx context.Context, courseID string) ([]Lesson, error)
	GetLesson(ctx context.Context, id string) (Lesson, error)
	SaveLesson(ctx context.Context, l Lesson) error
	SetLessonOrders(ctx context.Context, chapterID string, orders map[string]int) error
	DeleteLesson(ctx context.Context, id string) error

	ListQuizzes(ctx context.Context, lessonID string) ([]Quiz, error)
	ListCourseQuizzes(ctx context.Context, courseID string) ([]Quiz, error)
	GetQuiz(ctx context.Context, id string) (Quiz, error)
	SaveQuiz(ctx context.Context, q Quiz) error
	DeleteQuiz(ctx context.Context, id string) error

	ListQuestions(ctx context.Context, quizID string) ([]Question, error)
	GetQuestion(ctx context.Context, id string) (Question, error)
	SaveQuestion(ctx context.Context, q Question) error
	SetQuestionOrders(ctx context.Context, quizID string, orders map[string]int) error
	DeleteQuestion(ctx context.Context, id string) error
}

// AttemptTx reads and writes quiz attempts.
type AttemptTx interface {
	// CreateAttempt inserts a new open attempt. It fails with
	// ErrAttemptInProgress if the user already has an open attempt on the quiz.
	CreateAttempt(ctx context.Context, a QuizAttempt) error
	// GetAttempt returns the attempt with its recorded answers.
	GetAttempt(ctx context.Context, id string) (QuizAttempt, error)
	// ListAttempts returns one user's attempts on a quiz by attempt number, without answers.
	ListAttempts(ctx context.Context, userID, quizID string) ([]QuizAttempt, error)
	ListQuizAttempts(ctx context.Context, quizID string) ([]QuizAttempt, error)
	ListUserAttempts(ctx context.Context, userID string, quizIDs []string) ([]QuizAttempt, error)
	ListOpenAttempts(ctx context.Context) ([]QuizAttempt, error)
	// SaveAnswers upserts answers by question ID.
	SaveAnswers(ctx context.Context, attemptID string, answers []UserAnswer) error
	// FinishAttempt stores the end time and grade of an open attempt. It fails
	// with ErrInvalidAttemptState if the attempt was already finished.
	FinishAttempt(ctx context.Context, a QuizAttempt) error
}

// LearnerTx reads and writes per-learner progress records.
type LearnerTx interface {
	GetProgress(ctx context.Context, userID, lessonID string) (UserProgress, error)
	ListProgress(ctx context.Context, userID string, lessonIDs []string) ([]UserProgress, error)
	SaveProgress(ctx context.Context, p UserProgress) error
	// CountLearnerRecords counts progress rows on the lessons plus attempts on the quizzes.
	CountLearnerRecords(ctx context.Context, lessonIDs, quizIDs []string) (int, error)

	GetEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error)
	ListEnrollments(ctx context.Context, courseID string) ([]Enrollment, error)
	SaveEnrollment(ctx context.Context, e Enrollment) error

	GetCertificate(ctx context.Context, userID, courseID string) (Certificate, error)
	SaveCertificate(ctx context.Context, c Certificate) error
}
