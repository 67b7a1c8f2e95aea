package course

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbTimeout = 5 * time.Second

	openAttemptIndex = "quiz_attempts_open_idx"
)

// PostgresStore is a PostgreSQL-backed Store. Each unit of work runs in a
// serializable transaction; sibling positions are guarded by deferred
// unique constraints so a reorder may pass through duplicate positions
// before it commits.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStore creates a Store on an existing pool. The schema is
// created by database.DB.Migrate.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool, timeout: dbTimeout}, nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapPgError("begin", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError("commit", err)
	}
	return nil
}

// mapPgError translates driver failures into the package's error kinds.
func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w", op, ErrConflict)
		case "23505":
			if pgErr.ConstraintName == openAttemptIndex {
				return fmt.Errorf("%s: %w", op, ErrAttemptInProgress)
			}
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%s: %w: %s", op, ErrNotFound, pgErr.ConstraintName)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &StorageError{Op: op, Err: err}
}

type pgTx struct {
	tx pgx.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func (t *pgTx) exec(ctx context.Context, op, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return tag, mapPgError(op, err)
	}
	return tag, nil
}

// queryAll runs a query and scans every row with scan.
func queryAll[T any](ctx context.Context, t *pgTx, op, sql string, scan func(scanner) (T, error), args ...any) ([]T, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPgError(op, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, mapPgError(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(op, err)
	}
	return out, nil
}

func queryOne[T any](ctx context.Context, t *pgTx, op, kind, id, sql string, scan func(scanner) (T, error), args ...any) (T, error) {
	v, err := scan(t.tx.QueryRow(ctx, sql, args...))
	if err != nil {
		var zero T
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, NotFound(kind, id)
		}
		return zero, mapPgError(op, err)
	}
	return v, nil
}

func (t *pgTx) setOrders(ctx context.Context, op, sql, scopeID string, orders map[string]int) error {
	for id, order := range orders {
		tag, err := t.exec(ctx, op, sql, id, scopeID, order)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return NotFound("item", id)
		}
	}
	return nil
}

func (t *pgTx) deleteByID(ctx context.Context, op, kind, sql, id string) error {
	tag, err := t.exec(ctx, op, sql, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFound(kind, id)
	}
	return nil
}

func (t *pgTx) lockRow(ctx context.Context, kind, sql, id string) error {
	var got string
	if err := t.tx.QueryRow(ctx, sql, id).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NotFound(kind, id)
		}
		return mapPgError("lock "+kind, err)
	}
	return nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// --- courses ---

const courseColumns = `id, author_id, title, status, enforce_sequential_access,
	require_quizzes_for_certificate, revision, created_at, updated_at`

func scanCourse(row scanner) (Course, error) {
	var c Course
	err := row.Scan(&c.ID, &c.AuthorID, &c.Title, &c.Status, &c.EnforceSequentialAccess,
		&c.RequireQuizzesForCertificate, &c.Revision, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (t *pgTx) GetCourse(ctx context.Context, id string) (Course, error) {
	return queryOne(ctx, t, "get course", "course", id,
		`SELECT `+courseColumns+` FROM courses WHERE id = $1`, scanCourse, id)
}

func (t *pgTx) SaveCourse(ctx context.Context, c Course) error {
	_, err := t.exec(ctx, "save course",
		`INSERT INTO courses (`+courseColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   author_id = EXCLUDED.author_id,
		   title = EXCLUDED.title,
		   status = EXCLUDED.status,
		   enforce_sequential_access = EXCLUDED.enforce_sequential_access,
		   require_quizzes_for_certificate = EXCLUDED.require_quizzes_for_certificate,
		   revision = EXCLUDED.revision,
		   updated_at = EXCLUDED.updated_at`,
		c.ID, c.AuthorID, c.Title, c.Status, c.EnforceSequentialAccess,
		c.RequireQuizzesForCertificate, c.Revision, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (t *pgTx) LockCourse(ctx context.Context, id string) error {
	return t.lockRow(ctx, "course", `SELECT id FROM courses WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) LockChapter(ctx context.Context, id string) error {
	return t.lockRow(ctx, "chapter", `SELECT id FROM chapters WHERE id = $1 FOR UPDATE`, id)
}

// --- chapters ---

const chapterColumns = `id, course_id, name, description, position, unlock_after, locked, status, created_at, updated_at`

func scanChapter(row scanner) (Chapter, error) {
	var ch Chapter
	var unlockAfter *string
	err := row.Scan(&ch.ID, &ch.CourseID, &ch.Name, &ch.Description, &ch.Order,
		&unlockAfter, &ch.Locked, &ch.Status, &ch.CreatedAt, &ch.UpdatedAt)
	ch.UnlockAfter = deref(unlockAfter)
	return ch, err
}

func (t *pgTx) ListChapters(ctx context.Context, courseID string) ([]Chapter, error) {
	return queryAll(ctx, t, "list chapters",
		`SELECT `+chapterColumns+` FROM chapters WHERE course_id = $1 ORDER BY position`,
		scanChapter, courseID)
}

func (t *pgTx) GetChapter(ctx context.Context, id string) (Chapter, error) {
	return queryOne(ctx, t, "get chapter", "chapter", id,
		`SELECT `+chapterColumns+` FROM chapters WHERE id = $1`, scanChapter, id)
}

func (t *pgTx) SaveChapter(ctx context.Context, ch Chapter) error {
	_, err := t.exec(ctx, "save chapter",
		`INSERT INTO chapters (`+chapterColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   description = EXCLUDED.description,
		   position = EXCLUDED.position,
		   unlock_after = EXCLUDED.unlock_after,
		   locked = EXCLUDED.locked,
		   status = EXCLUDED.status,
		   updated_at = EXCLUDED.updated_at`,
		ch.ID, ch.CourseID, ch.Name, ch.Description, ch.Order,
		nullIfEmpty(ch.UnlockAfter), ch.Locked, ch.Status, ch.CreatedAt, ch.UpdatedAt,
	)
	return err
}

func (t *pgTx) SetChapterOrders(ctx context.Context, courseID string, orders map[string]int) error {
	return t.setOrders(ctx, "reorder chapters",
		`UPDATE chapters SET position = $3, updated_at = now() WHERE id = $1 AND course_id = $2`,
		courseID, orders)
}

func (t *pgTx) DeleteChapter(ctx context.Context, id string) error {
	return t.deleteByID(ctx, "delete chapter", "chapter", `DELETE FROM chapters WHERE id = $1`, id)
}

// --- lessons ---

const lessonColumns = `id, chapter_id, name, content, position, unlock_after, locked, mandatory,
	requires_quiz_pass, min_time_spent_ms, min_quiz_score, min_completion_percentage,
	status, created_at, updated_at`

func scanLesson(row scanner) (Lesson, error) {
	var l Lesson
	var unlockAfter *string
	var minTimeMS int64
	err := row.Scan(&l.ID, &l.ChapterID, &l.Name, &l.Content, &l.Order, &unlockAfter,
		&l.Locked, &l.Mandatory, &l.RequiresQuizPass, &minTimeMS, &l.MinQuizScore,
		&l.MinCompletionPercentage, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	l.UnlockAfter = deref(unlockAfter)
	l.MinTimeSpent = time.Duration(minTimeMS) * time.Millisecond
	return l, err
}

func (t *pgTx) ListLessons(ctx context.Context, chapterID string) ([]Lesson, error) {
	return queryAll(ctx, t, "list lessons",
		`SELECT `+lessonColumns+` FROM lessons WHERE chapter_id = $1 ORDER BY position`,
		scanLesson, chapterID)
}

func (t *pgTx) ListCourseLessons(ctx context.Context, courseID string) ([]Lesson, error) {
	return queryAll(ctx, t, "list course lessons",
		`SELECT l.id, l.chapter_id, l.name, l.content, l.position, l.unlock_after, l.locked,
		        l.mandatory, l.requires_quiz_pass, l.min_time_spent_ms, l.min_quiz_score,
		        l.min_completion_percentage, l.status, l.created_at, l.updated_at
		 FROM lessons l
		 JOIN chapters c ON c.id = l.chapter_id
		 WHERE c.course_id = $1
		 ORDER BY c.position, l.position`,
		scanLesson, courseID)
}

func (t *pgTx) GetLesson(ctx context.Context, id string) (Lesson, error) {
	return queryOne(ctx, t, "get lesson", "lesson", id,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, scanLesson, id)
}

func (t *pgTx) SaveLesson(ctx context.Context, l Lesson) error {
	_, err := t.exec(ctx, "save lesson",
		`INSERT INTO lessons (`+lessonColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   content = EXCLUDED.content,
		   position = EXCLUDED.position,
		   unlock_after = EXCLUDED.unlock_after,
		   locked = EXCLUDED.locked,
		   mandatory = EXCLUDED.mandatory,
		   requires_quiz_pass = EXCLUDED.requires_quiz_pass,
		   min_time_spent_ms = EXCLUDED.min_time_spent_ms,
		   min_quiz_score = EXCLUDED.min_quiz_score,
		   min_completion_percentage = EXCLUDED.min_completion_percentage,
		   status = EXCLUDED.status,
		   updated_at = EXCLUDED.updated_at`,
		l.ID, l.ChapterID, l.Name, l.Content, l.Order, nullIfEmpty(l.UnlockAfter), l.Locked,
		l.Mandatory, l.RequiresQuizPass, l.MinTimeSpent.Milliseconds(), l.MinQuizScore,
		l.MinCompletionPercentage, l.Status, l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (t *pgTx) SetLessonOrders(ctx context.Context, chapterID string, orders map[string]int) error {
	return t.setOrders(ctx, "reorder lessons",
		`UPDATE lessons SET position = $3, updated_at = now() WHERE id = $1 AND chapter_id = $2`,
		chapterID, orders)
}

func (t *pgTx) DeleteLesson(ctx context.Context, id string) error {
	return t.deleteByID(ctx, "delete lesson", "lesson", `DELETE FROM lessons WHERE id = $1`, id)
}

// --- quizzes ---

const quizColumns = `id, lesson_id, name, time_limit_ms, passing_score, max_attempts,
	blocks_lesson_completion, is_prerequisite, status, created_at, updated_at`

func scanQuiz(row scanner) (Quiz, error) {
	var q Quiz
	var limitMS int64
	err := row.Scan(&q.ID, &q.LessonID, &q.Name, &limitMS, &q.PassingScore, &q.MaxAttempts,
		&q.BlocksLessonCompletion, &q.IsPrerequisite, &q.Status, &q.CreatedAt, &q.UpdatedAt)
	q.TimeLimit = time.Duration(limitMS) * time.Millisecond
	return q, err
}

func (t *pgTx) ListQuizzes(ctx context.Context, lessonID string) ([]Quiz, error) {
	return queryAll(ctx, t, "list quizzes",
		`SELECT `+quizColumns+` FROM quizzes WHERE lesson_id = $1 ORDER BY created_at, id`,
		scanQuiz, lessonID)
}

func (t *pgTx) ListCourseQuizzes(ctx context.Context, courseID string) ([]Quiz, error) {
	return queryAll(ctx, t, "list course quizzes",
		`SELECT q.id, q.lesson_id, q.name, q.time_limit_ms, q.passing_score, q.max_attempts,
		        q.blocks_lesson_completion, q.is_prerequisite, q.status, q.created_at, q.updated_at
		 FROM quizzes q
		 JOIN lessons l ON l.id = q.lesson_id
		 JOIN chapters c ON c.id = l.chapter_id
		 WHERE c.course_id = $1
		 ORDER BY c.position, l.position, q.created_at, q.id`,
		scanQuiz, courseID)
}

func (t *pgTx) GetQuiz(ctx context.Context, id string) (Quiz, error) {
	return queryOne(ctx, t, "get quiz", "quiz", id,
		`SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, scanQuiz, id)
}

func (t *pgTx) SaveQuiz(ctx context.Context, q Quiz) error {
	_, err := t.exec(ctx, "save quiz",
		`INSERT INTO quizzes (`+quizColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   time_limit_ms = EXCLUDED.time_limit_ms,
		   passing_score = EXCLUDED.passing_score,
		   max_attempts = EXCLUDED.max_attempts,
		   blocks_lesson_completion = EXCLUDED.blocks_lesson_completion,
		   is_prerequisite = EXCLUDED.is_prerequisite,
		   status = EXCLUDED.status,
		   updated_at = EXCLUDED.updated_at`,
		q.ID, q.LessonID, q.Name, q.TimeLimit.Milliseconds(), q.PassingScore, q.MaxAttempts,
		q.BlocksLessonCompletion, q.IsPrerequisite, q.Status, q.CreatedAt, q.UpdatedAt,
	)
	return err
}

func (t *pgTx) DeleteQuiz(ctx context.Context, id string) error {
	return t.deleteByID(ctx, "delete quiz", "quiz", `DELETE FROM quizzes WHERE id = $1`, id)
}

// --- questions ---

const questionColumns = `id, quiz_id, text, explanation, type, points, position, options`

func scanQuestion(row scanner) (Question, error) {
	var q Question
	err := row.Scan(&q.ID, &q.QuizID, &q.Text, &q.Explanation, &q.Type, &q.Points, &q.Order, &q.Options)
	return q, err
}

func (t *pgTx) ListQuestions(ctx context.Context, quizID string) ([]Question, error) {
	return queryAll(ctx, t, "list questions",
		`SELECT `+questionColumns+` FROM questions WHERE quiz_id = $1 ORDER BY position`,
		scanQuestion, quizID)
}

func (t *pgTx) GetQuestion(ctx context.Context, id string) (Question, error) {
	return queryOne(ctx, t, "get question", "question", id,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, scanQuestion, id)
}

func (t *pgTx) SaveQuestion(ctx context.Context, q Question) error {
	options := q.Options
	if options == nil {
		options = []AnswerOption{}
	}
	_, err := t.exec(ctx, "save question",
		`INSERT INTO questions (`+questionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   text = EXCLUDED.text,
		   explanation = EXCLUDED.explanation,
		   type = EXCLUDED.type,
		   points = EXCLUDED.points,
		   position = EXCLUDED.position,
		   options = EXCLUDED.options`,
		q.ID, q.QuizID, q.Text, q.Explanation, int(q.Type), q.Points, q.Order, options,
	)
	return err
}

func (t *pgTx) SetQuestionOrders(ctx context.Context, quizID string, orders map[string]int) error {
	return t.setOrders(ctx, "reorder questions",
		`UPDATE questions SET position = $3 WHERE id = $1 AND quiz_id = $2`,
		quizID, orders)
}

func (t *pgTx) DeleteQuestion(ctx context.Context, id string) error {
	return t.deleteByID(ctx, "delete question", "question", `DELETE FROM questions WHERE id = $1`, id)
}

// --- attempts ---

const attemptColumns = `id, user_id, quiz_id, attempt_number, started_at, ended_at,
	score, earned_points, possible_points, passed`

func scanAttempt(row scanner) (QuizAttempt, error) {
	var a QuizAttempt
	err := row.Scan(&a.ID, &a.UserID, &a.QuizID, &a.AttemptNumber, &a.StartedAt, &a.EndedAt,
		&a.Score, &a.EarnedPoints, &a.PossiblePoints, &a.Passed)
	return a, err
}

func (t *pgTx) CreateAttempt(ctx context.Context, a QuizAttempt) error {
	_, err := t.exec(ctx, "create attempt",
		`INSERT INTO quiz_attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.UserID, a.QuizID, a.AttemptNumber, a.StartedAt, a.EndedAt,
		a.Score, a.EarnedPoints, a.PossiblePoints, a.Passed,
	)
	if err != nil {
		return err
	}
	if len(a.Answers) > 0 {
		return t.SaveAnswers(ctx, a.ID, a.Answers)
	}
	return nil
}

func (t *pgTx) GetAttempt(ctx context.Context, id string) (QuizAttempt, error) {
	a, err := queryOne(ctx, t, "get attempt", "attempt", id,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, scanAttempt, id)
	if err != nil {
		return QuizAttempt{}, err
	}

	a.Answers, err = queryAll(ctx, t, "list answers",
		`SELECT question_id, selected_option_ids, recorded_at
		 FROM attempt_answers
		 WHERE attempt_id = $1
		 ORDER BY recorded_at, question_id`,
		func(row scanner) (UserAnswer, error) {
			var ans UserAnswer
			err := row.Scan(&ans.QuestionID, &ans.SelectedOptionIDs, &ans.RecordedAt)
			return ans, err
		}, id)
	if err != nil {
		return QuizAttempt{}, err
	}
	return a, nil
}

func (t *pgTx) ListAttempts(ctx context.Context, userID, quizID string) ([]QuizAttempt, error) {
	return queryAll(ctx, t, "list attempts",
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE user_id = $1 AND quiz_id = $2
		 ORDER BY attempt_number, started_at`,
		scanAttempt, userID, quizID)
}

func (t *pgTx) ListQuizAttempts(ctx context.Context, quizID string) ([]QuizAttempt, error) {
	return queryAll(ctx, t, "list quiz attempts",
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE quiz_id = $1
		 ORDER BY attempt_number, started_at`,
		scanAttempt, quizID)
}

func (t *pgTx) ListUserAttempts(ctx context.Context, userID string, quizIDs []string) ([]QuizAttempt, error) {
	return queryAll(ctx, t, "list user attempts",
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE user_id = $1 AND quiz_id = ANY($2)
		 ORDER BY attempt_number, started_at`,
		scanAttempt, userID, quizIDs)
}

func (t *pgTx) ListOpenAttempts(ctx context.Context) ([]QuizAttempt, error) {
	return queryAll(ctx, t, "list open attempts",
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE ended_at IS NULL
		 ORDER BY started_at`,
		scanAttempt)
}

func (t *pgTx) SaveAnswers(ctx context.Context, attemptID string, answers []UserAnswer) error {
	if err := t.lockRow(ctx, "attempt", `SELECT id FROM quiz_attempts WHERE id = $1 FOR UPDATE`, attemptID); err != nil {
		return err
	}
	for _, ans := range answers {
		selected := ans.SelectedOptionIDs
		if selected == nil {
			selected = []string{}
		}
		if _, err := t.exec(ctx, "save answer",
			`INSERT INTO attempt_answers (attempt_id, question_id, selected_option_ids, recorded_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			   selected_option_ids = EXCLUDED.selected_option_ids,
			   recorded_at = EXCLUDED.recorded_at`,
			attemptID, ans.QuestionID, selected, ans.RecordedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) FinishAttempt(ctx context.Context, a QuizAttempt) error {
	if a.EndedAt == nil {
		return Invalid("ended_at", "is required to finish an attempt")
	}
	tag, err := t.exec(ctx, "finish attempt",
		`UPDATE quiz_attempts
		 SET ended_at = $2, score = $3, earned_points = $4, possible_points = $5, passed = $6
		 WHERE id = $1 AND ended_at IS NULL`,
		a.ID, a.EndedAt, a.Score, a.EarnedPoints, a.PossiblePoints, a.Passed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := t.GetAttempt(ctx, a.ID); err != nil {
			return err
		}
		return fmt.Errorf("attempt %s: %w", a.ID, ErrInvalidAttemptState)
	}
	return nil
}

// --- learner records ---

const progressColumns = `user_id, lesson_id, first_accessed_at, last_accessed_at, access_count,
	time_spent_ms, completed, completed_at`

func scanProgress(row scanner) (UserProgress, error) {
	var p UserProgress
	var spentMS int64
	err := row.Scan(&p.UserID, &p.LessonID, &p.FirstAccessedAt, &p.LastAccessedAt,
		&p.AccessCount, &spentMS, &p.Completed, &p.CompletedAt)
	p.TimeSpent = time.Duration(spentMS) * time.Millisecond
	return p, err
}

func (t *pgTx) GetProgress(ctx context.Context, userID, lessonID string) (UserProgress, error) {
	return queryOne(ctx, t, "get progress", "progress", userID+"/"+lessonID,
		`SELECT `+progressColumns+` FROM user_progress WHERE user_id = $1 AND lesson_id = $2`,
		scanProgress, userID, lessonID)
}

func (t *pgTx) ListProgress(ctx context.Context, userID string, lessonIDs []string) ([]UserProgress, error) {
	return queryAll(ctx, t, "list progress",
		`SELECT `+progressColumns+` FROM user_progress WHERE user_id = $1 AND lesson_id = ANY($2)`,
		scanProgress, userID, lessonIDs)
}

func (t *pgTx) SaveProgress(ctx context.Context, p UserProgress) error {
	_, err := t.exec(ctx, "save progress",
		`INSERT INTO user_progress (`+progressColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, lesson_id) DO UPDATE SET
		   last_accessed_at = EXCLUDED.last_accessed_at,
		   access_count = EXCLUDED.access_count,
		   time_spent_ms = EXCLUDED.time_spent_ms,
		   completed = EXCLUDED.completed,
		   completed_at = EXCLUDED.completed_at`,
		p.UserID, p.LessonID, p.FirstAccessedAt, p.LastAccessedAt, p.AccessCount,
		p.TimeSpent.Milliseconds(), p.Completed, p.CompletedAt,
	)
	return err
}

func (t *pgTx) CountLearnerRecords(ctx context.Context, lessonIDs, quizIDs []string) (int, error) {
	var n int64
	err := t.tx.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM user_progress WHERE lesson_id = ANY($1))
		      + (SELECT count(*) FROM quiz_attempts WHERE quiz_id = ANY($2))`,
		lessonIDs, quizIDs,
	).Scan(&n)
	if err != nil {
		return 0, mapPgError("count learner records", err)
	}
	return int(n), nil
}

const enrollmentColumns = `id, user_id, course_id, progress_percentage, current_lesson_id,
	certificate_issued_at, enrolled_at, updated_at, version`

func scanEnrollment(row scanner) (Enrollment, error) {
	var e Enrollment
	var current *string
	err := row.Scan(&e.ID, &e.UserID, &e.CourseID, &e.ProgressPercentage, &current,
		&e.CertificateIssuedAt, &e.EnrolledAt, &e.UpdatedAt, &e.Version)
	e.CurrentLessonID = deref(current)
	return e, err
}

func (t *pgTx) GetEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error) {
	return queryOne(ctx, t, "get enrollment", "enrollment", userID+"/"+courseID,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = $1 AND course_id = $2`,
		scanEnrollment, userID, courseID)
}

func (t *pgTx) ListEnrollments(ctx context.Context, courseID string) ([]Enrollment, error) {
	return queryAll(ctx, t, "list enrollments",
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE course_id = $1 ORDER BY enrolled_at`,
		scanEnrollment, courseID)
}

func (t *pgTx) SaveEnrollment(ctx context.Context, e Enrollment) error {
	_, err := t.exec(ctx, "save enrollment",
		`INSERT INTO enrollments (`+enrollmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, course_id) DO UPDATE SET
		   progress_percentage = EXCLUDED.progress_percentage,
		   current_lesson_id = EXCLUDED.current_lesson_id,
		   certificate_issued_at = EXCLUDED.certificate_issued_at,
		   updated_at = EXCLUDED.updated_at,
		   version = GREATEST(enrollments.version, EXCLUDED.version)`,
		e.ID, e.UserID, e.CourseID, e.ProgressPercentage, nullIfEmpty(e.CurrentLessonID),
		e.CertificateIssuedAt, e.EnrolledAt, e.UpdatedAt, e.Version,
	)
	return err
}

const certificateColumns = `id, enrollment_id, user_id, course_id, code, final_score, issued_at`

func scanCertificate(row scanner) (Certificate, error) {
	var c Certificate
	err := row.Scan(&c.ID, &c.EnrollmentID, &c.UserID, &c.CourseID, &c.Code, &c.FinalScore, &c.IssuedAt)
	return c, err
}

func (t *pgTx) GetCertificate(ctx context.Context, userID, courseID string) (Certificate, error) {
	return queryOne(ctx, t, "get certificate", "certificate", userID+"/"+courseID,
		`SELECT `+certificateColumns+` FROM certificates WHERE user_id = $1 AND course_id = $2`,
		scanCertificate, userID, courseID)
}

func (t *pgTx) SaveCertificate(ctx context.Context, c Certificate) error {
	_, err := t.exec(ctx, "save certificate",
		`INSERT INTO certificates (`+certificateColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   final_score = EXCLUDED.final_score`,
		c.ID, c.EnrollmentID, c.UserID, c.CourseID, c.Code, c.FinalScore, c.IssuedAt,
	)
	return err
}
