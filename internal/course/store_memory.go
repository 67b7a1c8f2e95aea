package course

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

type userKey struct {
	userID string
	itemID string
}

// memState is one snapshot of every record. Values are stored by value and
// slices are copied on the way in and out, so snapshots never share mutable data.
type memState struct {
	courses      map[string]Course
	chapters     map[string]Chapter
	lessons      map[string]Lesson
	quizzes      map[string]Quiz
	questions    map[string]Question
	attempts     map[string]QuizAttempt
	progress     map[userKey]UserProgress
	enrollments  map[userKey]Enrollment
	certificates map[userKey]Certificate
}

func newMemState() *memState {
	return &memState{
		courses:      make(map[string]Course),
		chapters:     make(map[string]Chapter),
		lessons:      make(map[string]Lesson),
		quizzes:      make(map[string]Quiz),
		questions:    make(map[string]Question),
		attempts:     make(map[string]QuizAttempt),
		progress:     make(map[userKey]UserProgress),
		enrollments:  make(map[userKey]Enrollment),
		certificates: make(map[userKey]Certificate),
	}
}

func (s *memState) clone() *memState {
	return &memState{
		courses:      cloneMap(s.courses),
		chapters:     cloneMap(s.chapters),
		lessons:      cloneMap(s.lessons),
		quizzes:      cloneMap(s.quizzes),
		questions:    cloneMap(s.questions),
		attempts:     cloneMap(s.attempts),
		progress:     cloneMap(s.progress),
		enrollments:  cloneMap(s.enrollments),
		certificates: cloneMap(s.certificates),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MemoryStore is an in-memory implementation of Store. Transactions are
// serialized and run against a private snapshot that replaces the shared
// state only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&memTx{st: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

type memTx struct {
	st *memState
}

func copyQuestion(q Question) Question {
	q.Options = slices.Clone(q.Options)
	return q
}

func copyAttempt(a QuizAttempt) QuizAttempt {
	if a.EndedAt != nil {
		t := *a.EndedAt
		a.EndedAt = &t
	}
	if a.Score != nil {
		v := *a.Score
		a.Score = &v
	}
	answers := make([]UserAnswer, len(a.Answers))
	for i, ans := range a.Answers {
		ans.SelectedOptionIDs = slices.Clone(ans.SelectedOptionIDs)
		answers[i] = ans
	}
	a.Answers = answers
	return a
}

func copyProgress(p UserProgress) UserProgress {
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		p.CompletedAt = &t
	}
	return p
}

func copyEnrollment(e Enrollment) Enrollment {
	if e.CertificateIssuedAt != nil {
		t := *e.CertificateIssuedAt
		e.CertificateIssuedAt = &t
	}
	return e
}

// applyOrders sets Order on every listed ID after checking that they all
// belong to the scope, then rejects duplicate positions among all siblings in
// the scope. Archived siblings keep their slot and count as taken.
func applyOrders[T any](items map[string]T, scope func(T) bool, set func(*T, int), get func(T) int, orders map[string]int) error {
	for id, order := range orders {
		item, ok := items[id]
		if !ok || !scope(item) {
			return NotFound("item", id)
		}
		set(&item, order)
		items[id] = item
	}
	seen := make(map[int]string)
	for id, item := range items {
		if !scope(item) {
			continue
		}
		if other, dup := seen[get(item)]; dup {
			return fmt.Errorf("%w: %s and %s share position %d", ErrConflict, id, other, get(item))
		}
		seen[get(item)] = id
	}
	return nil
}

// --- courses ---

func (t *memTx) GetCourse(_ context.Context, id string) (Course, error) {
	c, ok := t.st.courses[id]
	if !ok {
		return Course{}, NotFound("course", id)
	}
	return c, nil
}

func (t *memTx) SaveCourse(_ context.Context, c Course) error {
	if c.ID == "" {
		return Invalid("id", "is required")
	}
	t.st.courses[c.ID] = c
	return nil
}

func (t *memTx) LockCourse(ctx context.Context, id string) error {
	_, err := t.GetCourse(ctx, id)
	return err
}

func (t *memTx) LockChapter(ctx context.Context, id string) error {
	_, err := t.GetChapter(ctx, id)
	return err
}

// --- chapters ---

func (t *memTx) ListChapters(_ context.Context, courseID string) ([]Chapter, error) {
	var out []Chapter
	for _, ch := range t.st.chapters {
		if ch.CourseID == courseID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (t *memTx) GetChapter(_ context.Context, id string) (Chapter, error) {
	ch, ok := t.st.chapters[id]
	if !ok {
		return Chapter{}, NotFound("chapter", id)
	}
	return ch, nil
}

func (t *memTx) SaveChapter(_ context.Context, ch Chapter) error {
	if _, ok := t.st.courses[ch.CourseID]; !ok {
		return NotFound("course", ch.CourseID)
	}
	t.st.chapters[ch.ID] = ch
	return nil
}

func (t *memTx) SetChapterOrders(_ context.Context, courseID string, orders map[string]int) error {
	return applyOrders(t.st.chapters,
		func(ch Chapter) bool { return ch.CourseID == courseID },
		func(ch *Chapter, o int) { ch.Order = o },
		func(ch Chapter) int { return ch.Order },
		orders)
}

func (t *memTx) DeleteChapter(_ context.Context, id string) error {
	if _, ok := t.st.chapters[id]; !ok {
		return NotFound("chapter", id)
	}
	for lid, l := range t.st.lessons {
		if l.ChapterID == id {
			t.deleteLesson(lid)
		}
	}
	delete(t.st.chapters, id)
	return nil
}

// --- lessons ---

func (t *memTx) ListLessons(_ context.Context, chapterID string) ([]Lesson, error) {
	var out []Lesson
	for _, l := range t.st.lessons {
		if l.ChapterID == chapterID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (t *memTx) ListCourseLessons(ctx context.Context, courseID string) ([]Lesson, error) {
	chapters, err := t.ListChapters(ctx, courseID)
	if err != nil {
		return nil, err
	}
	var out []Lesson
	for _, ch := range chapters {
		lessons, err := t.ListLessons(ctx, ch.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, lessons...)
	}
	return out, nil
}

func (t *memTx) GetLesson(_ context.Context, id string) (Lesson, error) {
	l, ok := t.st.lessons[id]
	if !ok {
		return Lesson{}, NotFound("lesson", id)
	}
	return l, nil
}

func (t *memTx) SaveLesson(_ context.Context, l Lesson) error {
	if _, ok := t.st.chapters[l.ChapterID]; !ok {
		return NotFound("chapter", l.ChapterID)
	}
	t.st.lessons[l.ID] = l
	return nil
}

func (t *memTx) SetLessonOrders(_ context.Context, chapterID string, orders map[string]int) error {
	return applyOrders(t.st.lessons,
		func(l Lesson) bool { return l.ChapterID == chapterID },
		func(l *Lesson, o int) { l.Order = o },
		func(l Lesson) int { return l.Order },
		orders)
}

func (t *memTx) DeleteLesson(_ context.Context, id string) error {
	if _, ok := t.st.lessons[id]; !ok {
		return NotFound("lesson", id)
	}
	t.deleteLesson(id)
	return nil
}

func (t *memTx) deleteLesson(id string) {
	for qid, q := range t.st.quizzes {
		if q.LessonID == id {
			t.deleteQuiz(qid)
		}
	}
	delete(t.st.lessons, id)
}

// --- quizzes ---

func (t *memTx) ListQuizzes(_ context.Context, lessonID string) ([]Quiz, error) {
	var out []Quiz
	for _, q := range t.st.quizzes {
		if q.LessonID == lessonID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) ListCourseQuizzes(ctx context.Context, courseID string) ([]Quiz, error) {
	lessons, err := t.ListCourseLessons(ctx, courseID)
	if err != nil {
		return nil, err
	}
	var out []Quiz
	for _, l := range lessons {
		quizzes, err := t.ListQuizzes(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, quizzes...)
	}
	return out, nil
}

func (t *memTx) GetQuiz(_ context.Context, id string) (Quiz, error) {
	q, ok := t.st.quizzes[id]
	if !ok {
		return Quiz{}, NotFound("quiz", id)
	}
	return q, nil
}

func (t *memTx) SaveQuiz(_ context.Context, q Quiz) error {
	if _, ok := t.st.lessons[q.LessonID]; !ok {
		return NotFound("lesson", q.LessonID)
	}
	t.st.quizzes[q.ID] = q
	return nil
}

func (t *memTx) DeleteQuiz(_ context.Context, id string) error {
	if _, ok := t.st.quizzes[id]; !ok {
		return NotFound("quiz", id)
	}
	t.deleteQuiz(id)
	return nil
}

func (t *memTx) deleteQuiz(id string) {
	for qid, q := range t.st.questions {
		if q.QuizID == id {
			delete(t.st.questions, qid)
		}
	}
	delete(t.st.quizzes, id)
}

// --- questions ---

func (t *memTx) ListQuestions(_ context.Context, quizID string) ([]Question, error) {
	var out []Question
	for _, q := range t.st.questions {
		if q.QuizID == quizID {
			out = append(out, copyQuestion(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (t *memTx) GetQuestion(_ context.Context, id string) (Question, error) {
	q, ok := t.st.questions[id]
	if !ok {
		return Question{}, NotFound("question", id)
	}
	return copyQuestion(q), nil
}

func (t *memTx) SaveQuestion(_ context.Context, q Question) error {
	if _, ok := t.st.quizzes[q.QuizID]; !ok {
		return NotFound("quiz", q.QuizID)
	}
	t.st.questions[q.ID] = copyQuestion(q)
	return nil
}

func (t *memTx) SetQuestionOrders(_ context.Context, quizID string, orders map[string]int) error {
	return applyOrders(t.st.questions,
		func(q Question) bool { return q.QuizID == quizID },
		func(q *Question, o int) { q.Order = o },
		func(q Question) int { return q.Order },
		orders)
}

func (t *memTx) DeleteQuestion(_ context.Context, id string) error {
	if _, ok := t.st.questions[id]; !ok {
		return NotFound("question", id)
	}
	delete(t.st.questions, id)
	return nil
}

// --- attempts ---

func (t *memTx) CreateAttempt(_ context.Context, a QuizAttempt) error {
	if _, ok := t.st.attempts[a.ID]; ok {
		return fmt.Errorf("attempt %s: %w", a.ID, ErrConflict)
	}
	for _, existing := range t.st.attempts {
		if existing.UserID == a.UserID && existing.QuizID == a.QuizID && existing.EndedAt == nil {
			return fmt.Errorf("attempt %s: %w", existing.ID, ErrAttemptInProgress)
		}
	}
	t.st.attempts[a.ID] = copyAttempt(a)
	return nil
}

func (t *memTx) GetAttempt(_ context.Context, id string) (QuizAttempt, error) {
	a, ok := t.st.attempts[id]
	if !ok {
		return QuizAttempt{}, NotFound("attempt", id)
	}
	return copyAttempt(a), nil
}

func (t *memTx) listAttempts(match func(QuizAttempt) bool) []QuizAttempt {
	var out []QuizAttempt
	for _, a := range t.st.attempts {
		if match(a) {
			a = copyAttempt(a)
			a.Answers = nil
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttemptNumber != out[j].AttemptNumber {
			return out[i].AttemptNumber < out[j].AttemptNumber
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (t *memTx) ListAttempts(_ context.Context, userID, quizID string) ([]QuizAttempt, error) {
	return t.listAttempts(func(a QuizAttempt) bool {
		return a.UserID == userID && a.QuizID == quizID
	}), nil
}

func (t *memTx) ListQuizAttempts(_ context.Context, quizID string) ([]QuizAttempt, error) {
	return t.listAttempts(func(a QuizAttempt) bool { return a.QuizID == quizID }), nil
}

func (t *memTx) ListUserAttempts(_ context.Context, userID string, quizIDs []string) ([]QuizAttempt, error) {
	return t.listAttempts(func(a QuizAttempt) bool {
		return a.UserID == userID && slices.Contains(quizIDs, a.QuizID)
	}), nil
}

func (t *memTx) ListOpenAttempts(_ context.Context) ([]QuizAttempt, error) {
	return t.listAttempts(func(a QuizAttempt) bool { return a.EndedAt == nil }), nil
}

func (t *memTx) SaveAnswers(_ context.Context, attemptID string, answers []UserAnswer) error {
	a, ok := t.st.attempts[attemptID]
	if !ok {
		return NotFound("attempt", attemptID)
	}
	a = copyAttempt(a)
	for _, ans := range answers {
		ans.SelectedOptionIDs = slices.Clone(ans.SelectedOptionIDs)
		idx := slices.IndexFunc(a.Answers, func(u UserAnswer) bool { return u.QuestionID == ans.QuestionID })
		if idx >= 0 {
			a.Answers[idx] = ans
		} else {
			a.Answers = append(a.Answers, ans)
		}
	}
	t.st.attempts[attemptID] = a
	return nil
}

func (t *memTx) FinishAttempt(_ context.Context, a QuizAttempt) error {
	stored, ok := t.st.attempts[a.ID]
	if !ok {
		return NotFound("attempt", a.ID)
	}
	if stored.EndedAt != nil {
		return fmt.Errorf("attempt %s: %w", a.ID, ErrInvalidAttemptState)
	}
	if a.EndedAt == nil {
		return Invalid("ended_at", "is required to finish an attempt")
	}
	graded := copyAttempt(a)
	stored.EndedAt = graded.EndedAt
	stored.Score = graded.Score
	stored.EarnedPoints = graded.EarnedPoints
	stored.PossiblePoints = graded.PossiblePoints
	stored.Passed = graded.Passed
	t.st.attempts[a.ID] = stored
	return nil
}

// --- learner records ---

func (t *memTx) GetProgress(_ context.Context, userID, lessonID string) (UserProgress, error) {
	p, ok := t.st.progress[userKey{userID, lessonID}]
	if !ok {
		return UserProgress{}, NotFound("progress", userID+"/"+lessonID)
	}
	return copyProgress(p), nil
}

func (t *memTx) ListProgress(_ context.Context, userID string, lessonIDs []string) ([]UserProgress, error) {
	var out []UserProgress
	for _, id := range lessonIDs {
		if p, ok := t.st.progress[userKey{userID, id}]; ok {
			out = append(out, copyProgress(p))
		}
	}
	return out, nil
}

func (t *memTx) SaveProgress(_ context.Context, p UserProgress) error {
	t.st.progress[userKey{p.UserID, p.LessonID}] = copyProgress(p)
	return nil
}

func (t *memTx) CountLearnerRecords(_ context.Context, lessonIDs, quizIDs []string) (int, error) {
	n := 0
	for k := range t.st.progress {
		if slices.Contains(lessonIDs, k.itemID) {
			n++
		}
	}
	for _, a := range t.st.attempts {
		if slices.Contains(quizIDs, a.QuizID) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetEnrollment(_ context.Context, userID, courseID string) (Enrollment, error) {
	e, ok := t.st.enrollments[userKey{userID, courseID}]
	if !ok {
		return Enrollment{}, NotFound("enrollment", userID+"/"+courseID)
	}
	return copyEnrollment(e), nil
}

func (t *memTx) ListEnrollments(_ context.Context, courseID string) ([]Enrollment, error) {
	var out []Enrollment
	for k, e := range t.st.enrollments {
		if k.itemID == courseID {
			out = append(out, copyEnrollment(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.Before(out[j].EnrolledAt) })
	return out, nil
}

func (t *memTx) SaveEnrollment(_ context.Context, e Enrollment) error {
	if _, ok := t.st.courses[e.CourseID]; !ok {
		return NotFound("course", e.CourseID)
	}
	k := userKey{e.UserID, e.CourseID}
	if prev, ok := t.st.enrollments[k]; ok && prev.Version > e.Version {
		e.Version = prev.Version
	}
	t.st.enrollments[k] = copyEnrollment(e)
	return nil
}

func (t *memTx) GetCertificate(_ context.Context, userID, courseID string) (Certificate, error) {
	c, ok := t.st.certificates[userKey{userID, courseID}]
	if !ok {
		return Certificate{}, NotFound("certificate", userID+"/"+courseID)
	}
	return c, nil
}

func (t *memTx) SaveCertificate(_ context.Context, c Certificate) error {
	k := userKey{c.UserID, c.CourseID}
	if existing, ok := t.st.certificates[k]; ok && existing.ID != c.ID {
		return fmt.Errorf("certificate for %s/%s: %w", c.UserID, c.CourseID, ErrConflict)
	}
	t.st.certificates[k] = c
	return nil
}
