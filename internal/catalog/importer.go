package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-courses/internal/authoring"
	"github.com/p-n-ai/pai-courses/internal/course"
)

// ImporterConfig holds dependencies for an Importer.
type ImporterConfig struct {
	Authoring *authoring.Service
	Store     course.Store // used to skip documents whose course ID already exists
	Actor     authoring.Actor
}

// Importer builds catalog courses through the authoring service, so every
// ordering and prerequisite rule applies to imported content.
type Importer struct {
	authoring *authoring.Service
	store     course.Store
	actor     authoring.Actor
}

// NewImporter creates an importer.
func NewImporter(cfg ImporterConfig) *Importer {
	return &Importer{authoring: cfg.Authoring, store: cfg.Store, actor: cfg.Actor}
}

// Result counts the outcome of ImportAll.
type Result struct {
	Imported int
	Skipped  int
}

// ImportAll imports documents in order and stops at the first failure.
func (im *Importer) ImportAll(ctx context.Context, docs []Document) (Result, error) {
	var res Result
	for _, doc := range docs {
		_, created, err := im.Import(ctx, doc)
		if err != nil {
			return res, fmt.Errorf("importing %s: %w", docName(doc), err)
		}
		if created {
			res.Imported++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// Import creates the course a document describes. A document with an ID that
// already exists is left alone and reported with created == false. The course
// is built as a draft and only takes the document's status once all of its
// content is in place.
func (im *Importer) Import(ctx context.Context, doc Document) (c course.Course, created bool, err error) {
	if doc.ID != "" {
		existing, err := im.existing(ctx, doc.ID)
		if err != nil {
			return course.Course{}, false, err
		}
		if existing != nil {
			slog.Debug("catalog course already present", "course_id", doc.ID)
			return *existing, false, nil
		}
	}
	if err := checkKeys(doc); err != nil {
		return course.Course{}, false, err
	}

	in := authoring.CourseInput{
		ID:                           doc.ID,
		Title:                        doc.Title,
		Status:                       course.CourseDraft,
		EnforceSequentialAccess:      doc.EnforceSequentialAccess,
		RequireQuizzesForCertificate: doc.RequireQuizzesForCertificate,
	}
	c, err = im.authoring.CreateCourse(ctx, im.actor, in)
	if err != nil {
		return course.Course{}, false, err
	}
	defer func() {
		if err != nil {
			slog.Warn("catalog import left a draft course", "course_id", c.ID, "error", err)
		}
	}()

	chapters := map[string]string{}
	for i, ch := range doc.Chapters {
		field := fmt.Sprintf("chapters[%d]", i)
		after, err := resolve(field+".unlock_after", ch.UnlockAfter, chapters)
		if err != nil {
			return c, false, err
		}
		made, err := im.authoring.CreateChapter(ctx, im.actor, c.ID, authoring.ChapterInput{
			Name:        ch.Name,
			Description: ch.Description,
			Locked:      ch.Locked,
			UnlockAfter: after,
		})
		if err != nil {
			return c, false, fmt.Errorf("%s: %w", field, err)
		}
		if ch.Key != "" {
			chapters[ch.Key] = made.ID
		}
		if err := im.importLessons(ctx, field, made.ID, ch.Lessons); err != nil {
			return c, false, err
		}
	}

	status := course.CourseStatus(doc.Status)
	if status == "" {
		status = course.CourseDraft
	}
	if status != course.CourseDraft {
		in.Status = status
		c, err = im.authoring.UpdateCourse(ctx, im.actor, c.ID, in)
		if err != nil {
			return c, false, err
		}
	}

	slog.Info("catalog course imported", "course_id", c.ID, "title", c.Title, "chapters", len(doc.Chapters))
	return c, true, nil
}

func (im *Importer) importLessons(ctx context.Context, prefix, chapterID string, lessons []Lesson) error {
	keys := map[string]string{}
	for i, l := range lessons {
		field := fmt.Sprintf("%s.lessons[%d]", prefix, i)
		in, err := lessonInput(field, l)
		if err != nil {
			return err
		}
		in.UnlockAfter, err = resolve(field+".unlock_after", l.UnlockAfter, keys)
		if err != nil {
			return err
		}
		created, err := im.authoring.CreateLesson(ctx, im.actor, chapterID, in)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if l.Key != "" {
			keys[l.Key] = created.ID
		}

		for j, q := range l.Quizzes {
			if err := im.importQuiz(ctx, fmt.Sprintf("%s.quizzes[%d]", field, j), created.ID, q); err != nil {
				return err
			}
		}
	}
	return nil
}

func (im *Importer) importQuiz(ctx context.Context, field, lessonID string, q Quiz) error {
	in := authoring.QuizInput{
		Name:                   q.Name,
		PassingScore:           q.PassingScore,
		MaxAttempts:            q.MaxAttempts,
		BlocksLessonCompletion: q.BlocksLessonCompletion,
		IsPrerequisite:         q.IsPrerequisite,
	}
	if q.TimeLimit != "" {
		d, err := duration(field+".time_limit", q.TimeLimit)
		if err != nil {
			return err
		}
		in.TimeLimit = &d
	}
	created, err := im.authoring.CreateQuiz(ctx, im.actor, lessonID, in)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}

	for i, qq := range q.Questions {
		qf := fmt.Sprintf("%s.questions[%d]", field, i)
		typ, err := course.ParseQuestionType(qq.Type)
		if err != nil {
			return course.Invalid(qf+".type", "%v", err)
		}
		points := qq.Points
		if points == 0 {
			points = 1
		}
		opts := make([]authoring.OptionInput, len(qq.Options))
		for k, o := range qq.Options {
			opts[k] = authoring.OptionInput{Text: o.Text, Correct: o.Correct}
		}
		_, err = im.authoring.AddQuestion(ctx, im.actor, created.ID, authoring.QuestionInput{
			Text:        qq.Text,
			Explanation: qq.Explanation,
			Type:        typ,
			Points:      points,
			Options:     opts,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", qf, err)
		}
	}
	return nil
}

func (im *Importer) existing(ctx context.Context, id string) (*course.Course, error) {
	if im.store == nil {
		return nil, nil
	}
	var found *course.Course
	err := im.store.InTx(ctx, func(tx course.Tx) error {
		c, err := tx.GetCourse(ctx, id)
		if errors.Is(err, course.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &c
		return nil
	})
	return found, err
}

func lessonInput(field string, l Lesson) (authoring.LessonInput, error) {
	in := authoring.LessonInput{
		Name:                    l.Name,
		Content:                 l.Content,
		Locked:                  l.Locked,
		Mandatory:               l.Mandatory == nil || *l.Mandatory,
		RequiresQuizPass:        l.RequiresQuizPass,
		MinQuizScore:            l.MinQuizScore,
		MinCompletionPercentage: l.MinCompletionPercentage,
	}
	if l.MinTimeSpent != "" {
		d, err := duration(field+".min_time_spent", l.MinTimeSpent)
		if err != nil {
			return authoring.LessonInput{}, err
		}
		in.MinTimeSpent = d
	}
	return in, nil
}

// checkKeys rejects duplicate keys and unlock_after references that do not
// name an earlier item in scope, before anything is written.
func checkKeys(doc Document) error {
	chapterKeys := map[string]bool{}
	for i, ch := range doc.Chapters {
		field := fmt.Sprintf("chapters[%d]", i)
		if ch.UnlockAfter != "" && !chapterKeys[ch.UnlockAfter] {
			return course.Invalid(field+".unlock_after", "no earlier chapter with key %q", ch.UnlockAfter)
		}
		if ch.Key != "" {
			if chapterKeys[ch.Key] {
				return course.Invalid(field+".key", "duplicate key %q", ch.Key)
			}
			chapterKeys[ch.Key] = true
		}

		lessonKeys := map[string]bool{}
		for j, l := range ch.Lessons {
			lf := fmt.Sprintf("%s.lessons[%d]", field, j)
			if l.UnlockAfter != "" && !lessonKeys[l.UnlockAfter] {
				return course.Invalid(lf+".unlock_after", "no earlier lesson with key %q in this chapter", l.UnlockAfter)
			}
			if l.Key == "" {
				continue
			}
			if lessonKeys[l.Key] {
				return course.Invalid(lf+".key", "duplicate key %q", l.Key)
			}
			lessonKeys[l.Key] = true
		}
	}
	return nil
}

// resolve maps an unlock_after key to the ID of an already created item.
func resolve(field, key string, created map[string]string) (string, error) {
	if key == "" {
		return "", nil
	}
	id, ok := created[key]
	if !ok {
		return "", course.Invalid(field, "%q must refer to an earlier item", key)
	}
	return id, nil
}

func duration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, course.Invalid(field, "invalid duration %q", s)
	}
	return d, nil
}

func docName(doc Document) string {
	if doc.Path != "" {
		return doc.Path
	}
	return fmt.Sprintf("%q", doc.Title)
}
