package progress

import (
	"github.com/p-n-ai/pai-courses/internal/course"
)

// Reasons a lesson can be locked.
const (
	LockedByChapter    = "chapter_locked"
	LockedByLesson     = "lesson_locked"
	LockedBySequential = "sequential_access"
)

// Access is the lock state of a lesson for one learner.
type Access struct {
	LessonID  string `json:"lesson_id"`
	Locked    bool   `json:"locked"`
	Reason    string `json:"reason,omitempty"`
	WaitingOn string `json:"waiting_on,omitempty"` // ID of the unfinished prerequisite
}

// cleared reports whether a lesson satisfies the lessons that unlock after
// it: effectively completed, with every prerequisite quiz passed.
func (s *snapshot) cleared(l course.Lesson) bool {
	if !s.completed(l) {
		return false
	}
	for _, q := range s.activeQuizzes(l.ID) {
		if q.IsPrerequisite && !s.passed(q, q.PassingScore) {
			return false
		}
	}
	return true
}

// chapterCleared reports whether every mandatory lesson of a chapter is
// cleared, or every lesson when none is mandatory.
func (s *snapshot) chapterCleared(ch course.Chapter) bool {
	lessons := s.chapterLessons(ch.ID)
	var mandatory []course.Lesson
	for _, l := range lessons {
		if l.Mandatory {
			mandatory = append(mandatory, l)
		}
	}
	if len(mandatory) > 0 {
		lessons = mandatory
	}
	for _, l := range lessons {
		if !s.cleared(l) {
			return false
		}
	}
	return true
}

func (s *snapshot) lesson(id string) (course.Lesson, bool) {
	for _, l := range s.lessons {
		if l.ID == id {
			return l, true
		}
	}
	return course.Lesson{}, false
}

// previousChapter returns the closest active chapter ordered before ch.
func (s *snapshot) previousChapter(ch course.Chapter) (course.Chapter, bool) {
	var prev course.Chapter
	found := false
	for _, other := range s.chapters {
		if other.Status == course.StatusActive && other.Order < ch.Order && (!found || other.Order > prev.Order) {
			prev, found = other, true
		}
	}
	return prev, found
}

// previousInChapter returns the closest active lesson ordered before l in its chapter.
func (s *snapshot) previousInChapter(l course.Lesson) (course.Lesson, bool) {
	var prev course.Lesson
	found := false
	for _, other := range s.chapterLessons(l.ChapterID) {
		if other.Order < l.Order && (!found || other.Order > prev.Order) {
			prev, found = other, true
		}
	}
	return prev, found
}

// neighbour returns the active lesson step positions away from l in course order.
func (s *snapshot) neighbour(l course.Lesson, step int) (course.Lesson, bool) {
	lessons := s.activeLessons()
	for i, other := range lessons {
		if other.ID != l.ID {
			continue
		}
		j := i + step
		if j < 0 || j >= len(lessons) {
			return course.Lesson{}, false
		}
		return lessons[j], true
	}
	return course.Lesson{}, false
}

// access resolves the lock state of l. Archived or missing prerequisites
// count as satisfied.
func (s *snapshot) access(l course.Lesson) Access {
	acc := Access{LessonID: l.ID}
	lock := func(reason, waitingOn string) Access {
		acc.Locked, acc.Reason, acc.WaitingOn = true, reason, waitingOn
		return acc
	}

	if ch, ok := s.chapter(l.ChapterID); ok && ch.Locked {
		var (
			prereq course.Chapter
			found  bool
		)
		if ch.UnlockAfter != "" {
			prereq, found = s.chapter(ch.UnlockAfter)
			found = found && prereq.Status == course.StatusActive
		} else {
			prereq, found = s.previousChapter(ch)
		}
		if found && !s.chapterCleared(prereq) {
			return lock(LockedByChapter, prereq.ID)
		}
	}

	if l.Locked {
		var (
			prereq course.Lesson
			found  bool
		)
		if l.UnlockAfter != "" {
			prereq, found = s.lesson(l.UnlockAfter)
			found = found && prereq.Status == course.StatusActive
		} else {
			prereq, found = s.previousInChapter(l)
		}
		if found && !s.cleared(prereq) {
			return lock(LockedByLesson, prereq.ID)
		}
	}

	if s.course.EnforceSequentialAccess {
		if prev, ok := s.neighbour(l, -1); ok && !s.cleared(prev) {
			return lock(LockedBySequential, prev.ID)
		}
	}
	return acc
}
