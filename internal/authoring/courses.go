package authoring

import (
	"context"
	"errors"
	"log/slog"

	"github.com/p-n-ai/pai-courses/internal/course"
)

// CourseInput is the editable part of a course.
type CourseInput struct {
	ID                           string // optional stable ID; generated when empty, ignored by UpdateCourse
	Title                        string
	Status                       course.CourseStatus // default draft
	EnforceSequentialAccess      bool
	RequireQuizzesForCertificate bool
}

func (in CourseInput) validate() (string, course.CourseStatus, error) {
	title, err := cleanName("title", in.Title)
	if err != nil {
		return "", "", err
	}
	status := in.Status
	switch status {
	case "":
		status = course.CourseDraft
	case course.CourseDraft, course.CourseActive, course.CourseArchived:
	default:
		return "", "", course.Invalid("status", "unknown course status %q", status)
	}
	return title, status, nil
}

// CreateCourse creates an empty course owned by the actor's author.
func (s *Service) CreateCourse(ctx context.Context, actor Actor, in CourseInput) (course.Course, error) {
	if actor.UserID == "" || actor.AuthorID == "" {
		return course.Course{}, course.ErrUnauthorized
	}
	title, status, err := in.validate()
	if err != nil {
		return course.Course{}, err
	}

	id := in.ID
	if id == "" {
		id = course.NewID()
	}

	now := s.timestamp()
	c := course.Course{
		ID:                           id,
		AuthorID:                     actor.AuthorID,
		Title:                        title,
		Status:                       status,
		EnforceSequentialAccess:      in.EnforceSequentialAccess,
		RequireQuizzesForCertificate: in.RequireQuizzesForCertificate,
		Revision:                     1,
		CreatedAt:                    now,
		UpdatedAt:                    now,
	}
	err = s.run(ctx, func(tx course.Tx) error {
		if in.ID != "" {
			_, err := tx.GetCourse(ctx, in.ID)
			if err == nil {
				return course.Invalid("id", "course %s already exists", in.ID)
			}
			if !errors.Is(err, course.ErrNotFound) {
				return err
			}
		}
		return tx.SaveCourse(ctx, c)
	})
	if err != nil {
		return course.Course{}, err
	}

	slog.Info("course created", "course_id", c.ID, "author_id", c.AuthorID)
	return c, nil
}

// UpdateCourse replaces the editable fields of a course.
func (s *Service) UpdateCourse(ctx context.Context, actor Actor, courseID string, in CourseInput) (course.Course, error) {
	title, status, err := in.validate()
	if err != nil {
		return course.Course{}, err
	}

	var out course.Course
	err = s.run(ctx, func(tx course.Tx) error {
		c, err := s.authorize(ctx, tx, actor, courseID)
		if err != nil {
			return err
		}
		c.Title = title
		c.Status = status
		c.EnforceSequentialAccess = in.EnforceSequentialAccess
		c.RequireQuizzesForCertificate = in.RequireQuizzesForCertificate
		c.Revision++
		c.UpdatedAt = s.timestamp()
		out = c
		return tx.SaveCourse(ctx, c)
	})
	return out, err
}
