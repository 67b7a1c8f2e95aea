package database

import (
	"context"
	"fmt"
)

// Migrate applies the idempotent schema. Call it once on startup after New.
func (db *DB) Migrate(ctx context.Context) error {
	if db == nil || db.Pool == nil {
		return fmt.Errorf("migrate: db is nil")
	}
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Sibling positions are unique per scope but checked at commit, so a reorder
// can shift rows through intermediate duplicates inside one transaction.
const schema = `
CREATE TABLE IF NOT EXISTS courses (
  id                              TEXT PRIMARY KEY,
  author_id                       TEXT NOT NULL,
  title                           TEXT NOT NULL,
  status                          TEXT NOT NULL DEFAULT 'draft',
  enforce_sequential_access       BOOLEAN NOT NULL DEFAULT FALSE,
  require_quizzes_for_certificate BOOLEAN NOT NULL DEFAULT FALSE,
  revision                        BIGINT NOT NULL DEFAULT 0,
  created_at                      TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at                      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chapters (
  id           TEXT PRIMARY KEY,
  course_id    TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  name         TEXT NOT NULL,
  description  TEXT NOT NULL DEFAULT '',
  position     INTEGER NOT NULL CHECK (position >= 1),
  unlock_after TEXT,
  locked       BOOLEAN NOT NULL DEFAULT FALSE,
  status       TEXT NOT NULL DEFAULT 'active',
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chapters_position_key UNIQUE (course_id, position) DEFERRABLE INITIALLY DEFERRED
);

CREATE TABLE IF NOT EXISTS lessons (
  id                        TEXT PRIMARY KEY,
  chapter_id                TEXT NOT NULL REFERENCES chapters(id) ON DELETE CASCADE,
  name                      TEXT NOT NULL,
  content                   TEXT NOT NULL DEFAULT '',
  position                  INTEGER NOT NULL CHECK (position >= 1),
  unlock_after              TEXT,
  locked                    BOOLEAN NOT NULL DEFAULT FALSE,
  mandatory                 BOOLEAN NOT NULL DEFAULT TRUE,
  requires_quiz_pass        BOOLEAN NOT NULL DEFAULT FALSE,
  min_time_spent_ms         BIGINT NOT NULL DEFAULT 0,
  min_quiz_score            DOUBLE PRECISION NOT NULL DEFAULT 70,
  min_completion_percentage DOUBLE PRECISION NOT NULL DEFAULT 100,
  status                    TEXT NOT NULL DEFAULT 'active',
  created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT lessons_position_key UNIQUE (chapter_id, position) DEFERRABLE INITIALLY DEFERRED
);

CREATE TABLE IF NOT EXISTS quizzes (
  id                       TEXT PRIMARY KEY,
  lesson_id                TEXT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
  name                     TEXT NOT NULL,
  time_limit_ms            BIGINT NOT NULL DEFAULT 0,
  passing_score            DOUBLE PRECISION NOT NULL DEFAULT 70,
  max_attempts             INTEGER NOT NULL DEFAULT 3 CHECK (max_attempts >= 0),
  blocks_lesson_completion BOOLEAN NOT NULL DEFAULT FALSE,
  is_prerequisite          BOOLEAN NOT NULL DEFAULT FALSE,
  status                   TEXT NOT NULL DEFAULT 'active',
  created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS quizzes_lesson_idx ON quizzes (lesson_id);

CREATE TABLE IF NOT EXISTS questions (
  id          TEXT PRIMARY KEY,
  quiz_id     TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
  text        TEXT NOT NULL,
  explanation TEXT NOT NULL DEFAULT '',
  type        SMALLINT NOT NULL,
  points      DOUBLE PRECISION NOT NULL CHECK (points > 0),
  position    INTEGER NOT NULL CHECK (position >= 1),
  options     JSONB NOT NULL DEFAULT '[]'::jsonb,
  CONSTRAINT questions_position_key UNIQUE (quiz_id, position) DEFERRABLE INITIALLY DEFERRED
);

-- Attempts and progress outlive archived content, so they hold plain IDs.
CREATE TABLE IF NOT EXISTS quiz_attempts (
  id              TEXT PRIMARY KEY,
  user_id         TEXT NOT NULL,
  quiz_id         TEXT NOT NULL,
  attempt_number  INTEGER NOT NULL,
  started_at      TIMESTAMPTZ NOT NULL,
  ended_at        TIMESTAMPTZ,
  score           DOUBLE PRECISION,
  earned_points   DOUBLE PRECISION NOT NULL DEFAULT 0,
  possible_points DOUBLE PRECISION NOT NULL DEFAULT 0,
  passed          BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS quiz_attempts_user_quiz_idx ON quiz_attempts (user_id, quiz_id);
CREATE UNIQUE INDEX IF NOT EXISTS quiz_attempts_open_idx ON quiz_attempts (user_id, quiz_id) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS attempt_answers (
  attempt_id          TEXT NOT NULL REFERENCES quiz_attempts(id) ON DELETE CASCADE,
  question_id         TEXT NOT NULL,
  selected_option_ids TEXT[] NOT NULL DEFAULT '{}',
  recorded_at         TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS user_progress (
  user_id           TEXT NOT NULL,
  lesson_id         TEXT NOT NULL,
  first_accessed_at TIMESTAMPTZ NOT NULL,
  last_accessed_at  TIMESTAMPTZ NOT NULL,
  access_count      INTEGER NOT NULL DEFAULT 0,
  time_spent_ms     BIGINT NOT NULL DEFAULT 0,
  completed         BOOLEAN NOT NULL DEFAULT FALSE,
  completed_at      TIMESTAMPTZ,
  PRIMARY KEY (user_id, lesson_id)
);

CREATE INDEX IF NOT EXISTS user_progress_lesson_idx ON user_progress (lesson_id);

CREATE TABLE IF NOT EXISTS enrollments (
  id                    TEXT PRIMARY KEY,
  user_id               TEXT NOT NULL,
  course_id             TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  progress_percentage   DOUBLE PRECISION NOT NULL DEFAULT 0,
  current_lesson_id     TEXT,
  certificate_issued_at TIMESTAMPTZ,
  enrolled_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
  version               BIGINT NOT NULL DEFAULT 0,
  UNIQUE (user_id, course_id)
);

ALTER TABLE enrollments ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;

CREATE TABLE IF NOT EXISTS certificates (
  id            TEXT PRIMARY KEY,
  enrollment_id TEXT NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
  user_id       TEXT NOT NULL,
  course_id     TEXT NOT NULL,
  code          TEXT NOT NULL UNIQUE,
  final_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
  issued_at     TIMESTAMPTZ NOT NULL,
  UNIQUE (user_id, course_id)
);

CREATE TABLE IF NOT EXISTS course_events (
  id         BIGSERIAL PRIMARY KEY,
  type       TEXT NOT NULL,
  user_id    TEXT NOT NULL DEFAULT '',
  course_id  TEXT NOT NULL DEFAULT '',
  quiz_id    TEXT NOT NULL DEFAULT '',
  data       JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS course_events_user_idx ON course_events (user_id, created_at);
`
