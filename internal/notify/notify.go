// Package notify carries domain events from the progression engine to
// whatever delivers them. The engine only emits; it never waits on delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Event types emitted by the engine.
const (
	QuizPassed        = "quiz_passed"
	LessonCompleted   = "lesson_completed"
	CourseCompleted   = "course_completed"
	CertificateIssued = "certificate_issued"
)

// Event is a domain event such as CourseCompleted{user, course}.
type Event struct {
	Type      string         `json:"type"`
	UserID    string         `json:"user_id"`
	CourseID  string         `json:"course_id,omitempty"`
	QuizID    string         `json:"quiz_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Emitter accepts events without blocking the caller on delivery.
type Emitter interface {
	Emit(event Event)
}

// Publisher delivers one event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher ignores all events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Emit(Event) {}

// MemoryPublisher stores events in memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{events: []Event{}}
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

// Emit records the event synchronously.
func (p *MemoryPublisher) Emit(event Event) {
	_ = p.Publish(context.Background(), event)
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event{}, p.events...)
}

// OfType returns the recorded events of one type.
func (p *MemoryPublisher) OfType(typ string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// LogPublisher writes events to the structured log.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event Event) error {
	slog.Info("domain event",
		"type", event.Type,
		"user_id", event.UserID,
		"course_id", event.CourseID,
		"quiz_id", event.QuizID,
	)
	return nil
}

// PostgresPublisher appends events to the course_events table.
type PostgresPublisher struct {
	pool *pgxpool.Pool
}

func NewPostgresPublisher(pool *pgxpool.Pool) *PostgresPublisher {
	return &PostgresPublisher{pool: pool}
}

func (p *PostgresPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.pool == nil {
		return fmt.Errorf("event publisher pool is nil")
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx,
		`INSERT INTO course_events (type, user_id, course_id, quiz_id, data, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		event.Type,
		event.UserID,
		event.CourseID,
		event.QuizID,
		string(data),
		createdAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event stored", "type", event.Type, "user_id", event.UserID)
	return nil
}
