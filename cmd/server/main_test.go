package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/notify"
	"github.com/p-n-ai/pai-courses/internal/platform/config"
	"github.com/p-n-ai/pai-courses/internal/progress"
	"github.com/p-n-ai/pai-courses/internal/report"
)

func TestHealthEndpoints(t *testing.T) {
	healthy := readinessCheck{name: "database", check: func(context.Context) error { return nil }}
	down := readinessCheck{name: "cache", check: func(context.Context) error { return errors.New("connection refused") }}

	tests := []struct {
		name       string
		mux        *http.ServeMux
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			mux:        newMux(nil),
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz without checks returns 200",
			mux:        newMux(nil),
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
		{
			name:       "readyz with healthy checks returns 200",
			mux:        newMux(nil, healthy),
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
		{
			name:       "readyz names the failing check",
			mux:        newMux(nil, healthy, down),
			path:       "/readyz",
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"failed":"cache","status":"unavailable"}`,
		},
		{
			name:       "report route absent without a report service",
			mux:        newMux(nil),
			path:       "/reports/courses/c1/progress.xlsx",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			tt.mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && strings.TrimSpace(rec.Body.String()) != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestProgressReportEndpoint(t *testing.T) {
	store := course.NewMemoryStore()
	err := store.InTx(t.Context(), func(tx course.Tx) error {
		return tx.SaveCourse(t.Context(), course.Course{ID: "c1", AuthorID: "a1", Title: "Go", Status: course.CourseActive, Revision: 1})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	prog := progress.New(progress.Config{Store: store, Now: func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }})
	if _, err := prog.Enroll(t.Context(), "u1", "c1"); err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	mux := newMux(report.New(report.Config{Store: store, Progress: prog}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/courses/c1/progress.xlsx", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	f, err := excelize.OpenReader(rec.Body)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(report.SheetName)
	if err != nil || len(rows) != 2 || rows[1][0] != "u1" {
		t.Errorf("rows = %v, %v", rows, err)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/courses/missing/progress.xlsx", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing course status = %d, want 404", rec.Code)
	}
}

// shutdownLog records publishes and resource closes in the order they happen.
type shutdownLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *shutdownLog) add(step string) {
	l.mu.Lock()
	l.steps = append(l.steps, step)
	l.mu.Unlock()
}

func (l *shutdownLog) Publish(_ context.Context, e notify.Event) error {
	time.Sleep(20 * time.Millisecond)
	l.add("publish " + e.Type)
	return nil
}

func (l *shutdownLog) Steps() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.steps)
}

func TestServe_DrainsEventsBeforeClosingDatabase(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	canceled, cancel := context.WithCancel(t.Context())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		port    int
		wantErr bool
	}{
		{name: "listener fails", ctx: t.Context(), port: busyPort, wantErr: true},
		{name: "context done", ctx: canceled, port: 0, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &shutdownLog{}
			a := &app{dispatcher: notify.NewDispatcher(rec, 4)}
			a.onClose("database", func(context.Context) error {
				rec.add("database closed")
				return nil
			})
			a.onClose("events", a.dispatcher.Close)
			a.dispatcher.Emit(notify.Event{Type: notify.CourseCompleted, UserID: "u1", CourseID: "c1"})
			a.dispatcher.Emit(notify.Event{Type: notify.CertificateIssued, UserID: "u1", CourseID: "c1"})

			cfg := &config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: tt.port}}
			err := a.serve(tt.ctx, cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("serve() error = %v, wantErr %v", err, tt.wantErr)
			}

			want := []string{"publish " + notify.CourseCompleted, "publish " + notify.CertificateIssued, "database closed"}
			if got := rec.Steps(); !slices.Equal(got, want) {
				t.Errorf("shutdown steps = %v, want %v", got, want)
			}
		})
	}
}
