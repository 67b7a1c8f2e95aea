package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// readinessCheck is a named dependency probed by /readyz.
type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// newMux creates the HTTP router with health check endpoints and, when
// reports is set, the progress report download.
func newMux(reports *report.Service, checks ...readinessCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(checks))
	if reports != nil {
		mux.HandleFunc("GET /reports/courses/{courseID}/progress.xlsx", handleProgressReport(reports))
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReadyz(checks []readinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				slog.Warn("readiness check failed", "check", c.name, "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "failed": c.name})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func handleProgressReport(reports *report.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courseID := r.PathValue("courseID")

		var buf bytes.Buffer
		err := reports.CourseProgress(r.Context(), courseID, &buf)
		switch {
		case errors.Is(err, course.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "course not found"})
			return
		case err != nil:
			slog.Error("progress report failed", "course_id", courseID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "report failed"})
			return
		}

		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="progress-`+courseID+`.xlsx"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
