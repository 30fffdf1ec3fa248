package http

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/internal/domain/notification"
	"github.com/aula-hub/aula-insights/internal/domain/student"
	"github.com/aula-hub/aula-insights/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot returns basic service information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Endpoint not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "aula-insights",
		"version": "v1",
		"endpoints": []string{
			"GET /health",
			"GET /api/v1/students",
			"GET /api/v1/students/{id}",
			"GET /api/v1/students/{id}/findings",
			"GET /api/v1/students/{id}/notifications",
			"GET /api/v1/live/{collection}",
			"GET /api/v1/cache/stats",
		},
	})
}

// handleHealth returns the aggregated health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, status)
}

// handleReady reports readiness for traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())

	if !status.Ready {
		writeJSONError(w, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive is the liveness probe: the process answers, so it is alive.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// DTO MAPPING
// ══════════════════════════════════════════════════════════════════════════════

type studentDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Group    string `json:"group,omitempty"`
	Guardian string `json:"guardian,omitempty"`
}

func toStudentDTO(st student.Student) studentDTO {
	return studentDTO{
		ID:       st.ID.String(),
		Name:     st.Name,
		Group:    st.Group,
		Guardian: st.Guardian,
	}
}

type metricsDTO struct {
	CurrentAverage  float64  `json:"current_average"`
	PreviousAverage float64  `json:"previous_average,omitempty"`
	HasPrevious     bool     `json:"has_previous"`
	Absences        int      `json:"absences"`
	AttendanceRate  float64  `json:"attendance_rate"`
	Trend           string   `json:"trend"`
	AtRiskSubjects  []string `json:"at_risk_subjects,omitempty"`
}

type findingDTO struct {
	StudentID   string     `json:"student_id"`
	Kind        string     `json:"kind"`
	Priority    string     `json:"priority"`
	Message     string     `json:"message"`
	Metrics     metricsDTO `json:"metrics"`
	GeneratedAt time.Time  `json:"generated_at"`
}

func toFindingDTO(f insight.Finding) findingDTO {
	return findingDTO{
		StudentID: f.StudentID.String(),
		Kind:      string(f.Kind),
		Priority:  f.Priority.String(),
		Message:   f.Message,
		Metrics: metricsDTO{
			CurrentAverage:  f.Metrics.CurrentAverage,
			PreviousAverage: f.Metrics.PreviousAverage,
			HasPrevious:     f.Metrics.HasPrevious,
			Absences:        f.Metrics.Absences,
			AttendanceRate:  f.Metrics.AttendanceRate,
			Trend:           f.Metrics.Trend.String(),
			AtRiskSubjects:  f.Metrics.AtRiskSubjects,
		},
		GeneratedAt: f.GeneratedAt,
	}
}

type recordDTO struct {
	ID          string     `json:"id"`
	StudentID   string     `json:"student_id"`
	FindingKind string     `json:"finding_kind,omitempty"`
	Channel     string     `json:"channel"`
	Priority    string     `json:"priority"`
	Title       string     `json:"title"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

func toRecordDTO(rec *notification.Record) recordDTO {
	return recordDTO{
		ID:          string(rec.ID),
		StudentID:   rec.StudentID.String(),
		FindingKind: string(rec.FindingKind),
		Channel:     rec.Channel.String(),
		Priority:    rec.Priority.String(),
		Title:       rec.Title,
		State:       rec.State.String(),
		Attempts:    rec.Attempts,
		LastError:   rec.LastError,
		CreatedAt:   rec.CreatedAt,
		SentAt:      rec.SentAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListStudents returns all enrolled students.
func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.deps.Students.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list students", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load students")
		return
	}

	dtos := make([]studentDTO, 0, len(students))
	for _, st := range students {
		dtos = append(dtos, toStudentDTO(st))
	}

	writeJSONWithMeta(w, r, http.StatusOK, dtos, &ResponseMeta{TotalCount: len(dtos)})
}

// handleGetStudent returns one student.
func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	id := student.ID(r.PathValue("id"))
	if !id.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_id", "Student ID is required")
		return
	}

	st, err := s.deps.Students.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, student.ErrStudentNotFound) {
			writeJSONError(w, http.StatusNotFound, "student_not_found", "Student not found")
			return
		}
		s.logger.Error("failed to get student", logger.StudentID(id.String()), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load student")
		return
	}

	writeJSON(w, http.StatusOK, toStudentDTO(*st))
}

// handleGetFindings evaluates the student's series on demand and returns the
// prioritized findings. Query parameters: window_days, period, previous_period.
func (s *Server) handleGetFindings(w http.ResponseWriter, r *http.Request) {
	id := student.ID(r.PathValue("id"))
	if !id.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_id", "Student ID is required")
		return
	}

	windowDays := getQueryParamInt(r, "window_days", s.deps.Engine.Thresholds().AnalysisWindowDays)
	if windowDays <= 0 || windowDays > 365 {
		writeJSONError(w, http.StatusBadRequest, "invalid_window", "window_days must be between 1 and 365")
		return
	}

	q := student.SeriesQuery{
		Since:          time.Now().AddDate(0, 0, -windowDays),
		CurrentPeriod:  student.Period(getQueryParam(r, "period", "")),
		PreviousPeriod: student.Period(getQueryParam(r, "previous_period", "")),
	}

	series, err := s.deps.Students.GetSeries(r.Context(), id, q)
	if err != nil {
		if errors.Is(err, student.ErrStudentNotFound) {
			writeJSONError(w, http.StatusNotFound, "student_not_found", "Student not found")
			return
		}
		s.logger.Error("failed to load series", logger.StudentID(id.String()), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load academic series")
		return
	}

	findings := s.deps.Engine.Evaluate(series)

	dtos := make([]findingDTO, 0, len(findings))
	for _, f := range findings {
		dtos = append(dtos, toFindingDTO(f))
	}

	writeJSONWithMeta(w, r, http.StatusOK, dtos, &ResponseMeta{TotalCount: len(dtos)})
}

// handleGetNotifications returns the student's notification history, newest
// first. Query parameter: limit (default 20, max 100).
func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	id := student.ID(r.PathValue("id"))
	if !id.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_id", "Student ID is required")
		return
	}

	limit := getQueryParamInt(r, "limit", 20)
	if limit <= 0 || limit > 100 {
		writeJSONError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
		return
	}

	records, err := s.deps.Records.ListByStudent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list notifications", logger.StudentID(id.String()), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load notifications")
		return
	}

	dtos := make([]recordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toRecordDTO(rec))
	}

	writeJSONWithMeta(w, r, http.StatusOK, dtos, &ResponseMeta{TotalCount: len(dtos)})
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE & ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCacheStats exposes subscription cache activity for the dashboard's
// diagnostics panel.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Live == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "cache_unavailable", "Live query cache is not configured")
		return
	}

	stats := s.deps.Live.Stats()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":      stats.Entries,
		"listeners":    stats.Listeners,
		"warm_replays": stats.WarmReplays,
		"opens":        stats.Opens,
		"evictions":    stats.Evictions,
		"goroutines":   runtime.NumGoroutine(),
		"uptime":       s.Uptime().Round(time.Second).String(),
	})
}

// handleAdminSweep runs one full rule-engine review pass immediately.
func (s *Server) handleAdminSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "sweeper_unavailable", "Review sweeper is not configured")
		return
	}

	report, err := s.deps.Sweeper.Run(r.Context())
	if err != nil {
		s.logger.Error("manual review sweep failed", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "sweep_failed", "Review sweep failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"students":   report.Students,
		"findings":   report.Findings,
		"dispatched": report.Dispatched,
		"skipped":    report.Skipped,
		"deferred":   report.Deferred,
		"errors":     report.Errors,
		"elapsed":    report.Elapsed.Round(time.Millisecond).String(),
	})
}

// handleAdminRetry retries pending notification records immediately.
func (s *Server) handleAdminRetry(w http.ResponseWriter, r *http.Request) {
	if s.deps.Retrier == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "dispatcher_unavailable", "Notification dispatcher is not configured")
		return
	}

	result, err := s.deps.Retrier.RetrySweep(r.Context())
	if err != nil {
		s.logger.Error("manual retry sweep failed", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "retry_failed", "Retry sweep failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed": result.Processed,
		"sent":      result.Sent,
		"retrying":  result.Retrying,
		"failed":    result.Failed,
		"deferred":  result.Deferred,
	})
}
