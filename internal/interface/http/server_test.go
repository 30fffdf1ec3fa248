package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-hub/aula-insights/internal/application/alerting"
	"github.com/aula-hub/aula-insights/internal/domain/document"
	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/internal/domain/notification"
	"github.com/aula-hub/aula-insights/internal/domain/student"
	"github.com/aula-hub/aula-insights/internal/infrastructure/subscription"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEST DOUBLES
// ══════════════════════════════════════════════════════════════════════════════

type stubStudents struct {
	students []student.Student
	series   map[student.ID]student.Series
}

func (s *stubStudents) GetByID(ctx context.Context, id student.ID) (*student.Student, error) {
	for _, st := range s.students {
		if st.ID == id {
			return &st, nil
		}
	}
	return nil, student.ErrStudentNotFound
}

func (s *stubStudents) List(ctx context.Context) ([]student.Student, error) {
	return s.students, nil
}

func (s *stubStudents) GetSeries(ctx context.Context, id student.ID, q student.SeriesQuery) (student.Series, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return student.Series{}, err
	}
	return s.series[id], nil
}

type stubRecords struct {
	records []*notification.Record
	err     error
}

func (s *stubRecords) ListByStudent(ctx context.Context, id student.ID, limit int) ([]*notification.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*notification.Record
	for _, rec := range s.records {
		if rec.StudentID == id && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

type stubSweeper struct {
	report alerting.SweepReport
	calls  int
}

func (s *stubSweeper) Run(ctx context.Context) (alerting.SweepReport, error) {
	s.calls++
	return s.report, nil
}

type stubRetrier struct {
	result alerting.SweepResult
}

func (s *stubRetrier) RetrySweep(ctx context.Context) (alerting.SweepResult, error) {
	return s.result, nil
}

// fakeStore feeds the subscription cache in the SSE test.
type fakeStore struct {
	mu   sync.Mutex
	subs []*fakeSub
}

type fakeSub struct {
	ch     chan document.Update
	closed sync.Once
}

func (s *fakeSub) Updates() <-chan document.Update { return s.ch }

func (s *fakeSub) Close() error {
	s.closed.Do(func() { close(s.ch) })
	return nil
}

func (f *fakeStore) Subscribe(ctx context.Context, q document.Query) (document.Subscription, error) {
	sub := &fakeSub{ch: make(chan document.Update, 4)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

func (f *fakeStore) push(docs ...document.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.ch <- document.Update{Docs: docs}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

func testSeries(id student.ID) student.Series {
	now := time.Now()
	return student.Series{
		StudentID:      id,
		CurrentPeriod:  "2026-T2",
		PreviousPeriod: "2026-T1",
		Grades: []student.Grade{
			{StudentID: id, Subject: "Matemáticas", Value: 3.0, Period: "2026-T2", RecordedAt: now},
			{StudentID: id, Subject: "Lengua", Value: 3.5, Period: "2026-T2", RecordedAt: now},
			{StudentID: id, Subject: "Matemáticas", Value: 6.0, Period: "2026-T1", RecordedAt: now.AddDate(0, -3, 0)},
		},
	}
}

func newTestServer(t *testing.T, mutate func(*Config, *Dependencies)) *Server {
	t.Helper()

	students := &stubStudents{
		students: []student.Student{
			{ID: "alu-1", Name: "Lucía Fernández", Group: "3A", Guardian: "fam-1"},
			{ID: "alu-2", Name: "Marco Ruiz", Group: "3B", Guardian: "fam-2"},
		},
		series: map[student.ID]student.Series{
			"alu-1": testSeries("alu-1"),
		},
	}

	rec, err := notification.NewRecord(notification.NewRecordParams{
		StudentID:   "alu-1",
		FindingKind: insight.KindCriticalPerformance,
		Channel:     notification.ChannelEmail,
		Priority:    insight.PriorityCritical,
		Title:       "Alerta de rendimiento",
		Body:        "Media actual: 3.2",
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0

	deps := Dependencies{
		Students: students,
		Engine:   insight.NewEngine(),
		Records:  &stubRecords{records: []*notification.Record{rec}},
		Sweeper:  &stubSweeper{report: alerting.SweepReport{Students: 2, Findings: 3, Dispatched: 1}},
		Retrier:  &stubRetrier{result: alerting.SweepResult{Processed: 2, Sent: 1, Deferred: 1}},
	}

	if mutate != nil {
		mutate(&cfg, &deps)
	}

	return NewServer(cfg, deps)
}

func doRequest(t *testing.T, s *Server, method, path string, header map[string]string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var body JSONResponse
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr, body
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, nil)

	rr, body := doRequest(t, s, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, body.Success)
}

func TestServer_ListStudents(t *testing.T) {
	s := newTestServer(t, nil)

	rr, body := doRequest(t, s, http.MethodGet, "/api/v1/students", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, body.Success)
	require.NotNil(t, body.Meta)
	assert.Equal(t, 2, body.Meta.TotalCount)
}

func TestServer_GetStudent(t *testing.T) {
	s := newTestServer(t, nil)

	rr, body := doRequest(t, s, http.MethodGet, "/api/v1/students/alu-1", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	data, err := json.Marshal(body.Data)
	require.NoError(t, err)

	var dto studentDTO
	require.NoError(t, json.Unmarshal(data, &dto))
	assert.Equal(t, "Lucía Fernández", dto.Name)
	assert.Equal(t, "3A", dto.Group)
}

func TestServer_GetStudent_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rr, body := doRequest(t, s, http.MethodGet, "/api/v1/students/alu-999", nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "student_not_found", body.Error.Code)
}

func TestServer_GetFindings(t *testing.T) {
	s := newTestServer(t, nil)

	rr, body := doRequest(t, s, http.MethodGet, "/api/v1/students/alu-1/findings", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	data, err := json.Marshal(body.Data)
	require.NoError(t, err)

	var findings []findingDTO
	require.NoError(t, json.Unmarshal(data, &findings))
	require.NotEmpty(t, findings)

	// 3.25 average in the current period is critical performance.
	assert.Equal(t, string(insight.KindCriticalPerformance), findings[0].Kind)
	assert.Equal(t, "alu-1", findings[0].StudentID)
}

func TestServer_GetFindings_BadWindow(t *testing.T) {
	s := newTestServer(t, nil)

	rr, body := doRequest(t, s, http.MethodGet, "/api/v1/students/alu-1/findings?window_days=9999", nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "invalid_window", body.Error.Code)
}

func TestServer_GetNotifications(t *testing.T) {
	s := newTestServer(t, nil)

	rr, body := doRequest(t, s, http.MethodGet, "/api/v1/students/alu-1/notifications", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	data, err := json.Marshal(body.Data)
	require.NoError(t, err)

	var records []recordDTO
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "pending", records[0].State)
	assert.Equal(t, "email", records[0].Channel)
}

func TestServer_GetNotifications_BadLimit(t *testing.T) {
	s := newTestServer(t, nil)

	rr, _ := doRequest(t, s, http.MethodGet, "/api/v1/students/alu-1/notifications?limit=500", nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_AdminRequiresAPIKey(t *testing.T) {
	s := newTestServer(t, func(cfg *Config, deps *Dependencies) {
		cfg.APIKeys = []string{"secret-key"}
	})

	rr, _ := doRequest(t, s, http.MethodPost, "/api/v1/admin/sweep", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, body := doRequest(t, s, http.MethodPost, "/api/v1/admin/sweep", map[string]string{"X-API-Key": "secret-key"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, body.Success)
}

func TestServer_AdminRetry(t *testing.T) {
	s := newTestServer(t, func(cfg *Config, deps *Dependencies) {
		cfg.APIKeys = []string{"secret-key"}
	})

	rr, body := doRequest(t, s, http.MethodPost, "/api/v1/admin/retry", map[string]string{"Authorization": "Bearer secret-key"})

	require.Equal(t, http.StatusOK, rr.Code)
	data, err := json.Marshal(body.Data)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"processed":2`)
}

func TestServer_CacheStatsUnavailable(t *testing.T) {
	s := newTestServer(t, nil)

	rr, body := doRequest(t, s, http.MethodGet, "/api/v1/cache/stats", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "cache_unavailable", body.Error.Code)
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *Config, deps *Dependencies) {
		cfg.RateLimitPerMinute = 2
	})

	for i := 0; i < 2; i++ {
		rr, _ := doRequest(t, s, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr, body := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "rate_limit_exceeded", body.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIVE QUERY STREAM
// ══════════════════════════════════════════════════════════════════════════════

func TestParseLiveQuery(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		wantErr bool
		check   func(t *testing.T, q document.Query)
	}{
		{
			name:   "collection only",
			target: "/api/v1/live/students",
			check: func(t *testing.T, q document.Query) {
				assert.Equal(t, "students", q.Collection)
				assert.Empty(t, q.Filters)
			},
		},
		{
			name:   "filters order and limit",
			target: "/api/v1/live/grades?filter=group:eq:3A&filter=value:lt:5&order=recorded_at:desc&limit=10",
			check: func(t *testing.T, q document.Query) {
				require.Len(t, q.Filters, 2)
				assert.Equal(t, document.OpEqual, q.Filters[0].Operator)
				assert.Equal(t, document.OpLessThan, q.Filters[1].Operator)
				require.Len(t, q.OrderBy, 1)
				assert.Equal(t, document.Descending, q.OrderBy[0].Direction)
				assert.Equal(t, 10, q.Limit)
			},
		},
		{
			name:    "malformed filter",
			target:  "/api/v1/live/grades?filter=group=3A",
			wantErr: true,
		},
		{
			name:    "unknown operator",
			target:  "/api/v1/live/grades?filter=group:like:3A",
			wantErr: true,
		},
		{
			name:    "bad order direction",
			target:  "/api/v1/live/grades?order=value:sideways",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req.SetPathValue("collection", strings.TrimPrefix(req.URL.Path, "/api/v1/live/"))

			q, err := parseLiveQuery(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, q)
		})
	}
}

func TestServer_LiveQueryStream(t *testing.T) {
	store := &fakeStore{}
	cache, err := subscription.New(subscription.Config{Store: store})
	require.NoError(t, err)
	defer func() { _ = cache.Shutdown() }()

	s := newTestServer(t, func(cfg *Config, deps *Dependencies) {
		deps.Live = cache
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/live/students?filter=group:eq:3A", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The headers arrive before the cache subscribe completes only if the
	// handler flushed; pushing after a short wait keeps this robust.
	go func() {
		time.Sleep(50 * time.Millisecond)
		store.push(document.Document{
			ID:     "doc-1",
			Fields: map[string]any{"name": "Lucía Fernández", "group": "3A"},
		})
	}()

	scanner := bufio.NewScanner(resp.Body)
	var frame string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frame = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, frame, "expected a data frame on the stream")

	var ev liveEvent
	require.NoError(t, json.Unmarshal([]byte(frame), &ev))
	require.Len(t, ev.Docs, 1)
	assert.Equal(t, "doc-1", ev.Docs[0].ID)
	assert.Equal(t, "3A", ev.Docs[0].Fields["group"])
	assert.Empty(t, ev.Error)
}

func TestServer_LiveQuery_InvalidFilter(t *testing.T) {
	store := &fakeStore{}
	cache, err := subscription.New(subscription.Config{Store: store})
	require.NoError(t, err)
	defer func() { _ = cache.Shutdown() }()

	s := newTestServer(t, func(cfg *Config, deps *Dependencies) {
		deps.Live = cache
	})

	rr, body := doRequest(t, s, http.MethodGet, "/api/v1/live/students?filter=broken", nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "invalid_query", body.Error.Code)
}
