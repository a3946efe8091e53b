package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/threadharvest/threadharvest/internal/crawler"
	"github.com/threadharvest/threadharvest/internal/manager"
	"github.com/threadharvest/threadharvest/internal/scheduler"
	"github.com/threadharvest/threadharvest/internal/storage/memory"
)

type stubManager struct {
	mu      sync.Mutex
	running bool
	runs    []crawler.CrawlRange
	probeOK bool
}

func (m *stubManager) Run(_ context.Context, rng crawler.CrawlRange) (manager.Outcome, error) {
	m.mu.Lock()
	m.runs = append(m.runs, rng)
	m.mu.Unlock()
	return manager.Outcome{Success: true, Records: 1, Attempts: 1}, nil
}

func (m *stubManager) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *stubManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *stubManager) Status() crawler.Status {
	return crawler.Status{State: crawler.StateIdle}
}

func (m *stubManager) TestConnection(context.Context) (bool, string) {
	if m.probeOK {
		return true, "site reachable"
	}
	return false, "challenge page"
}

func (m *stubManager) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func newTestServer(t *testing.T, mgr *stubManager) (*Server, *memory.RecordStore, *memory.TaskStore) {
	t.Helper()
	records := memory.NewRecordStore()
	tasks := memory.NewTaskStore()
	srv := NewServer(mgr, records, tasks, nil, nil, Defaults{
		PageDelay:     time.Second,
		MaxConcurrent: 5,
	}, nil)
	return srv, records, tasks
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, &stubManager{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStartCrawlAccepted(t *testing.T) {
	t.Parallel()

	mgr := &stubManager{}
	srv, _, _ := newTestServer(t, mgr)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/crawler/start",
		`{"forum_id":"36","start_page":1,"end_page":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "亚洲无码", resp["forum_name"])

	require.Eventually(t, func() bool { return mgr.runCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestStartCrawlValidation(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, &stubManager{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/crawler/start", `{"start_page":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/crawler/start", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCrawlConflictWhileRunning(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, &stubManager{running: true})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/crawler/start", `{"forum_id":"36"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestStopCrawl(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, &stubManager{running: true})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/crawler/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"stopped":true`)

	srv2, _, _ := newTestServer(t, &stubManager{})
	rec = doJSON(t, srv2.Handler(), http.MethodPost, "/api/crawler/stop", "")
	require.Contains(t, rec.Body.String(), `"stopped":false`)
}

func TestCrawlStatus(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, &stubManager{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/crawler/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"running":false`)
	require.Contains(t, rec.Body.String(), `"idle"`)
}

func TestListThemesIncludesCounts(t *testing.T) {
	t.Parallel()

	srv, records, _ := newTestServer(t, &stubManager{})
	require.NoError(t, records.Save(context.Background(),
		crawler.ThreadRecord{TID: "1", ForumID: "36"}))

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/crawler/themes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Themes []struct {
			FID   string `json:"fid"`
			Name  string `json:"name"`
			Count int    `json:"count"`
		} `json:"themes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Themes, 7)
	for _, theme := range resp.Themes {
		if theme.FID == "36" {
			require.Equal(t, 1, theme.Count)
		}
	}
}

func TestTestConnectionEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, &stubManager{probeOK: true})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/crawler/test-connection", "")
	require.Equal(t, http.StatusOK, rec.Code)

	srv2, _, _ := newTestServer(t, &stubManager{})
	rec = doJSON(t, srv2.Handler(), http.MethodGet, "/api/crawler/test-connection", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestListMagnets(t *testing.T) {
	t.Parallel()

	srv, records, _ := newTestServer(t, &stubManager{})
	require.NoError(t, records.Save(context.Background(), crawler.ThreadRecord{
		TID: "100", Title: "SSIS-001", ForumID: "36", CrawledAt: time.Now(),
	}))

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/magnets?forum_id=36&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "SSIS-001")

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/magnets?forum_id=37", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"records":[]`)
}

func TestTaskCRUDOverHTTP(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, &stubManager{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/tasks/",
		`{"name":"nightly","cron_expr":"0 3 * * *","forum_id":"36","start_page":1,"end_page":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = doJSON(t, h, http.MethodGet, "/api/tasks/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "nightly")

	rec = doJSON(t, h, http.MethodPost, "/api/tasks/"+created.ID+"/toggle", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/tasks/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/tasks/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTaskRejectsBadCron(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, &stubManager{})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/tasks/",
		`{"name":"bad","cron_expr":"nope","forum_id":"36","start_page":1,"end_page":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunTaskWithoutScheduler(t *testing.T) {
	t.Parallel()

	srv, _, tasks := newTestServer(t, &stubManager{})
	task, err := tasks.Create(context.Background(), scheduler.Task{
		Name: "manual", CronExpr: "0 3 * * *", ForumID: "36",
		StartPage: 1, EndPage: 1, Enabled: true,
	})
	require.NoError(t, err)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/tasks/"+task.ID+"/run", "")
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
