package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/app"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/handlers"
	"github.com/ternarybob/filingwatch/internal/models"
	"github.com/ternarybob/filingwatch/internal/services/quota"
	"github.com/ternarybob/filingwatch/internal/services/scheduler"
	"github.com/ternarybob/filingwatch/internal/storage/badger"
)

func newTestServer(t *testing.T) (*Server, *badger.Manager) {
	t.Helper()
	logger := arbor.NewLogger()
	config := common.NewDefaultConfig()
	config.Storage.Badger.Path = t.TempDir()

	manager, err := badger.NewManager(logger, &config.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	ledger, err := quota.NewService(manager.QuotaStorage(), &config.Quota, logger)
	require.NoError(t, err)

	sched := scheduler.NewService(logger)
	require.NoError(t, sched.RegisterJob("drain", config.Drain.Schedule, "drain", func() error { return nil }))

	application := &app.App{
		Config:           config,
		Logger:           logger,
		StorageManager:   manager,
		StatusHandler:    handlers.NewStatusHandler(ledger, logger),
		QueueHandler:     handlers.NewQueueHandler(manager.QueueStorage(), manager.ArchiveStorage(), logger),
		SchedulerHandler: handlers.NewSchedulerHandler(sched, logger),
	}
	return New(application), manager
}

func do(t *testing.T, s *Server, method, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	code, body := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_QuotaStartsEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	code, body := do(t, s, http.MethodGet, "/api/quota")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, float64(50), body["daily_limit"])
	assert.Equal(t, float64(2), body["grantable"])
}

func TestServer_RequeuePermanentFailure(t *testing.T) {
	s, manager := newTestServer(t)
	ctx := context.Background()
	queue := manager.QueueStorage()

	now := time.Date(2025, 1, 30, 9, 0, 0, 0, time.UTC)
	job := models.NewJob(models.Filing{
		Ref:            "0000320193-25-000010",
		Identifier:     "AAPL",
		Type:           models.FilingTypeEvent,
		Date:           "2025-01-30",
		SourceLocation: "https://www.sec.gov/Archives/edgar/data/320193/000032019325000010/a8-k.htm",
	}, now)
	require.NoError(t, queue.Upsert(ctx, job))

	job.RetryCount = 3
	job.Status = models.JobStatusPermanentFail
	job.LastError = "extraction: 404"
	require.NoError(t, queue.UpdateStatus(ctx, job))

	code, body := do(t, s, http.MethodGet, "/api/queue?status=PERMANENT_FAIL")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["jobs"], 1)

	code, body = do(t, s, http.MethodPost, "/api/queue/0000320193-25-000010/requeue")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PENDING", body["status"])

	stored, err := queue.GetJob(ctx, job.FilingRef)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Empty(t, stored.LastError)

	code, _ = do(t, s, http.MethodPost, "/api/queue/0000320193-25-000010/requeue")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, s, http.MethodPost, "/api/queue/0000000000-00-000000/requeue")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_ArchiveNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	code, _ := do(t, s, http.MethodGet, "/api/archive/0000320193-25-000010")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_Jobs(t *testing.T) {
	s, _ := newTestServer(t)
	code, body := do(t, s, http.MethodGet, "/api/jobs")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["jobs"], 1)

	code, _ = do(t, s, http.MethodPost, "/api/jobs/drain/run")
	assert.Equal(t, http.StatusAccepted, code)

	code, _ = do(t, s, http.MethodPost, "/api/jobs/nope/run")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	code, _ := do(t, s, http.MethodGet, "/api/queue/x/requeue")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}
