package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
)

// SchedulerHandler handles scheduler-related endpoints
type SchedulerHandler struct {
	schedulerService interfaces.SchedulerService
	logger           arbor.ILogger
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(schedulerService interfaces.SchedulerService, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		schedulerService: schedulerService,
		logger:           logger,
	}
}

// ListJobsHandler handles GET /api/jobs
func (h *SchedulerHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	statuses := h.schedulerService.GetAllJobStatuses()
	list := make([]*interfaces.ScheduledJobStatus, 0, len(statuses))
	for _, status := range statuses {
		list = append(list, status)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.schedulerService.IsRunning(),
		"jobs":    list,
	})
}

// RunJobHandler handles POST /api/jobs/{name}/run.
// A job that is already running is not started twice; the response says so with 409.
func (h *SchedulerHandler) RunJobHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.schedulerService.GetJobStatus(name); err != nil {
		WriteError(w, http.StatusNotFound, "unknown job: "+name)
		return
	}

	started, err := h.schedulerService.TriggerJob(name)
	if err != nil {
		h.logger.Error().Err(err).Str("job_name", name).Msg("Failed to trigger job")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !started {
		WriteError(w, http.StatusConflict, "job is already running: "+name)
		return
	}
	WriteStarted(w, "job "+name+" started")
}
