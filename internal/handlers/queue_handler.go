package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// QueueHandler exposes the work queue and archive to operators
type QueueHandler struct {
	queue   interfaces.QueueStorage
	archive interfaces.ArchiveStorage
	logger  arbor.ILogger
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(queue interfaces.QueueStorage, archive interfaces.ArchiveStorage, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{
		queue:   queue,
		archive: archive,
		logger:  logger,
	}
}

// ListHandler handles GET /api/queue?status=PENDING|FAILED|PERMANENT_FAIL&limit=N
func (h *QueueHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	var status models.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := models.ParseJobStatus(strings.ToUpper(raw))
		if !ok {
			WriteError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		status = parsed
	}

	ctx := r.Context()
	jobs, err := h.queue.ListByStatus(ctx, status, GetLimitParam(r, defaultListLimit, maxListLimit))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list queue")
		WriteError(w, http.StatusInternalServerError, "failed to list queue")
		return
	}
	counts, err := h.queue.CountByStatus(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count queue")
		WriteError(w, http.StatusInternalServerError, "failed to count queue")
		return
	}

	if jobs == nil {
		jobs = []*models.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"counts": counts,
	})
}

// GetJobHandler handles GET /api/queue/{ref}
func (h *QueueHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	job, err := h.queue.GetJob(r.Context(), ref)
	if err != nil {
		h.writeLookupError(w, ref, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// RequeueHandler handles POST /api/queue/{ref}/requeue.
// A FAILED or PERMANENT_FAIL job goes back to PENDING with a fresh retry budget.
func (h *QueueHandler) RequeueHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	job, err := h.queue.Requeue(r.Context(), ref, time.Now())
	if errors.Is(err, interfaces.ErrAlreadyPending) {
		WriteError(w, http.StatusConflict, "job is already pending: "+ref)
		return
	}
	if err != nil {
		h.writeLookupError(w, ref, err)
		return
	}

	h.logger.Info().
		Str("filing_ref", ref).
		Str("identifier", job.Identifier).
		Msg("Job requeued by operator")
	WriteJSON(w, http.StatusOK, job)
}

// GetArchiveHandler handles GET /api/archive/{ref}
func (h *QueueHandler) GetArchiveHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	record, err := h.archive.GetArchive(r.Context(), ref)
	if err != nil {
		h.writeLookupError(w, ref, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// ListArchiveHandler handles GET /api/archive?identifier=AAPL&limit=N
func (h *QueueHandler) ListArchiveHandler(w http.ResponseWriter, r *http.Request) {
	identifier := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("identifier")))
	if identifier == "" {
		WriteError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	records, err := h.archive.ListArchiveByIdentifier(r.Context(), identifier, GetLimitParam(r, defaultListLimit, maxListLimit))
	if err != nil {
		h.logger.Error().Err(err).Str("identifier", identifier).Msg("Failed to list archive")
		WriteError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	if records == nil {
		records = []*models.ArchiveRecord{}
	}
	WriteJSON(w, http.StatusOK, records)
}

func (h *QueueHandler) writeLookupError(w http.ResponseWriter, ref string, err error) {
	if errors.Is(err, badgerhold.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "not found: "+ref)
		return
	}
	h.logger.Error().Err(err).Str("filing_ref", ref).Msg("Queue lookup failed")
	WriteError(w, http.StatusInternalServerError, "storage error")
}
