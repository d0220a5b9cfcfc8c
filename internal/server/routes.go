package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.app.StatusHandler.HealthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/quota", s.app.StatusHandler.QuotaHandler)

		// Work queue
		r.Get("/queue", s.app.QueueHandler.ListHandler)
		r.Get("/queue/{ref}", s.app.QueueHandler.GetJobHandler)
		r.Post("/queue/{ref}/requeue", s.app.QueueHandler.RequeueHandler)

		// Archive
		r.Get("/archive", s.app.QueueHandler.ListArchiveHandler)
		r.Get("/archive/{ref}", s.app.QueueHandler.GetArchiveHandler)

		// Scheduled jobs
		r.Get("/jobs", s.app.SchedulerHandler.ListJobsHandler)
		r.Post("/jobs/{name}/run", s.app.SchedulerHandler.RunJobHandler)
	})

	return r
}
