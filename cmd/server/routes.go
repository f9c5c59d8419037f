package main

import (
	"log/slog"
	"net/http"

	"github.com/iudanet/gophcollab/internal/server/handlers"
	"github.com/iudanet/gophcollab/internal/server/metrics"
	"github.com/iudanet/gophcollab/internal/server/middleware"
)

// newRouter регистрирует маршруты API и оборачивает их в middleware
func newRouter(d *deps, limiter *middleware.RateLimiter, logger *slog.Logger) http.Handler {
	groupingHandler := handlers.NewGroupingHandler(logger, d.grouping)
	sessionHandler := handlers.NewSessionHandler(logger, d.sqlite, d.sqlite, d.grouping)
	documentHandler := handlers.NewDocumentHandler(logger, d.documents)
	healthHandler := handlers.NewHealthHandler(logger, d.health, Version)
	documentAuth := middleware.DocumentAuthMiddleware(logger, d.tokens)

	mux := http.NewServeMux()

	// Формирование групп
	mux.HandleFunc("POST /api/v1/grouping/proficiency", groupingHandler.Proficiency)
	mux.HandleFunc("GET /api/v1/grouping/status", groupingHandler.Status)
	mux.HandleFunc("POST /api/v1/grouping/manual", groupingHandler.Manual)
	mux.HandleFunc("POST /api/v1/grouping/leave", groupingHandler.Leave)
	mux.HandleFunc("POST /api/v1/grouping/total", groupingHandler.Total)
	mux.HandleFunc("POST /api/v1/grouping/form", groupingHandler.Form)
	mux.Handle("GET /api/v1/events", d.broker)

	// Результаты сессий
	mux.HandleFunc("POST /api/v1/sessionData", sessionHandler.SaveSessionData)
	mux.HandleFunc("GET /api/v1/sessionData/{id}", sessionHandler.GetSessionData)
	mux.HandleFunc("GET /api/v1/userSessionsData/{userId}", sessionHandler.GetUserSessions)
	mux.HandleFunc("GET /api/v1/comments/{sessionId}", sessionHandler.GetComments)
	mux.HandleFunc("POST /api/v1/comments/", sessionHandler.AddComment)

	// Совместные документы
	mux.HandleFunc("POST /api/v1/joinSession", documentHandler.JoinSession)
	mux.HandleFunc("POST /api/v1/softResetSession", documentHandler.SoftResetSession)
	mux.Handle("GET /api/v1/documents/{documentId}", documentAuth(http.HandlerFunc(documentHandler.Pull)))
	mux.Handle("POST /api/v1/documents/{documentId}/sync", documentAuth(http.HandlerFunc(documentHandler.Sync)))

	// Канал сессии
	mux.Handle("GET /ui-events", d.hub)

	mux.HandleFunc("GET /api/v1/health", healthHandler.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	var handler http.Handler = mux
	handler = limiter.Middleware(handler)
	handler = middleware.LoggingWithSkip(logger, []string{"/api/v1/health", "/metrics"})(handler)
	handler = middleware.RecoveryMiddleware(logger)(handler)
	return handler
}
