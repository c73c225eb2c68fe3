package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundrise/notify/digest"
	"github.com/soundrise/notify/engine"
	"github.com/soundrise/notify/notification"
	"github.com/soundrise/notify/preference"
	"github.com/soundrise/notify/template"
)

// API exposes the notification engine over HTTP.
type API struct {
	engine *engine.Engine
	logger *slog.Logger
	health []func(r *http.Request) error
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the logger for request handling.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithHealthcheck adds a dependency probe to the health endpoint.
func WithHealthcheck(probe func(r *http.Request) error) Option {
	return func(a *API) {
		a.health = append(a.health, probe)
	}
}

// New creates the HTTP API around an engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router builds the chi router with all API routes mounted.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/notifications", a.handleSend)
		r.Post("/notifications/bulk", a.handleSendBulk)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/notifications", a.handleList)
			r.Get("/notifications/unread-count", a.handleUnreadCount)
			r.Post("/notifications/read-all", a.handleMarkAllRead)
			r.Post("/notifications/{id}/read", a.stateHandler((*engine.Engine).MarkRead))
			r.Post("/notifications/{id}/seen", a.stateHandler((*engine.Engine).MarkSeen))
			r.Post("/notifications/{id}/dismiss", a.stateHandler((*engine.Engine).Dismiss))
			r.Post("/notifications/{id}/archive", a.stateHandler((*engine.Engine).Archive))
			r.Delete("/notifications/{id}", a.handleDelete)

			r.Get("/preferences", a.handleGetPreferences)
			r.Patch("/preferences", a.handleUpdatePreferences)

			r.Post("/digest", a.handleGenerateDigest)
			r.Get("/events", a.handleEvents)
		})

		r.Post("/templates", a.handleCreateTemplate)
		r.Post("/templates/{id}/send", a.handleSendFromTemplate)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	for _, probe := range a.health {
		if err := probe(r); err != nil {
			a.respondError(w, r, http.StatusServiceUnavailable, err)
			return
		}
	}
	a.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sendRequest struct {
	notification.Notification
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := a.engine.Send(r.Context(), req.Notification); err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	a.respond(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var batch []notification.Notification
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		a.respondError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := a.engine.SendBulk(r.Context(), batch); err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	a.respond(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"count":  len(batch),
	})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	opts := notification.ListOptions{
		Category: notification.Category(r.URL.Query().Get("category")),
		Type:     r.URL.Query().Get("type"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}
	if r.URL.Query().Get("unread") == "true" {
		opts.OnlyUnread = true
	}

	list, err := a.engine.GetNotifications(r.Context(), userID, opts)
	if err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	if list == nil {
		list = []notification.Notification{}
	}
	a.respond(w, http.StatusOK, map[string]any{"notifications": list})
}

func (a *API) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.engine.UnreadCount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, map[string]int{"unread": count})
}

func (a *API) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.MarkAllRead(r.Context(), chi.URLParam(r, "userID")); err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// stateHandler adapts the four read-state transitions to one handler shape.
func (a *API) stateHandler(op func(*engine.Engine, context.Context, string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := op(a.engine, r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id"))
		if err != nil {
			a.respondEngineError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := a.engine.Delete(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id"))
	if err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := a.engine.GetPreferences(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, prefs)
}

func (a *API) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch preference.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		a.respondError(w, r, http.StatusBadRequest, err)
		return
	}

	prefs, err := a.engine.UpdatePreferences(r.Context(), chi.URLParam(r, "userID"), patch)
	if err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, prefs)
}

func (a *API) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl template.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		a.respondError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := a.engine.CreateTemplate(r.Context(), tpl); err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	a.respond(w, http.StatusCreated, tpl)
}

type templateSendRequest struct {
	Recipients []string          `json:"recipients"`
	Vars       map[string]string `json:"vars"`
}

func (a *API) handleSendFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, r, http.StatusBadRequest, err)
		return
	}

	ids, err := a.engine.SendFromTemplate(r.Context(), chi.URLParam(r, "id"), req.Vars, req.Recipients)
	if err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	a.respond(w, http.StatusAccepted, map[string]any{"notification_ids": ids})
}

type digestRequest struct {
	Cycle digest.Cycle `json:"cycle"`
}

func (a *API) handleGenerateDigest(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, r, http.StatusBadRequest, err)
		return
	}
	if req.Cycle != digest.CycleDaily && req.Cycle != digest.CycleWeekly {
		a.respondError(w, r, http.StatusBadRequest, errors.New("cycle must be daily or weekly"))
		return
	}

	d, err := a.engine.GenerateDigest(r.Context(), chi.URLParam(r, "userID"), req.Cycle)
	if err != nil {
		a.respondEngineError(w, r, err)
		return
	}
	if d == nil {
		a.respond(w, http.StatusOK, map[string]string{"status": "nothing to digest"})
		return
	}
	a.respond(w, http.StatusOK, d)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	a.respond(w, status, map[string]string{"error": err.Error()})
}

// respondEngineError maps domain errors onto HTTP status codes.
func (a *API) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notification.ErrNotFound),
		errors.Is(err, template.ErrNotFound),
		errors.Is(err, preference.ErrNotFound):
		a.respondError(w, r, http.StatusNotFound, err)
	case errors.Is(err, notification.ErrMissingUserID),
		errors.Is(err, notification.ErrMissingID),
		errors.Is(err, preference.ErrInvalidPreferences),
		errors.Is(err, template.ErrInvalidTemplate),
		errors.Is(err, engine.ErrDigestsDisabled):
		a.respondError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, notification.ErrDuplicateID):
		a.respondError(w, r, http.StatusConflict, err)
	default:
		a.respondError(w, r, http.StatusInternalServerError, err)
	}
}
