// http_api.go
package secretariat

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// API exposes wizard sessions, the review card and notifications to the UI.
type API struct {
	router         *mux.Router
	auth           *Authenticator
	backends       BackendFactory
	refs           *ReferenceLoader
	wizards        *WizardRegistry
	notes          *NotificationService
	ws             *WSManager
	auditRepo      AuditRepository
	auditTokenHash string
	attachments    AttachmentStrategy
	maxUpload      int64
	health         func() error
	logger         *zap.Logger
}

// APIOptions groups the collaborators of NewAPI.
type APIOptions struct {
	Auth           *Authenticator
	Backends       BackendFactory
	References     *ReferenceLoader
	Wizards        *WizardRegistry
	Notifications  *NotificationService
	WS             *WSManager
	AuditRepo      AuditRepository
	AuditTokenHash string
	Attachments    AttachmentStrategy
	MaxUploadBytes int64
	Health         func() error
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (a *API) requestIDMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ContextWithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
			w.Header().Set("X-Request-ID", RequestIDFromContext(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *API) loggingMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			a.logger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestIDFromContext(r.Context())))
		})
	}
}

// NewAPI builds the router.
func NewAPI(opts APIOptions) *API {
	r := mux.NewRouter()
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	notes := opts.Notifications
	if notes == nil {
		notes = NewNotificationService(nil, opts.WS)
	}
	api := &API{
		router:         r,
		auth:           opts.Auth,
		backends:       opts.Backends,
		refs:           opts.References,
		wizards:        opts.Wizards,
		notes:          notes,
		ws:             opts.WS,
		auditRepo:      opts.AuditRepo,
		auditTokenHash: opts.AuditTokenHash,
		attachments:    opts.Attachments,
		maxUpload:      maxUpload,
		health:         opts.Health,
		logger:         Logger(),
	}
	if api.refs == nil {
		api.refs = NewReferenceLoader(5 * time.Minute)
	}
	if api.wizards == nil {
		api.wizards = NewWizardRegistry()
	}

	r.Use(api.requestIDMiddleware())
	r.Use(api.loggingMiddleware())

	// Public
	r.HandleFunc("/healthz", api.handleHealth()).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if api.ws != nil {
		r.HandleFunc("/ws", ServeWS(api.auth, api.notes.notes, api.ws)).Methods("GET")
	}

	// Protected
	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(api.auth.Middleware)

	protected.HandleFunc("/wizards", api.handleOpenWizard()).Methods("POST")
	protected.HandleFunc("/wizards/{id}", api.handleGetWizard()).Methods("GET")
	protected.HandleFunc("/wizards/{id}", api.handleCloseWizard()).Methods("DELETE")
	protected.HandleFunc("/wizards/{id}/draft", api.handleUpdateDraft()).Methods("PUT")
	protected.HandleFunc("/wizards/{id}/next", api.handleNext()).Methods("POST")
	protected.HandleFunc("/wizards/{id}/back", api.handleBack()).Methods("POST")
	protected.HandleFunc("/wizards/{id}/submit", api.handleSubmit()).Methods("POST")
	protected.HandleFunc("/wizards/{id}/profile", api.handleCompleteProfile()).Methods("POST")
	protected.HandleFunc("/wizards/{id}/attendees", api.handleSaveAttendee()).Methods("POST")
	protected.HandleFunc("/wizards/{id}/attendees/candidates", api.handleAttendeeOptions()).Methods("GET")
	protected.HandleFunc("/wizards/{id}/attendees/form", api.handleOpenAttendeeForm()).Methods("POST")
	protected.HandleFunc("/wizards/{id}/attendees/cancel", api.handleCancelAttendeeEdit()).Methods("POST")
	protected.HandleFunc("/wizards/{id}/attendees/self", api.handleSelfAttending()).Methods("PUT")
	protected.HandleFunc("/wizards/{id}/attendees/{index:[0-9]+}/edit", api.handleEditAttendee()).Methods("POST")
	protected.HandleFunc("/wizards/{id}/attendees/{index:[0-9]+}", api.handleRemoveAttendee()).Methods("DELETE")
	protected.HandleFunc("/wizards/{id}/attachments", api.handleStageAttachments()).Methods("POST")
	protected.HandleFunc("/wizards/{id}/attachments/{index:[0-9]+}", api.handleUnstageAttachment()).Methods("DELETE")

	protected.HandleFunc("/appointments/validate", api.handleValidateAppointment()).Methods("POST")
	protected.HandleFunc("/appointments/{appointmentID:[0-9]+}/review", api.handleReviewAppointment()).Methods("PUT")
	protected.HandleFunc("/reference-data", api.handleReferenceData()).Methods("GET")

	protected.HandleFunc("/notifications", api.handleListNotifications()).Methods("GET")
	protected.HandleFunc("/notifications/{id:[0-9]+}/read", api.handleMarkNotificationRead()).Methods("POST")
	if api.auditRepo != nil && api.auditTokenHash != "" {
		protected.HandleFunc("/admin/audit/logs", api.handleListAuditLogs()).Methods("GET")
	}

	return api
}

func (a *API) Router() *mux.Router { return a.router }

// Wizards exposes the session registry for shutdown.
func (a *API) Wizards() *WizardRegistry { return a.wizards }

// ---------- response helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeValidation(w http.ResponseWriter, errs ValidationErrors, extra map[string]any) {
	body := map[string]any{"error": ErrInvalidInput.Error(), "errors": errs}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusUnprocessableEntity, body)
}

// writeDomainError maps wizard, collection and backend errors to responses.
func (a *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var formErr *FormError
	if errors.As(err, &formErr) {
		writeValidation(w, formErr.Errors, nil)
		return
	}
	msg := err.Error()
	var userErr *UserError
	if errors.As(err, &userErr) {
		msg = userErr.Msg
	}
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, msg)
	case errors.Is(err, ErrUnauthorized):
		writeError(w, http.StatusForbidden, msg)
	case errors.Is(err, ErrProfileIncomplete),
		errors.Is(err, ErrBackDisabled),
		errors.Is(err, ErrNotAtReview),
		errors.Is(err, ErrWizardSubmitted),
		errors.Is(err, ErrWizardClosed),
		errors.Is(err, ErrNotEditing),
		errors.Is(err, ErrDuplicateAttendee),
		errors.Is(err, ErrAttendeeCapacity):
		writeError(w, http.StatusConflict, msg)
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, msg)
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, UserMessage(err, msg))
	default:
		a.logger.Error("request_failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &UserError{Msg: "invalid JSON body", Err: ErrInvalidInput}
	}
	return nil
}

func (a *API) session(r *http.Request) Session {
	s, _ := SessionFromContext(r.Context())
	return s
}

func (a *API) wizard(r *http.Request) (*Wizard, error) {
	return a.wizards.Get(mux.Vars(r)["id"], a.session(r).UserID)
}

func (a *API) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.health != nil {
			if err := a.health(); err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "wizards": a.wizards.Len()})
	}
}
