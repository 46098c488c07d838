// handlers.go
package secretariat

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ---------- wizard lifecycle ----------

func (a *API) handleOpenWizard() http.HandlerFunc {
	type req struct {
		Mode SubmissionMode `json:"mode"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var in req
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &in); err != nil {
				a.writeDomainError(w, r, err)
				return
			}
		}
		sess := a.session(r)
		backend := a.backends(sess)
		ref, err := a.refs.Get(ctx, backend)
		if err != nil {
			a.logger.Error("reference_data_failed", zap.Error(err), zap.String("request_id", RequestIDFromContext(ctx)))
			writeError(w, http.StatusBadGateway, UserMessage(err, "Failed to load reference data"))
			return
		}
		var profile *Profile
		if !sess.Role.IsAdmin() {
			if profile, err = backend.CurrentProfile(ctx); err != nil {
				writeError(w, http.StatusBadGateway, UserMessage(err, "Failed to load profile"))
				return
			}
		}
		wz, err := NewWizard(backend, ref, a.notes, WizardOptions{
			UserID:      sess.UserID,
			Role:        sess.Role,
			Mode:        in.Mode,
			Profile:     profile,
			Attachments: a.attachments,
		})
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		a.wizards.Add(wz)
		RecordAudit(ctx, AuditLevelInfo, "wizard", "open", "wizard session opened", map[string]any{
			"wizard_id": wz.ID(),
			"mode":      wz.Snapshot().Mode,
		})
		writeJSON(w, http.StatusCreated, wz.Snapshot())
	}
}

func (a *API) handleGetWizard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, wz.Snapshot())
	}
}

func (a *API) handleCloseWizard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := a.wizards.Remove(id, a.session(r).UserID); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		RecordAudit(r.Context(), AuditLevelInfo, "wizard", "close", "wizard session closed", map[string]any{"wizard_id": id})
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleUpdateDraft() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		var patch DraftPatch
		if err := decodeJSON(r, &patch); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		snap, err := wz.UpdateDraft(patch)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// ---------- transitions ----------

func (a *API) handleNext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		state, errs, err := wz.Next()
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		if errs.HasErrors() {
			writeValidation(w, errs, map[string]any{"state": state})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": state})
	}
}

func (a *API) handleBack() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		state, err := wz.Back()
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": state})
	}
}

func (a *API) handleSubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		res, err := wz.Submit(r.Context())
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func (a *API) handleCompleteProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		var p Profile
		if err := decodeJSON(r, &p); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		state, err := wz.CompleteProfile(r.Context(), p)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": state})
	}
}

// ---------- attendees ----------

func (a *API) handleOpenAttendeeForm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		if err := wz.OpenAttendeeForm(); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, wz.Snapshot())
	}
}

func (a *API) handleSaveAttendee() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		var c AttendeeCandidate
		if err := decodeJSON(r, &c); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		snap, err := wz.SaveAttendee(r.Context(), c)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (a *API) handleEditAttendee() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		ref, err := wz.EditAttendee(parseIndex(mux.Vars(r)["index"]))
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ref)
	}
}

func (a *API) handleCancelAttendeeEdit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		wz.CancelAttendeeEdit()
		writeJSON(w, http.StatusOK, wz.Snapshot())
	}
}

func (a *API) handleRemoveAttendee() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		snap, err := wz.RemoveAttendee(parseIndex(mux.Vars(r)["index"]))
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (a *API) handleSelfAttending() http.HandlerFunc {
	type req struct {
		Attending bool `json:"attending"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		var in req
		if err := decodeJSON(r, &in); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		snap, err := wz.SetSelfAttending(r.Context(), in.Attending)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (a *API) handleAttendeeOptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		opts, err := wz.AttendeeOptions(r.Context())
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, opts)
	}
}

// ---------- attachments ----------

func (a *API) handleStageAttachments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
		if err := r.ParseMultipartForm(a.maxUpload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		attType := AttachmentType(r.FormValue("attachment_type"))
		var uploads []FileUpload
		for _, fh := range r.MultipartForm.File["files"] {
			u, err := readUpload(fh, attType)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			uploads = append(uploads, u)
		}
		if len(uploads) == 0 {
			writeError(w, http.StatusBadRequest, "no files in form field \"files\"")
			return
		}
		snap, res, err := wz.StageFiles(r.Context(), uploads)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"wizard": snap, "rejected": res.Rejected, "uploaded": res.Uploaded})
	}
}

// readUpload keeps at most one byte over the limit so oversized files are
// still reported with their declared size.
func readUpload(fh *multipart.FileHeader, attType AttachmentType) (FileUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return FileUpload{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxAttachmentBytes+1))
	if err != nil {
		return FileUpload{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	mime := fh.Header.Get("Content-Type")
	if strings.HasPrefix(mime, "application/octet-stream") {
		mime = ""
	}
	return FileUpload{
		Name:           fh.Filename,
		SizeBytes:      fh.Size,
		MimeType:       mime,
		AttachmentType: attType,
		Data:           data,
	}, nil
}

func (a *API) handleUnstageAttachment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, err := a.wizard(r)
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		snap, err := wz.UnstageFile(parseIndex(mux.Vars(r)["index"]))
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// ---------- review card ----------

func (a *API) handleValidateAppointment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var appt Appointment
		if err := decodeJSON(r, &appt); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		ref, err := a.refs.Get(r.Context(), a.backends(a.session(r)))
		if err != nil {
			writeError(w, http.StatusBadGateway, UserMessage(err, "Failed to load reference data"))
			return
		}
		errs := ValidateAppointment(appt, ref.StatusMap, ref.SubStatusMap)
		validationRuns.WithLabelValues(resultLabel(!errs.HasErrors())).Inc()
		writeJSON(w, http.StatusOK, map[string]any{"valid": !errs.HasErrors(), "errors": errs})
	}
}

// handleReviewAppointment loads the appointment into the edit card, applies
// the patch through the status transitions and saves when it validates.
func (a *API) handleReviewAppointment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := a.session(r)
		if !sess.Role.IsAdmin() {
			writeError(w, http.StatusForbidden, "secretariat role required")
			return
		}
		id, err := strconv.ParseInt(mux.Vars(r)["appointmentID"], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid appointment id")
			return
		}
		var patch AppointmentPatch
		if err := decodeJSON(r, &patch); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		backend := a.backends(sess)
		ref, err := a.refs.Get(ctx, backend)
		if err != nil {
			writeError(w, http.StatusBadGateway, UserMessage(err, "Failed to load reference data"))
			return
		}
		current, err := backend.GetAppointment(ctx, id)
		if err != nil {
			writeError(w, http.StatusBadGateway, UserMessage(err, "Failed to load appointment"))
			return
		}

		editor := NewAppointmentEditor(ref, backend)
		editor.Load(*current)
		editor.Apply(patch)
		saved, errs, err := editor.Save(ctx)
		validationRuns.WithLabelValues(resultLabel(!errs.HasErrors())).Inc()
		if errs.HasErrors() {
			writeValidation(w, errs, map[string]any{"appointment": editor.Appointment()})
			return
		}
		if err != nil {
			msg := UserMessage(err, "Failed to update appointment")
			a.notes.Notify(ctx, sess.UserID, Notice{Level: NoticeError, Message: msg})
			writeError(w, http.StatusBadGateway, msg)
			return
		}
		RecordAudit(ctx, AuditLevelInfo, "review", "save", "appointment updated", map[string]any{
			"appointment_id": id,
			"status":         saved.Status,
			"sub_status":     saved.SubStatus,
		})
		writeJSON(w, http.StatusOK, saved)
	}
}

func (a *API) handleReferenceData() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("refresh") == "true" {
			a.refs.Invalidate()
		}
		ref, err := a.refs.Get(r.Context(), a.backends(a.session(r)))
		if err != nil {
			writeError(w, http.StatusBadGateway, UserMessage(err, "Failed to load reference data"))
			return
		}
		writeJSON(w, http.StatusOK, ref)
	}
}

// ---------- notifications ----------

func (a *API) handleListNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.notes.notes == nil {
			writeError(w, http.StatusNotFound, "notifications disabled")
			return
		}
		items, err := a.notes.List(a.session(r).UserID, r.URL.Query().Get("unread") == "true")
		if err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		if items == nil {
			items = []Notification{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func (a *API) handleMarkNotificationRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.notes.notes == nil {
			writeError(w, http.StatusNotFound, "notifications disabled")
			return
		}
		id := parseID(mux.Vars(r)["id"])
		if err := a.notes.MarkRead(a.session(r).UserID, id); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---------- audit ----------

func (a *API) handleListAuditLogs() http.HandlerFunc {
	type auditResponse struct {
		Logs []AuditLog `json:"logs"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !CheckAuditToken(r.Header.Get("X-Audit-Token"), a.auditTokenHash) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		q := r.URL.Query()
		filter := AuditFilter{
			Component: q.Get("component"),
			Action:    q.Get("action"),
			Level:     q.Get("level"),
			RequestID: q.Get("request_id"),
			Since:     parseSince(r),
		}
		if limit := q.Get("limit"); limit != "" {
			val, err := strconv.Atoi(limit)
			if err != nil || val <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filter.Limit = val
		}
		logs, err := a.auditRepo.ListAuditLogs(filter)
		if err != nil {
			a.logger.Error("audit_logs_fetch_failed", zap.Error(err), zap.String("request_id", RequestIDFromContext(r.Context())))
			writeError(w, http.StatusInternalServerError, "failed to fetch audit logs")
			return
		}
		if logs == nil {
			logs = []AuditLog{}
		}
		writeJSON(w, http.StatusOK, auditResponse{Logs: logs})
	}
}
