// substatus.go
package secretariat

import (
	"context"
	"fmt"
	"sync"
)

// Allows reports whether sub is one of the valid sub-statuses of the rule.
func (r SubStatusRule) Allows(sub string) bool {
	for _, v := range r.ValidSubStatuses {
		if v == sub {
			return true
		}
	}
	return false
}

// Coerce returns the sub-status to keep once status is set. A missing or
// invalid sub-status falls back to the status default; statuses without a
// mapping entry leave subStatus untouched.
func (m StatusSubStatusMapping) Coerce(status, subStatus string) string {
	rule, ok := m[status]
	if !ok {
		return subStatus
	}
	if subStatus != "" && rule.Allows(subStatus) {
		return subStatus
	}
	return rule.DefaultSubStatus
}

// AppointmentUpdater persists review card edits.
type AppointmentUpdater interface {
	UpdateAppointment(ctx context.Context, id int64, a Appointment) (*Appointment, error)
}

// AppointmentPatch carries the review card fields a user touched.
type AppointmentPatch struct {
	Status                      *string `json:"status,omitempty"`
	SubStatus                   *string `json:"sub_status,omitempty"`
	AppointmentType             *string `json:"appointment_type,omitempty"`
	AppointmentDate             *Date   `json:"appointment_date,omitempty"`
	AppointmentTime             *string `json:"appointment_time,omitempty"`
	LocationID                  *int64  `json:"location_id,omitempty"`
	ClearLocation               bool    `json:"clear_location,omitempty"`
	SecretariatMeetingNotes     *string `json:"secretariat_meeting_notes,omitempty"`
	SecretariatFollowUpActions  *string `json:"secretariat_follow_up_actions,omitempty"`
	SecretariatNotesToRequester *string `json:"secretariat_notes_to_requester,omitempty"`
}

// AppointmentEditor is the review/edit card. Loading an appointment never
// coerces its sub-status; every SetStatus call does, synchronously.
type AppointmentEditor struct {
	mu      sync.Mutex
	appt    Appointment
	ref     ReferenceData
	updater AppointmentUpdater
}

func NewAppointmentEditor(ref ReferenceData, updater AppointmentUpdater) *AppointmentEditor {
	return &AppointmentEditor{ref: ref, updater: updater}
}

// Load populates the card with values fetched from the server as-is.
func (e *AppointmentEditor) Load(a Appointment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appt = a
}

func (e *AppointmentEditor) Appointment() Appointment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appt
}

// SetStatus changes the status and coerces the sub-status to one valid for it.
func (e *AppointmentEditor) SetStatus(status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStatus(status)
}

func (e *AppointmentEditor) setStatus(status string) {
	e.appt.Status = status
	e.appt.SubStatus = e.ref.StatusSubStatus.Coerce(status, e.appt.SubStatus)
}

// SetSubStatus changes only the sub-status.
func (e *AppointmentEditor) SetSubStatus(sub string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appt.SubStatus = sub
}

// Apply runs a patch through the same transitions as the individual setters.
// An explicit sub-status in the patch is applied after the status coercion.
func (e *AppointmentEditor) Apply(p AppointmentPatch) ValidationErrors {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Coercion fires only when the status changes.
	if p.Status != nil && *p.Status != e.appt.Status {
		e.setStatus(*p.Status)
	}
	if p.SubStatus != nil {
		e.appt.SubStatus = *p.SubStatus
	}
	if p.AppointmentType != nil {
		e.appt.AppointmentType = *p.AppointmentType
	}
	if p.AppointmentDate != nil {
		e.appt.AppointmentDate = *p.AppointmentDate
	}
	if p.AppointmentTime != nil {
		e.appt.AppointmentTime = *p.AppointmentTime
	}
	if p.ClearLocation {
		e.appt.LocationID = nil
	} else if p.LocationID != nil {
		id := *p.LocationID
		e.appt.LocationID = &id
	}
	if p.SecretariatMeetingNotes != nil {
		e.appt.SecretariatMeetingNotes = *p.SecretariatMeetingNotes
	}
	if p.SecretariatFollowUpActions != nil {
		e.appt.SecretariatFollowUpActions = *p.SecretariatFollowUpActions
	}
	if p.SecretariatNotesToRequester != nil {
		e.appt.SecretariatNotesToRequester = *p.SecretariatNotesToRequester
	}
	return ValidateAppointment(e.appt, e.ref.StatusMap, e.ref.SubStatusMap)
}

func (e *AppointmentEditor) Validate() ValidationErrors {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ValidateAppointment(e.appt, e.ref.StatusMap, e.ref.SubStatusMap)
}

// Save validates and, when clean, persists the card. Validation problems are
// returned as data with a nil error and no server call.
func (e *AppointmentEditor) Save(ctx context.Context) (*Appointment, ValidationErrors, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if errs := ValidateAppointment(e.appt, e.ref.StatusMap, e.ref.SubStatusMap); errs.HasErrors() {
		return nil, errs, nil
	}
	if e.updater == nil {
		return nil, nil, fmt.Errorf("save appointment %d: no updater configured", e.appt.ID)
	}
	saved, err := e.updater.UpdateAppointment(ctx, e.appt.ID, e.appt)
	if err != nil {
		return nil, nil, fmt.Errorf("save appointment %d: %w", e.appt.ID, err)
	}
	e.appt = *saved
	return saved, nil, nil
}
