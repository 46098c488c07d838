// validation.go
package secretariat

import (
	"strings"
	"time"
)

// Field keys used in ValidationErrors for the appointment review card.
const (
	FieldStatus                      = "status"
	FieldSubStatus                   = "sub_status"
	FieldAppointmentType             = "appointment_type"
	FieldAppointmentDate             = "appointment_date"
	FieldAppointmentTime             = "appointment_time"
	FieldLocation                    = "location_id"
	FieldSecretariatFollowUpActions  = "secretariat_follow_up_actions"
	FieldSecretariatNotesToRequester = "secretariat_notes_to_requester"
)

// ruleEngine evaluates the status-keyed rules for one appointment.
// Every rule runs; the first message recorded for a field wins.
type ruleEngine struct {
	appt     Appointment
	statuses StatusMap
	subs     SubStatusMap
	now      time.Time
	errors   ValidationErrors
}

// ValidateAppointment checks an appointment's current values against the
// status/sub-status rules. It never fails: problems are returned as data.
func ValidateAppointment(appt Appointment, statuses StatusMap, subs SubStatusMap) ValidationErrors {
	return ValidateAppointmentAt(appt, statuses, subs, time.Now())
}

// ValidateAppointmentAt is ValidateAppointment with an explicit clock.
func ValidateAppointmentAt(appt Appointment, statuses StatusMap, subs SubStatusMap, now time.Time) ValidationErrors {
	e := &ruleEngine{
		appt:     appt,
		statuses: statuses,
		subs:     subs,
		now:      now,
		errors:   ValidationErrors{},
	}
	e.run()
	return e.errors
}

func (e *ruleEngine) run() {
	if blank(e.appt.Status) {
		e.addError(FieldStatus, "Status is required")
	}

	switch {
	case e.statusIs(StatusApproved):
		e.checkApproved()
	case e.statusIs(StatusCompleted):
		e.checkCompleted()
	case e.statusIs(StatusRejected):
		if e.subStatusIs(SubStatusDarshanLine) && blank(e.appt.SecretariatNotesToRequester) {
			e.addError(FieldSecretariatNotesToRequester, "Notes to requester are required when sending to the darshan line")
		}
	case e.statusIs(StatusPending):
		if e.subStatusIs(SubStatusNeedMoreInfo) && blank(e.appt.SecretariatNotesToRequester) {
			e.addError(FieldSecretariatNotesToRequester, "Notes to requester are required when asking for more information")
		}
	}
}

func (e *ruleEngine) checkApproved() {
	if blank(e.appt.AppointmentType) {
		e.addError(FieldAppointmentType, "Appointment type is required")
	}
	if !e.subStatusIs(SubStatusScheduled) {
		return
	}
	if e.appt.AppointmentDate.IsZero() {
		e.addError(FieldAppointmentDate, "Appointment date is required")
	}
	if blank(e.appt.AppointmentTime) {
		e.addError(FieldAppointmentTime, "Appointment time is required")
	}
	if e.appt.LocationID == nil {
		e.addError(FieldLocation, "Location is required")
	}
}

func (e *ruleEngine) checkCompleted() {
	if e.appt.AppointmentDate.IsZero() {
		e.addError(FieldAppointmentDate, "Appointment date is required")
	} else if day, ok := e.appt.AppointmentDate.In(e.now.Location()); !ok {
		e.addError(FieldAppointmentDate, "Appointment date is invalid")
	} else if day.After(e.now) {
		e.addError(FieldAppointmentDate, "Appointment date cannot be in the future for completed appointments")
	}
	if e.appt.LocationID == nil {
		e.addError(FieldLocation, "Location is required")
	}
	if e.subStatusIs(SubStatusFollowUpRequired) && blank(e.appt.SecretariatFollowUpActions) {
		e.addError(FieldSecretariatFollowUpActions, "Follow-up actions are required")
	}
}

func (e *ruleEngine) statusIs(symbol string) bool {
	return matchesDisplay(e.appt.Status, e.statuses, symbol)
}

func (e *ruleEngine) subStatusIs(symbol string) bool {
	return matchesDisplay(e.appt.SubStatus, e.subs, symbol)
}

func (e *ruleEngine) addError(field, msg string) {
	if _, exists := e.errors[field]; exists {
		return
	}
	e.errors[field] = msg
}

// matchesDisplay compares a value with the display string of a symbolic name.
// Unknown symbols never match.
func matchesDisplay(value string, m map[string]string, symbol string) bool {
	display, ok := m[symbol]
	if !ok || display == "" {
		return false
	}
	return value == display
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
