// submission.go
package secretariat

import (
	"context"
	"fmt"
)

// SubmissionMode names where a finished draft is sent.
type SubmissionMode string

const (
	SubmitRequester     SubmissionMode = "requester"
	SubmitAdmin         SubmissionMode = "admin"
	SubmitPlaceholder   SubmissionMode = "placeholder"
	SubmitCalendarEvent SubmissionMode = "calendar_event"
)

// SubmissionStrategy turns the assembled payload into a server appointment.
type SubmissionStrategy interface {
	Mode() SubmissionMode
	// AttendeesOptional reports whether the attendee count may stay short.
	AttendeesOptional() bool
	Submit(ctx context.Context, api AppointmentCreator, req AppointmentCreateRequest) (*Appointment, error)
}

// NewSubmissionStrategy resolves a mode for a role. Empty mode picks the
// role's regular appointment endpoint.
func NewSubmissionStrategy(mode SubmissionMode, role Role) (SubmissionStrategy, error) {
	if mode == "" {
		mode = SubmitRequester
		if role.IsAdmin() {
			mode = SubmitAdmin
		}
	}
	switch mode {
	case SubmitRequester:
		return appointmentSubmission{mode: mode}, nil
	case SubmitAdmin, SubmitPlaceholder, SubmitCalendarEvent:
		if !role.IsAdmin() {
			return nil, fmt.Errorf("submission mode %q: %w", mode, ErrUnauthorized)
		}
		if mode == SubmitCalendarEvent {
			return calendarEventSubmission{}, nil
		}
		return appointmentSubmission{mode: mode, placeholder: mode == SubmitPlaceholder}, nil
	default:
		return nil, fmt.Errorf("submission mode %q: %w", mode, ErrInvalidInput)
	}
}

// appointmentSubmission posts to the appointments endpoint of the session's
// side of the API. Placeholders skip the attendee requirement.
type appointmentSubmission struct {
	mode        SubmissionMode
	placeholder bool
}

func (s appointmentSubmission) Mode() SubmissionMode    { return s.mode }
func (s appointmentSubmission) AttendeesOptional() bool { return s.placeholder }

func (s appointmentSubmission) Submit(ctx context.Context, api AppointmentCreator, req AppointmentCreateRequest) (*Appointment, error) {
	req.IsPlaceholder = s.placeholder
	return api.CreateAppointment(ctx, req)
}

type calendarEventSubmission struct{}

func (calendarEventSubmission) Mode() SubmissionMode    { return SubmitCalendarEvent }
func (calendarEventSubmission) AttendeesOptional() bool { return true }

func (calendarEventSubmission) Submit(ctx context.Context, api AppointmentCreator, req AppointmentCreateRequest) (*Appointment, error) {
	return api.CreateCalendarEvent(ctx, req)
}
