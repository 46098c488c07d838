// errors.go
package secretariat

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the current subject lacks permissions.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInvalidInput is returned when the input fails validation.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound is returned when a wizard session or entry does not exist.
var ErrNotFound = errors.New("not found")

// Wizard transition errors.
var (
	ErrProfileIncomplete = errors.New("profile must be completed before continuing")
	ErrBackDisabled      = errors.New("finish or cancel the attendee form before going back")
	ErrNotAtReview       = errors.New("appointment can only be submitted from the review step")
	ErrWizardSubmitted   = errors.New("appointment request already submitted")
	ErrWizardClosed      = errors.New("wizard session closed")
)

// Attendee collection errors. They are warnings for the user; the collection is left untouched.
var (
	ErrDuplicateAttendee = errors.New("attendee already added")
	ErrAttendeeCapacity  = errors.New("maximum attendees reached")
	ErrNotEditing        = errors.New("attendee form is not in edit mode")
)

// ErrUploadIncomplete is returned when at least one staged attachment failed to upload.
var ErrUploadIncomplete = errors.New("one or more attachments failed to upload")

// UserError carries a message meant for the person filling in the form.
type UserError struct {
	Msg string
	Err error
}

func (e *UserError) Error() string { return e.Msg }
func (e *UserError) Unwrap() error { return e.Err }

// FormError reports field-level problems found while handling a request.
type FormError struct {
	Errors ValidationErrors
}

func (e *FormError) Error() string {
	return fmt.Sprintf("%s: %d field(s) failed validation", ErrInvalidInput, len(e.Errors))
}

func (e *FormError) Unwrap() error { return ErrInvalidInput }
