// interfaces.go
package secretariat

import "context"

// Backend contracts consumed by the wizard and its managers. *APIClient
// satisfies all of them; tests swap in fakes.

type DignitaryAPI interface {
	CreateDignitary(ctx context.Context, d Dignitary) (*Dignitary, error)
	UpdateDignitary(ctx context.Context, id int64, d Dignitary) (*Dignitary, error)
}

type ContactAPI interface {
	CreateContact(ctx context.Context, c Contact) (*Contact, error)
	UpdateContact(ctx context.Context, id int64, c Contact) (*Contact, error)
	SelfContact(ctx context.Context) (*Contact, error)
}

type AttachmentUploader interface {
	UploadAttachment(ctx context.Context, appointmentID int64, f StagedFile) (*Attachment, error)
}

type AppointmentCreator interface {
	CreateAppointment(ctx context.Context, req AppointmentCreateRequest) (*Appointment, error)
	CreateCalendarEvent(ctx context.Context, req AppointmentCreateRequest) (*Appointment, error)
}

type ProfileAPI interface {
	CurrentProfile(ctx context.Context) (*Profile, error)
	UpdateProfile(ctx context.Context, p Profile) (*Profile, error)
}

// AttendeeDirectory lists the existing records a caller may pick as attendees.
type AttendeeDirectory interface {
	Dignitaries(ctx context.Context) ([]Dignitary, error)
	Contacts(ctx context.Context) ([]Contact, error)
}

// WizardBackend is everything one wizard session needs from the backend.
type WizardBackend interface {
	DignitaryAPI
	ContactAPI
	AttendeeDirectory
	AttachmentUploader
	AppointmentCreator
	ProfileAPI
}

// ReferenceAPI serves the read-only configuration feeds.
type ReferenceAPI interface {
	StatusOptionsMap(ctx context.Context) (StatusMap, error)
	SubStatusOptionsMap(ctx context.Context) (SubStatusMap, error)
	StatusSubStatusMapping(ctx context.Context) (StatusSubStatusMapping, error)
	Locations(ctx context.Context) ([]Location, error)
	Countries(ctx context.Context) ([]Country, error)
	TimeOfDayOptions(ctx context.Context) ([]string, error)
	RequestTypeConfigs(ctx context.Context) ([]RequestTypeConfig, error)
}

// SessionBackend is the backend as seen by one authenticated caller.
type SessionBackend interface {
	WizardBackend
	ReferenceAPI
	AppointmentUpdater
	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
}

// BackendFactory binds the backend to a caller's token and role.
type BackendFactory func(s Session) SessionBackend

// Repositories define data persistence contracts. They should be pure CRUD-ish.

type NotificationRepository interface {
	AddNotification(n *Notification) error
	GetUserNotifications(userID int64) ([]Notification, error)
	GetUnreadNotifications(userID int64) ([]Notification, error)
	MarkNotificationRead(userID, notificationID int64) error
}

type AuditRepository interface {
	AppendAudit(entry *AuditLog) error
	ListAuditLogs(filter AuditFilter) ([]AuditLog, error)
}

// Notifier delivers transient user-facing notices.
type Notifier interface {
	Notify(ctx context.Context, userID int64, n Notice)
}

var _ SessionBackend = (*APIClient)(nil)
