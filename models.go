package secretariat

// models.go

import (
	"strings"
	"time"
)

// ---------- enums / tipos ----------
type RequestType string

const (
	RequestTypeDignitary RequestType = "Dignitary"
	RequestTypePersonal  RequestType = "Personal"
)

type AttendeeKind string

const (
	AttendeeDignitary AttendeeKind = "dignitary"
	AttendeeContact   AttendeeKind = "contact"
)

type Role string

const (
	RoleUser        Role = "USER"
	RoleSecretariat Role = "SECRETARIAT"
	RoleAdmin       Role = "ADMIN"
)

// IsAdmin reports whether the role talks to the /admin side of the backend.
func (r Role) IsAdmin() bool { return r == RoleSecretariat || r == RoleAdmin }

// Symbolic status names. The backend maps them to display strings through
// /appointments/status-options-map and /appointments/sub-status-options-map.
const (
	StatusApproved  = "APPROVED"
	StatusCompleted = "COMPLETED"
	StatusRejected  = "REJECTED"
	StatusPending   = "PENDING"

	SubStatusScheduled        = "SCHEDULED"
	SubStatusFollowUpRequired = "FOLLOW_UP_REQUIRED"
	SubStatusDarshanLine      = "DARSHAN_LINE"
	SubStatusNeedMoreInfo     = "NEED_MORE_INFO"
)

// StatusMap maps a symbolic status name to the server's current display string.
type StatusMap map[string]string

// SubStatusMap maps a symbolic sub-status name to the server's display string.
type SubStatusMap map[string]string

// Date is a calendar day in YYYY-MM-DD form. Longer ISO strings are truncated to the day.
type Date string

const dateLayout = "2006-01-02"

func (d Date) IsZero() bool { return strings.TrimSpace(string(d)) == "" }

// In parses the day at midnight in loc.
func (d Date) In(loc *time.Location) (time.Time, bool) {
	raw := strings.TrimSpace(string(d))
	if len(raw) > len(dateLayout) {
		raw = raw[:len(dateLayout)]
	}
	t, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DateOf formats t as a Date.
func DateOf(t time.Time) Date { return Date(t.Format(dateLayout)) }

// ---------- reference data ----------

// RequestTypeConfig comes from /request-types/configurations and decides the attendee flow.
type RequestTypeConfig struct {
	RequestType  RequestType  `json:"request_type"`
	DisplayName  string       `json:"display_name"`
	AttendeeType AttendeeKind `json:"attendee_type"`
	MaxAttendees int          `json:"max_attendees"`
	Description  string       `json:"description,omitempty"`
}

type Location struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	City        string `json:"city,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

type Country struct {
	Code string `json:"iso2_code"`
	Name string `json:"name"`
}

// SubStatusRule is the mapping entry for one status.
type SubStatusRule struct {
	DefaultSubStatus string   `json:"default_sub_status"`
	ValidSubStatuses []string `json:"valid_sub_statuses"`
}

// StatusSubStatusMapping is read-only data from /appointments/status-substatus-mapping.
type StatusSubStatusMapping map[string]SubStatusRule

// ---------- people ----------

type Dignitary struct {
	ID                  int64  `json:"id,omitempty"`
	HonorificTitle      string `json:"honorific_title,omitempty"`
	FirstName           string `json:"first_name" validate:"required"`
	LastName            string `json:"last_name" validate:"required"`
	Email               string `json:"email,omitempty" validate:"omitempty,email"`
	Phone               string `json:"phone,omitempty"`
	PrimaryDomain       string `json:"primary_domain,omitempty"`
	TitleInOrganization string `json:"title_in_organization,omitempty"`
	Organization        string `json:"organization,omitempty"`
	CountryCode         string `json:"country_code,omitempty"`
	City                string `json:"city,omitempty"`
	BioSummary          string `json:"bio_summary,omitempty"`
}

type Contact struct {
	ID                  int64  `json:"id,omitempty"`
	FirstName           string `json:"first_name" validate:"required"`
	LastName            string `json:"last_name" validate:"required"`
	Email               string `json:"email,omitempty" validate:"omitempty,email"`
	Phone               string `json:"phone,omitempty"`
	RelationshipToOwner string `json:"relationship_to_owner,omitempty"`
	IsSelf              bool   `json:"is_self,omitempty"`
}

// Profile is the requester's own profile, checked by the wizard's profile gate.
type Profile struct {
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone_number" validate:"required"`
	CountryCode string `json:"country_code" validate:"required"`
	Title       string `json:"title_in_organization,omitempty"`
}

// AttendeeKey is the identity of an attendee inside a request.
type AttendeeKey struct {
	Kind AttendeeKind
	ID   int64
}

// AttendeeRef is a server-consistent copy of a dignitary or contact attached to a draft.
type AttendeeRef struct {
	Kind      AttendeeKind `json:"kind"`
	ID        int64        `json:"id"`
	FirstName string       `json:"first_name"`
	LastName  string       `json:"last_name"`
	Dignitary *Dignitary   `json:"dignitary,omitempty"`
	Contact   *Contact     `json:"contact,omitempty"`
}

func (a AttendeeRef) Key() AttendeeKey { return AttendeeKey{Kind: a.Kind, ID: a.ID} }

func (a AttendeeRef) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// AttendeeCandidate is what the attendee form hands to the collection.
// ID == 0 means the person does not exist on the server yet.
type AttendeeCandidate struct {
	Kind      AttendeeKind `json:"kind"`
	ID        int64        `json:"id,omitempty"`
	Modified  bool         `json:"modified,omitempty"`
	Dignitary *Dignitary   `json:"dignitary,omitempty"`
	Contact   *Contact     `json:"contact,omitempty"`
}

// ---------- attachments ----------

type AttachmentType string

const (
	AttachmentGeneral      AttachmentType = "general"
	AttachmentBusinessCard AttachmentType = "business_card"
)

// StagedFile lives only in memory until the owning appointment exists.
type StagedFile struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	SizeBytes      int64          `json:"size_bytes"`
	MimeType       string         `json:"mime_type"`
	AttachmentType AttachmentType `json:"attachment_type"`
	Data           []byte         `json:"-"`
}

type Attachment struct {
	ID             int64          `json:"id"`
	AppointmentID  int64          `json:"appointment_id"`
	FileName       string         `json:"file_name"`
	FileType       string         `json:"file_type"`
	AttachmentType AttachmentType `json:"attachment_type"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ---------- appointments ----------

// AppointmentDraft is the in-progress request owned by one wizard.
type AppointmentDraft struct {
	RequestType        RequestType   `json:"request_type"`
	NumberOfAttendees  int           `json:"number_of_attendees"`
	Purpose            string        `json:"purpose"`
	PreferredDate      Date          `json:"preferred_date,omitempty"`
	PreferredStartDate Date          `json:"preferred_start_date,omitempty"`
	PreferredEndDate   Date          `json:"preferred_end_date,omitempty"`
	PreferredTimeOfDay string        `json:"preferred_time_of_day,omitempty"`
	LocationID         *int64        `json:"location_id,omitempty"`
	NotesToSecretariat string        `json:"requester_notes_to_secretariat,omitempty"`
	Attendees          []AttendeeRef `json:"attendees"`
	Attachments        []StagedFile  `json:"attachments"`
}

// Appointment is the persisted server object edited by the review card.
type Appointment struct {
	ID                          int64        `json:"id"`
	RequestType                 RequestType  `json:"request_type,omitempty"`
	Purpose                     string       `json:"purpose,omitempty"`
	Status                      string       `json:"status"`
	SubStatus                   string       `json:"sub_status"`
	AppointmentType             string       `json:"appointment_type,omitempty"`
	AppointmentDate             Date         `json:"appointment_date,omitempty"`
	AppointmentTime             string       `json:"appointment_time,omitempty"`
	LocationID                  *int64       `json:"location_id,omitempty"`
	SecretariatMeetingNotes     string       `json:"secretariat_meeting_notes,omitempty"`
	SecretariatFollowUpActions  string       `json:"secretariat_follow_up_actions,omitempty"`
	SecretariatNotesToRequester string       `json:"secretariat_notes_to_requester,omitempty"`
	IsPlaceholder               bool         `json:"is_placeholder,omitempty"`
	Attachments                 []Attachment `json:"attachments,omitempty"`
	CreatedAt                   time.Time    `json:"created_at,omitempty"`
}

// AppointmentCreateRequest is the single payload assembled at submit.
type AppointmentCreateRequest struct {
	RequestType                 RequestType `json:"request_type"`
	NumberOfAttendees           int         `json:"number_of_attendees"`
	Purpose                     string      `json:"purpose"`
	PreferredDate               Date        `json:"preferred_date,omitempty"`
	PreferredStartDate          Date        `json:"preferred_start_date,omitempty"`
	PreferredEndDate            Date        `json:"preferred_end_date,omitempty"`
	PreferredTimeOfDay          string      `json:"preferred_time_of_day,omitempty"`
	LocationID                  *int64      `json:"location_id,omitempty"`
	RequesterNotesToSecretariat string      `json:"requester_notes_to_secretariat,omitempty"`
	DignitaryIDs                []int64     `json:"dignitary_ids,omitempty"`
	ContactIDs                  []int64     `json:"contact_ids,omitempty"`
	IsPlaceholder               bool        `json:"is_placeholder,omitempty"`
}

// ValidationErrors maps a field name to a human-readable message.
type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool { return len(v) > 0 }

// ---------- notificaciones / auditoría ----------

type Notification struct {
	ID        int64      `json:"id" db:"id"`
	UserID    int64      `json:"user_id" db:"user_id"`
	Type      string     `json:"type" db:"type"`       // "warning","error","success","progress"
	Payload   string     `json:"payload" db:"payload"` // JSON serializado
	ReadAt    *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// AuditLog stores immutable operational events for troubleshooting.
type AuditLog struct {
	ID         int64     `json:"id" db:"id"`
	Component  string    `json:"component" db:"component"`
	Action     string    `json:"action" db:"action"`
	Level      string    `json:"level" db:"level"`
	Message    string    `json:"message" db:"message"`
	ActorID    *int64    `json:"actor_id,omitempty" db:"actor_id"`
	RequestID  string    `json:"request_id" db:"request_id"`
	Payload    string    `json:"payload" db:"payload"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

// AuditFilter constrains how audit logs are fetched for observability endpoints.
type AuditFilter struct {
	Component string
	Action    string
	Level     string
	RequestID string
	Since     time.Time
	Limit     int
}
