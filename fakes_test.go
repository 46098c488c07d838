package secretariat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeBackend is an in-memory SessionBackend. Fields ending in Err make the
// matching call fail.
type fakeBackend struct {
	mu sync.Mutex

	nextID int64

	createDignitaryErr error
	createContactErr   error
	createApptErr      error
	updateApptErr      error
	profileErr         error
	uploadErr          map[string]error
	refErr             error
	listErr            error

	self        Contact
	dignitaries []Dignitary
	contacts    []Contact
	profile     Profile
	appointment Appointment

	createdDignitaries []Dignitary
	updatedDignitaries []int64
	createdContacts    []Contact
	createdRequests    []AppointmentCreateRequest
	calendarRequests   []AppointmentCreateRequest
	uploads            []StagedFile
	savedAppointments  []Appointment
	refCalls           int

	// block, when set, makes CreateAppointment wait for ctx to end.
	block bool
}

var _ SessionBackend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nextID:    100,
		uploadErr: map[string]error{},
		self:      Contact{ID: 7, FirstName: "Asha", LastName: "Rao"},
		profile:   completeProfile(),
	}
}

func completeProfile() Profile {
	return Profile{
		FirstName:   "Asha",
		LastName:    "Rao",
		Email:       "asha@example.org",
		Phone:       "+1 555 0100",
		CountryCode: "IN",
	}
}

func (f *fakeBackend) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeBackend) CreateDignitary(_ context.Context, d Dignitary) (*Dignitary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createDignitaryErr != nil {
		return nil, f.createDignitaryErr
	}
	d.ID = f.id()
	f.createdDignitaries = append(f.createdDignitaries, d)
	return &d, nil
}

func (f *fakeBackend) UpdateDignitary(_ context.Context, id int64, d Dignitary) (*Dignitary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = id
	f.updatedDignitaries = append(f.updatedDignitaries, id)
	return &d, nil
}

func (f *fakeBackend) Dignitaries(context.Context) ([]Dignitary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Dignitary(nil), f.dignitaries...), nil
}

func (f *fakeBackend) Contacts(context.Context) ([]Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Contact(nil), f.contacts...), nil
}

func (f *fakeBackend) CreateContact(_ context.Context, c Contact) (*Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createContactErr != nil {
		return nil, f.createContactErr
	}
	c.ID = f.id()
	f.createdContacts = append(f.createdContacts, c)
	return &c, nil
}

func (f *fakeBackend) UpdateContact(_ context.Context, id int64, c Contact) (*Contact, error) {
	c.ID = id
	return &c, nil
}

func (f *fakeBackend) SelfContact(context.Context) (*Contact, error) {
	c := f.self
	return &c, nil
}

func (f *fakeBackend) UploadAttachment(ctx context.Context, appointmentID int64, sf StagedFile) (*Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uploadErr[sf.Name]; err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, sf)
	return &Attachment{
		ID:             f.id(),
		AppointmentID:  appointmentID,
		FileName:       sf.Name,
		FileType:       sf.MimeType,
		AttachmentType: sf.AttachmentType,
		CreatedAt:      time.Now(),
	}, nil
}

func (f *fakeBackend) CreateAppointment(ctx context.Context, req AppointmentCreateRequest) (*Appointment, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createApptErr != nil {
		return nil, f.createApptErr
	}
	f.createdRequests = append(f.createdRequests, req)
	return &Appointment{ID: f.id(), RequestType: req.RequestType, Purpose: req.Purpose, IsPlaceholder: req.IsPlaceholder}, nil
}

func (f *fakeBackend) CreateCalendarEvent(_ context.Context, req AppointmentCreateRequest) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calendarRequests = append(f.calendarRequests, req)
	return &Appointment{ID: f.id(), Purpose: req.Purpose}, nil
}

func (f *fakeBackend) CurrentProfile(context.Context) (*Profile, error) {
	p := f.profile
	return &p, nil
}

func (f *fakeBackend) UpdateProfile(_ context.Context, p Profile) (*Profile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	f.profile = p
	return &p, nil
}

func (f *fakeBackend) GetAppointment(_ context.Context, id int64) (*Appointment, error) {
	a := f.appointment
	a.ID = id
	return &a, nil
}

func (f *fakeBackend) UpdateAppointment(_ context.Context, id int64, a Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateApptErr != nil {
		return nil, f.updateApptErr
	}
	a.ID = id
	f.savedAppointments = append(f.savedAppointments, a)
	return &a, nil
}

// ---------- reference feeds ----------

func (f *fakeBackend) countRef() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refCalls++
	return f.refErr
}

func (f *fakeBackend) StatusOptionsMap(context.Context) (StatusMap, error) {
	return testReference().StatusMap, f.countRef()
}

func (f *fakeBackend) SubStatusOptionsMap(context.Context) (SubStatusMap, error) {
	return testReference().SubStatusMap, nil
}

func (f *fakeBackend) StatusSubStatusMapping(context.Context) (StatusSubStatusMapping, error) {
	return testReference().StatusSubStatus, nil
}

func (f *fakeBackend) Locations(context.Context) ([]Location, error) {
	return testReference().Locations, nil
}

func (f *fakeBackend) Countries(context.Context) ([]Country, error) {
	return testReference().Countries, nil
}

func (f *fakeBackend) TimeOfDayOptions(context.Context) ([]string, error) {
	return testReference().TimeOfDayOptions, nil
}

func (f *fakeBackend) RequestTypeConfigs(context.Context) ([]RequestTypeConfig, error) {
	return testReference().RequestTypes, nil
}

// testReference mirrors what the backend serves in a default install.
func testReference() ReferenceData {
	return ReferenceData{
		StatusMap: StatusMap{
			StatusApproved:  "Approved",
			StatusCompleted: "Completed",
			StatusRejected:  "Rejected",
			StatusPending:   "Pending",
		},
		SubStatusMap: SubStatusMap{
			SubStatusScheduled:        "Scheduled",
			SubStatusFollowUpRequired: "Follow-up required",
			SubStatusDarshanLine:      "Darshan line",
			SubStatusNeedMoreInfo:     "Need more info",
		},
		StatusSubStatus: StatusSubStatusMapping{
			"Approved": {
				DefaultSubStatus: "Scheduled",
				ValidSubStatuses: []string{"Scheduled", "To be scheduled"},
			},
			"Completed": {
				DefaultSubStatus: "No further action",
				ValidSubStatuses: []string{"No further action", "Follow-up required"},
			},
			"Rejected": {
				DefaultSubStatus: "Low priority",
				ValidSubStatuses: []string{"Low priority", "Darshan line"},
			},
			"Pending": {
				DefaultSubStatus: "Not reviewed",
				ValidSubStatuses: []string{"Not reviewed", "Need more info"},
			},
		},
		Locations:        []Location{{ID: 1, Name: "Main hall"}, {ID: 2, Name: "Guest house"}},
		Countries:        []Country{{Code: "IN", Name: "India"}, {Code: "US", Name: "United States"}},
		TimeOfDayOptions: []string{"Morning", "Afternoon", "Evening"},
		RequestTypes: []RequestTypeConfig{
			{RequestType: RequestTypeDignitary, DisplayName: "Dignitary", AttendeeType: AttendeeDignitary, MaxAttendees: 5},
			{RequestType: RequestTypePersonal, DisplayName: "Personal", AttendeeType: AttendeeContact, MaxAttendees: 3},
		},
	}
}

// recordingNotifier keeps every notice it receives.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(_ context.Context, _ int64, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) levels(level NoticeLevel) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notice
	for _, notice := range n.notices {
		if notice.Level == level {
			out = append(out, notice)
		}
	}
	return out
}

var errBackendDown = errors.New("connection refused")

func ptr[T any](v T) *T { return &v }
