// attendees.go
package secretariat

import (
	"context"
	"fmt"
)

// AttendeeFlow is the attendee step of a wizard. One variant is chosen per
// request type from its configured attendee kind.
type AttendeeFlow interface {
	Kind() AttendeeKind
	// Fields lists the form fields the UI renders for a candidate.
	Fields() []string
	RequiredCount(d AppointmentDraft) int
	// Validate checks the attendee count of the draft.
	Validate(d AppointmentDraft) ValidationErrors
	// Prepare makes the candidate server consistent: new people are created,
	// modified existing ones are updated.
	Prepare(ctx context.Context, c AttendeeCandidate) (AttendeeRef, error)
	// UsesDateRange reports whether the details step asks for a date range.
	UsesDateRange() bool
}

// NewAttendeeFlow picks the variant for a request type configuration.
func NewAttendeeFlow(cfg RequestTypeConfig, backend WizardBackend) AttendeeFlow {
	if cfg.AttendeeType == AttendeeDignitary {
		return &DignitaryAttendeeFlow{api: backend}
	}
	return &ContactAttendeeFlow{api: backend}
}

func attendeeCountErrors(have, want int) ValidationErrors {
	errs := ValidationErrors{}
	if missing := want - have; missing > 0 {
		errs["attendees"] = fmt.Sprintf("Please add %d more attendee(s)", missing)
	}
	return errs
}

// ---------- dignitaries ----------

type DignitaryAttendeeFlow struct {
	api DignitaryAPI
}

func (f *DignitaryAttendeeFlow) Kind() AttendeeKind { return AttendeeDignitary }

func (f *DignitaryAttendeeFlow) Fields() []string {
	return []string{
		"honorific_title", "first_name", "last_name", "email", "phone",
		"primary_domain", "title_in_organization", "organization",
		"country_code", "city", "bio_summary",
	}
}

func (f *DignitaryAttendeeFlow) RequiredCount(d AppointmentDraft) int { return d.NumberOfAttendees }

func (f *DignitaryAttendeeFlow) Validate(d AppointmentDraft) ValidationErrors {
	return attendeeCountErrors(len(d.Attendees), f.RequiredCount(d))
}

func (f *DignitaryAttendeeFlow) UsesDateRange() bool { return true }

func (f *DignitaryAttendeeFlow) Prepare(ctx context.Context, c AttendeeCandidate) (AttendeeRef, error) {
	if err := checkCandidateKind(c, AttendeeDignitary); err != nil {
		return AttendeeRef{}, err
	}
	if c.Dignitary == nil {
		return AttendeeRef{}, &UserError{Msg: "Dignitary details are required", Err: ErrInvalidInput}
	}
	if errs := validateForm(*c.Dignitary); errs.HasErrors() {
		return AttendeeRef{}, &FormError{Errors: errs}
	}

	d := *c.Dignitary
	switch {
	case c.ID == 0:
		created, err := f.api.CreateDignitary(ctx, d)
		if err != nil {
			return AttendeeRef{}, fmt.Errorf("create dignitary: %w", err)
		}
		d = *created
	case c.Modified:
		updated, err := f.api.UpdateDignitary(ctx, c.ID, d)
		if err != nil {
			return AttendeeRef{}, fmt.Errorf("update dignitary %d: %w", c.ID, err)
		}
		d = *updated
	}
	if d.ID == 0 {
		d.ID = c.ID
	}
	if d.ID == 0 {
		return AttendeeRef{}, fmt.Errorf("create dignitary: no id in response")
	}
	return dignitaryRef(d), nil
}

func dignitaryRef(d Dignitary) AttendeeRef {
	return AttendeeRef{Kind: AttendeeDignitary, ID: d.ID, FirstName: d.FirstName, LastName: d.LastName, Dignitary: &d}
}

// ---------- contacts ----------

type ContactAttendeeFlow struct {
	api ContactAPI
}

func (f *ContactAttendeeFlow) Kind() AttendeeKind { return AttendeeContact }

func (f *ContactAttendeeFlow) Fields() []string {
	return []string{"first_name", "last_name", "email", "phone", "relationship_to_owner"}
}

func (f *ContactAttendeeFlow) RequiredCount(d AppointmentDraft) int { return d.NumberOfAttendees }

func (f *ContactAttendeeFlow) Validate(d AppointmentDraft) ValidationErrors {
	return attendeeCountErrors(len(d.Attendees), f.RequiredCount(d))
}

func (f *ContactAttendeeFlow) UsesDateRange() bool { return false }

func (f *ContactAttendeeFlow) Prepare(ctx context.Context, c AttendeeCandidate) (AttendeeRef, error) {
	if err := checkCandidateKind(c, AttendeeContact); err != nil {
		return AttendeeRef{}, err
	}
	if c.Contact == nil {
		return AttendeeRef{}, &UserError{Msg: "Contact details are required", Err: ErrInvalidInput}
	}
	if errs := validateForm(*c.Contact); errs.HasErrors() {
		return AttendeeRef{}, &FormError{Errors: errs}
	}

	ct := *c.Contact
	switch {
	case c.ID == 0:
		created, err := f.api.CreateContact(ctx, ct)
		if err != nil {
			return AttendeeRef{}, fmt.Errorf("create contact: %w", err)
		}
		ct = *created
	case c.Modified:
		updated, err := f.api.UpdateContact(ctx, c.ID, ct)
		if err != nil {
			return AttendeeRef{}, fmt.Errorf("update contact %d: %w", c.ID, err)
		}
		ct = *updated
	}
	if ct.ID == 0 {
		ct.ID = c.ID
	}
	if ct.ID == 0 {
		return AttendeeRef{}, fmt.Errorf("create contact: no id in response")
	}
	return contactRef(ct), nil
}

// Self gets or creates the contact that stands for the requester.
func (f *ContactAttendeeFlow) Self(ctx context.Context) (AttendeeRef, error) {
	ct, err := f.api.SelfContact(ctx)
	if err != nil {
		return AttendeeRef{}, fmt.Errorf("self contact: %w", err)
	}
	ct.IsSelf = true
	return contactRef(*ct), nil
}

func contactRef(c Contact) AttendeeRef {
	return AttendeeRef{Kind: AttendeeContact, ID: c.ID, FirstName: c.FirstName, LastName: c.LastName, Contact: &c}
}

func checkCandidateKind(c AttendeeCandidate, want AttendeeKind) error {
	if c.Kind != "" && c.Kind != want {
		return &UserError{Msg: fmt.Sprintf("This request only accepts %s attendees", want), Err: ErrInvalidInput}
	}
	return nil
}

// ---------- collection ----------

// FormMode is the sub-state of the attendee add/edit form.
type FormMode int

const (
	FormClosed FormMode = iota
	FormAdding
	FormEditing
)

func (m FormMode) String() string {
	switch m {
	case FormAdding:
		return "adding"
	case FormEditing:
		return "editing"
	default:
		return "closed"
	}
}

// AttendeeCollection is the ordered, deduplicated attendee list of a draft.
// It is owned by one wizard and guarded by the wizard's lock.
type AttendeeCollection struct {
	items     []AttendeeRef
	capacity  int
	mode      FormMode
	editIndex int
}

func NewAttendeeCollection(capacity int) *AttendeeCollection {
	return &AttendeeCollection{capacity: capacity, editIndex: -1}
}

func (c *AttendeeCollection) SetCapacity(n int) { c.capacity = n }

func (c *AttendeeCollection) Capacity() int { return c.capacity }

func (c *AttendeeCollection) Len() int { return len(c.items) }

// Items returns a copy in insertion order.
func (c *AttendeeCollection) Items() []AttendeeRef {
	out := make([]AttendeeRef, len(c.items))
	copy(out, c.items)
	return out
}

func (c *AttendeeCollection) Mode() FormMode { return c.mode }

// IsEditing reports whether the add/edit form is expanded.
func (c *AttendeeCollection) IsEditing() bool { return c.mode != FormClosed }

// EditIndex is the entry open in the form, or -1.
func (c *AttendeeCollection) EditIndex() int { return c.editIndex }

func (c *AttendeeCollection) OpenForm() {
	if c.mode == FormClosed {
		c.mode = FormAdding
	}
}

// IndexOf returns the position of key, or -1.
func (c *AttendeeCollection) IndexOf(key AttendeeKey) int {
	for i, a := range c.items {
		if a.Key() == key {
			return i
		}
	}
	return -1
}

// CheckAdd reports whether an entry with key could be appended.
// A zero ID skips the duplicate check.
func (c *AttendeeCollection) CheckAdd(key AttendeeKey, name string) error {
	if key.ID != 0 && c.IndexOf(key) >= 0 {
		return duplicateError(name)
	}
	if len(c.items) >= c.capacity {
		return &UserError{Msg: fmt.Sprintf("Maximum %d attendees allowed", c.capacity), Err: ErrAttendeeCapacity}
	}
	return nil
}

// Add appends ref. Duplicates and a full collection are rejected without change.
func (c *AttendeeCollection) Add(ref AttendeeRef) error {
	if err := c.CheckAdd(ref.Key(), ref.DisplayName()); err != nil {
		return err
	}
	c.items = append(c.items, ref)
	if c.mode == FormAdding {
		c.mode = FormClosed
	}
	return nil
}

// Edit opens the entry at index in the form.
func (c *AttendeeCollection) Edit(index int) (AttendeeRef, error) {
	if index < 0 || index >= len(c.items) {
		return AttendeeRef{}, fmt.Errorf("attendee %d: %w", index, ErrNotFound)
	}
	c.mode = FormEditing
	c.editIndex = index
	return c.items[index], nil
}

// Save replaces the entry open for editing in place.
func (c *AttendeeCollection) Save(ref AttendeeRef) error {
	if c.mode != FormEditing {
		return ErrNotEditing
	}
	if i := c.IndexOf(ref.Key()); i >= 0 && i != c.editIndex {
		return duplicateError(ref.DisplayName())
	}
	c.items[c.editIndex] = ref
	c.closeForm()
	return nil
}

// Remove deletes the entry at index and leaves edit mode if it was open.
func (c *AttendeeCollection) Remove(index int) (AttendeeRef, error) {
	if index < 0 || index >= len(c.items) {
		return AttendeeRef{}, fmt.Errorf("attendee %d: %w", index, ErrNotFound)
	}
	removed := c.items[index]
	c.items = append(c.items[:index], c.items[index+1:]...)
	if c.mode == FormEditing {
		switch {
		case index == c.editIndex:
			c.closeForm()
		case index < c.editIndex:
			c.editIndex--
		}
	}
	return removed, nil
}

func (c *AttendeeCollection) CancelEdit() { c.closeForm() }

func (c *AttendeeCollection) closeForm() {
	c.mode = FormClosed
	c.editIndex = -1
}

func duplicateError(name string) error {
	if name == "" {
		name = "This attendee"
	}
	return &UserError{Msg: fmt.Sprintf("%s has already been added", name), Err: ErrDuplicateAttendee}
}
