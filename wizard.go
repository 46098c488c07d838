// wizard.go
package secretariat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Step is a position in the request wizard. The chain always has four states.
type Step int

const (
	StepInitialInfo Step = iota
	StepAppointmentDetails
	StepAttendeeInfo
	StepReviewSubmit
)

func (s Step) String() string {
	switch s {
	case StepInitialInfo:
		return "initial_info"
	case StepAppointmentDetails:
		return "appointment_details"
	case StepAttendeeInfo:
		return "attendee_info"
	case StepReviewSubmit:
		return "review_submit"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

type WizardState struct {
	CurrentStepIndex    Step          `json:"current_step_index"`
	StepsCompleted      map[Step]bool `json:"steps_completed"`
	IsProfileGateActive bool          `json:"is_profile_gate_active"`
}

func (s WizardState) clone() WizardState {
	out := s
	out.StepsCompleted = make(map[Step]bool, len(s.StepsCompleted))
	for k, v := range s.StepsCompleted {
		out.StepsCompleted[k] = v
	}
	return out
}

// WizardOptions configures one wizard session.
type WizardOptions struct {
	UserID int64
	Role   Role
	Mode   SubmissionMode
	// Profile is the requester's current profile; an incomplete one activates the gate.
	Profile     *Profile
	Attachments AttachmentStrategy
	Now         func() time.Time
}

// DraftPatch carries the draft fields a form changed.
type DraftPatch struct {
	RequestType        *RequestType `json:"request_type,omitempty"`
	NumberOfAttendees  *int         `json:"number_of_attendees,omitempty"`
	Purpose            *string      `json:"purpose,omitempty"`
	PreferredDate      *Date        `json:"preferred_date,omitempty"`
	PreferredStartDate *Date        `json:"preferred_start_date,omitempty"`
	PreferredEndDate   *Date        `json:"preferred_end_date,omitempty"`
	PreferredTimeOfDay *string      `json:"preferred_time_of_day,omitempty"`
	LocationID         *int64       `json:"location_id,omitempty"`
	ClearLocation      bool         `json:"clear_location,omitempty"`
	NotesToSecretariat *string      `json:"requester_notes_to_secretariat,omitempty"`
}

// WizardSnapshot is the read model handed to the UI.
type WizardSnapshot struct {
	ID             string           `json:"id"`
	State          WizardState      `json:"state"`
	Draft          AppointmentDraft `json:"draft"`
	Mode           SubmissionMode   `json:"mode"`
	AttendeeKind   AttendeeKind     `json:"attendee_kind,omitempty"`
	AttendeeFields []string         `json:"attendee_fields,omitempty"`
	FormMode       string           `json:"form_mode"`
	EditIndex      int              `json:"edit_index"`
	Submitted      *Appointment     `json:"submitted,omitempty"`
}

// SubmitResult is a created appointment plus the outcome of its attachment upload.
type SubmitResult struct {
	Appointment *Appointment `json:"appointment"`
	Attachments CommitResult `json:"attachments"`
}

// Wizard owns one in-progress appointment request. All mutation happens under
// mu, so the draft, the attendee collection and the stager have a single writer.
type Wizard struct {
	mu sync.Mutex

	id     string
	userID int64
	ctx    context.Context
	cancel context.CancelFunc

	backend  WizardBackend
	ref      ReferenceData
	notifier Notifier
	strategy SubmissionStrategy
	now      func() time.Time

	state     WizardState
	draft     AppointmentDraft
	profile   *Profile
	flow      AttendeeFlow
	attendees *AttendeeCollection
	stager    *AttachmentStager
	selfKey   *AttendeeKey
	submitted *Appointment
	closed    bool
}

func NewWizard(backend WizardBackend, ref ReferenceData, notifier Notifier, opts WizardOptions) (*Wizard, error) {
	strategy, err := NewSubmissionStrategy(opts.Mode, opts.Role)
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = discardNotifier{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Wizard{
		id:        uuid.NewString(),
		userID:    opts.UserID,
		ctx:       ctx,
		cancel:    cancel,
		backend:   backend,
		ref:       ref,
		notifier:  notifier,
		strategy:  strategy,
		now:       now,
		state:     WizardState{StepsCompleted: map[Step]bool{}},
		draft:     AppointmentDraft{NumberOfAttendees: 1},
		attendees: NewAttendeeCollection(1),
		stager:    NewAttachmentStager(backend, opts.Attachments),
	}
	if opts.Profile != nil {
		p := *opts.Profile
		w.profile = &p
		w.state.IsProfileGateActive = validateForm(p).HasErrors()
	}
	wizardsActive.Inc()
	return w, nil
}

func (w *Wizard) ID() string               { return w.id }
func (w *Wizard) UserID() int64            { return w.userID }
func (w *Wizard) Context() context.Context { return w.ctx }

// opContext ties a request context to the wizard's lifetime.
func (w *Wizard) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(w.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (w *Wizard) checkOpen() error {
	if w.closed {
		return ErrWizardClosed
	}
	if w.submitted != nil {
		return ErrWizardSubmitted
	}
	return nil
}

func (w *Wizard) notify(ctx context.Context, level NoticeLevel, msg string) {
	w.notifier.Notify(ctx, w.userID, Notice{Level: level, Message: msg, WizardID: w.id})
}

// Snapshot returns a copy of the wizard's current state.
func (w *Wizard) Snapshot() WizardSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot()
}

func (w *Wizard) snapshot() WizardSnapshot {
	s := WizardSnapshot{
		ID:        w.id,
		State:     w.state.clone(),
		Draft:     w.currentDraft(),
		Mode:      w.strategy.Mode(),
		FormMode:  w.attendees.Mode().String(),
		EditIndex: w.attendees.EditIndex(),
		Submitted: w.submitted,
	}
	if w.flow != nil {
		s.AttendeeKind = w.flow.Kind()
		s.AttendeeFields = w.flow.Fields()
	}
	return s
}

func (w *Wizard) currentDraft() AppointmentDraft {
	d := w.draft
	d.Attendees = w.attendees.Items()
	d.Attachments = w.stager.Staged()
	return d
}

// ---------- draft ----------

// UpdateDraft applies a patch. Field problems come back as a *FormError and
// leave the draft unchanged.
func (w *Wizard) UpdateDraft(p DraftPatch) (WizardSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return WizardSnapshot{}, err
	}

	errs := ValidationErrors{}
	flow := w.flow
	var cfg RequestTypeConfig
	if p.RequestType != nil && *p.RequestType != w.draft.RequestType {
		c, ok := w.ref.RequestTypeConfig(*p.RequestType)
		next := NewAttendeeFlow(c, w.backend)
		switch {
		case !ok:
			errs["request_type"] = "Unknown request type"
		case w.attendees.Len() > 0 && (w.flow == nil || w.flow.Kind() != next.Kind()):
			errs["request_type"] = "Remove the added attendees before changing the request type"
		default:
			cfg = c
			flow = next
		}
	} else if c, ok := w.ref.RequestTypeConfig(w.draft.RequestType); ok {
		cfg = c
	}
	if p.NumberOfAttendees != nil {
		n := *p.NumberOfAttendees
		switch {
		case n < 1:
			errs["number_of_attendees"] = "Number of attendees must be at least 1"
		case cfg.MaxAttendees > 0 && n > cfg.MaxAttendees:
			errs["number_of_attendees"] = fmt.Sprintf("Maximum %d attendees allowed", cfg.MaxAttendees)
		case n < w.attendees.Len():
			errs["number_of_attendees"] = "Remove attendees before lowering the number of attendees"
		}
	}
	if p.LocationID != nil && !w.ref.HasLocation(*p.LocationID) {
		errs[FieldLocation] = "Location is invalid"
	}
	if errs.HasErrors() {
		return WizardSnapshot{}, &FormError{Errors: errs}
	}

	if p.RequestType != nil {
		w.draft.RequestType = *p.RequestType
		w.flow = flow
	}
	if p.NumberOfAttendees != nil {
		w.draft.NumberOfAttendees = *p.NumberOfAttendees
	}
	w.attendees.SetCapacity(w.draft.NumberOfAttendees)
	if p.Purpose != nil {
		w.draft.Purpose = *p.Purpose
	}
	if p.PreferredDate != nil {
		w.draft.PreferredDate = *p.PreferredDate
	}
	if p.PreferredStartDate != nil {
		w.draft.PreferredStartDate = *p.PreferredStartDate
	}
	if p.PreferredEndDate != nil {
		w.draft.PreferredEndDate = *p.PreferredEndDate
	}
	if p.PreferredTimeOfDay != nil {
		w.draft.PreferredTimeOfDay = *p.PreferredTimeOfDay
	}
	if p.ClearLocation {
		w.draft.LocationID = nil
	} else if p.LocationID != nil {
		id := *p.LocationID
		w.draft.LocationID = &id
	}
	if p.NotesToSecretariat != nil {
		w.draft.NotesToSecretariat = *p.NotesToSecretariat
	}
	return w.snapshot(), nil
}

// ---------- transitions ----------

// Next validates the current step and advances when it is clean. Field
// problems are returned as data and never move the index.
func (w *Wizard) Next() (WizardState, ValidationErrors, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return w.state.clone(), nil, err
	}
	if w.state.CurrentStepIndex == StepInitialInfo && w.state.IsProfileGateActive {
		wizardTransitions.WithLabelValues("next", "blocked").Inc()
		return w.state.clone(), nil, ErrProfileIncomplete
	}

	errs := w.validateStep(w.state.CurrentStepIndex)
	if errs.HasErrors() {
		wizardTransitions.WithLabelValues("next", "invalid").Inc()
		return w.state.clone(), errs, nil
	}
	w.state.StepsCompleted[w.state.CurrentStepIndex] = true
	if w.state.CurrentStepIndex < StepReviewSubmit {
		w.state.CurrentStepIndex++
	}
	wizardTransitions.WithLabelValues("next", "ok").Inc()
	return w.state.clone(), errs, nil
}

// Back moves one step back. It is refused while the attendee form is open.
func (w *Wizard) Back() (WizardState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return w.state.clone(), err
	}
	if w.attendees.IsEditing() {
		wizardTransitions.WithLabelValues("back", "blocked").Inc()
		return w.state.clone(), ErrBackDisabled
	}
	if w.state.CurrentStepIndex > StepInitialInfo {
		w.state.CurrentStepIndex--
	}
	wizardTransitions.WithLabelValues("back", "ok").Inc()
	return w.state.clone(), nil
}

// ValidateStep runs the checks of one step without moving.
func (w *Wizard) ValidateStep(s Step) ValidationErrors {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.validateStep(s)
}

func (w *Wizard) validateStep(s Step) ValidationErrors {
	switch s {
	case StepInitialInfo:
		return w.validateInitialInfo()
	case StepAppointmentDetails:
		return w.validateDetails()
	case StepAttendeeInfo:
		if w.strategy.AttendeesOptional() || w.flow == nil {
			return ValidationErrors{}
		}
		return w.flow.Validate(w.currentDraft())
	default:
		return ValidationErrors{}
	}
}

func (w *Wizard) validateInitialInfo() ValidationErrors {
	errs := validateForm(initialInfoForm{
		RequestType:       w.draft.RequestType,
		NumberOfAttendees: w.draft.NumberOfAttendees,
	})
	if w.draft.RequestType == "" {
		return errs
	}
	cfg, ok := w.ref.RequestTypeConfig(w.draft.RequestType)
	if !ok {
		errs.merge(ValidationErrors{"request_type": "Unknown request type"})
		return errs
	}
	if cfg.MaxAttendees > 0 && w.draft.NumberOfAttendees > cfg.MaxAttendees {
		errs.merge(ValidationErrors{"number_of_attendees": fmt.Sprintf("Maximum %d attendees allowed", cfg.MaxAttendees)})
	}
	return errs
}

func (w *Wizard) validateDetails() ValidationErrors {
	d := w.draft
	rangeMode := w.flow != nil && w.flow.UsesDateRange()
	var errs ValidationErrors
	if rangeMode {
		errs = validateForm(detailsDateRangeForm{
			Purpose:            d.Purpose,
			PreferredStartDate: d.PreferredStartDate,
			PreferredEndDate:   d.PreferredEndDate,
			PreferredTimeOfDay: d.PreferredTimeOfDay,
		})
	} else {
		errs = validateForm(detailsSingleDateForm{
			Purpose:            d.Purpose,
			PreferredDate:      d.PreferredDate,
			PreferredTimeOfDay: d.PreferredTimeOfDay,
		})
	}

	now := w.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	checkDay := func(field string, v Date) (time.Time, bool) {
		if v.IsZero() {
			return time.Time{}, false
		}
		day, ok := v.In(now.Location())
		if !ok {
			errs.merge(ValidationErrors{field: humanize(field) + " is invalid"})
			return time.Time{}, false
		}
		if day.Before(today) {
			errs.merge(ValidationErrors{field: humanize(field) + " cannot be in the past"})
		}
		return day, true
	}
	if rangeMode {
		start, okStart := checkDay("preferred_start_date", d.PreferredStartDate)
		end, okEnd := checkDay("preferred_end_date", d.PreferredEndDate)
		if okStart && okEnd && end.Before(start) {
			errs.merge(ValidationErrors{"preferred_end_date": "Preferred end date must be on or after the start date"})
		}
	} else {
		checkDay("preferred_date", d.PreferredDate)
	}
	if d.PreferredTimeOfDay != "" && !w.ref.HasTimeOfDay(d.PreferredTimeOfDay) {
		errs.merge(ValidationErrors{"preferred_time_of_day": "Preferred time of day is invalid"})
	}
	return errs
}

// ---------- profile gate ----------

// CompleteProfile saves the missing profile fields and lifts the gate.
func (w *Wizard) CompleteProfile(ctx context.Context, p Profile) (WizardState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return w.state.clone(), err
	}
	if errs := validateForm(p); errs.HasErrors() {
		return w.state.clone(), &FormError{Errors: errs}
	}
	ctx, done := w.opContext(ctx)
	defer done()
	saved, err := w.backend.UpdateProfile(ctx, p)
	if err != nil {
		msg := UserMessage(err, "Failed to update profile")
		w.notify(ctx, NoticeError, msg)
		return w.state.clone(), &UserError{Msg: msg, Err: err}
	}
	if saved == nil {
		saved = &p
	}
	w.profile = saved
	w.state.IsProfileGateActive = false
	w.notify(ctx, NoticeSuccess, "Profile updated")
	return w.state.clone(), nil
}

// ---------- attendees ----------

func (w *Wizard) requireFlow() error {
	if w.flow == nil {
		return &UserError{Msg: "Choose a request type first", Err: ErrInvalidInput}
	}
	return nil
}

// OpenAttendeeForm expands the add form.
func (w *Wizard) OpenAttendeeForm() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	if err := w.requireFlow(); err != nil {
		return err
	}
	w.attendees.OpenForm()
	return nil
}

// SaveAttendee adds the candidate, or replaces the entry being edited. The
// candidate is made server consistent first; any failure leaves the collection
// as it was.
func (w *Wizard) SaveAttendee(ctx context.Context, c AttendeeCandidate) (WizardSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return WizardSnapshot{}, err
	}
	if err := w.requireFlow(); err != nil {
		return WizardSnapshot{}, err
	}
	editing := w.attendees.Mode() == FormEditing
	if !editing {
		key := AttendeeKey{Kind: w.flow.Kind(), ID: c.ID}
		if err := w.attendees.CheckAdd(key, candidateName(c)); err != nil {
			return WizardSnapshot{}, w.warn(ctx, err)
		}
	}

	opCtx, done := w.opContext(ctx)
	defer done()
	ref, err := w.flow.Prepare(opCtx, c)
	if err != nil {
		return WizardSnapshot{}, w.attendeeFailure(ctx, err)
	}
	if editing {
		err = w.attendees.Save(ref)
	} else {
		err = w.attendees.Add(ref)
	}
	if err != nil {
		return WizardSnapshot{}, w.warn(ctx, err)
	}
	return w.snapshot(), nil
}

// EditAttendee opens the entry at index in the form.
func (w *Wizard) EditAttendee(index int) (AttendeeRef, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return AttendeeRef{}, err
	}
	return w.attendees.Edit(index)
}

func (w *Wizard) CancelAttendeeEdit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attendees.CancelEdit()
}

func (w *Wizard) RemoveAttendee(index int) (WizardSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return WizardSnapshot{}, err
	}
	removed, err := w.attendees.Remove(index)
	if err != nil {
		return WizardSnapshot{}, err
	}
	if w.selfKey != nil && *w.selfKey == removed.Key() {
		w.selfKey = nil
	}
	return w.snapshot(), nil
}

// SetSelfAttending adds or removes the requester as a contact attendee.
func (w *Wizard) SetSelfAttending(ctx context.Context, on bool) (WizardSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return WizardSnapshot{}, err
	}
	flow, ok := w.flow.(*ContactAttendeeFlow)
	if !ok {
		return WizardSnapshot{}, &UserError{Msg: "Self attendance is only available for personal requests", Err: ErrInvalidInput}
	}

	if !on {
		if w.selfKey != nil {
			if i := w.attendees.IndexOf(*w.selfKey); i >= 0 {
				if _, err := w.attendees.Remove(i); err != nil {
					return WizardSnapshot{}, err
				}
			}
			w.selfKey = nil
		}
		return w.snapshot(), nil
	}
	if w.selfKey != nil {
		return w.snapshot(), nil
	}

	opCtx, done := w.opContext(ctx)
	defer done()
	ref, err := flow.Self(opCtx)
	if err != nil {
		return WizardSnapshot{}, w.attendeeFailure(ctx, err)
	}
	if err := w.attendees.Add(ref); err != nil {
		return WizardSnapshot{}, w.warn(ctx, err)
	}
	key := ref.Key()
	w.selfKey = &key
	return w.snapshot(), nil
}

// AttendeeOptions is the picker list for the wizard's attendee kind.
type AttendeeOptions struct {
	Kind        AttendeeKind `json:"kind"`
	Dignitaries []Dignitary  `json:"dignitaries,omitempty"`
	Contacts    []Contact    `json:"contacts,omitempty"`
}

// AttendeeOptions fetches the existing dignitaries or contacts the caller can
// add, depending on the request type's attendee kind.
func (w *Wizard) AttendeeOptions(ctx context.Context) (AttendeeOptions, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return AttendeeOptions{}, err
	}
	if err := w.requireFlow(); err != nil {
		return AttendeeOptions{}, err
	}
	opCtx, done := w.opContext(ctx)
	defer done()
	out := AttendeeOptions{Kind: w.flow.Kind()}
	var err error
	switch out.Kind {
	case AttendeeDignitary:
		out.Dignitaries, err = w.backend.Dignitaries(opCtx)
	case AttendeeContact:
		out.Contacts, err = w.backend.Contacts(opCtx)
	}
	if err != nil {
		msg := UserMessage(err, "Failed to load attendees")
		w.notify(ctx, NoticeError, msg)
		return AttendeeOptions{}, &UserError{Msg: msg, Err: err}
	}
	return out, nil
}

func candidateName(c AttendeeCandidate) string {
	switch {
	case c.Dignitary != nil:
		return dignitaryRef(*c.Dignitary).DisplayName()
	case c.Contact != nil:
		return contactRef(*c.Contact).DisplayName()
	}
	return ""
}

// warn surfaces a collection rejection as a warning notice.
func (w *Wizard) warn(ctx context.Context, err error) error {
	var ue *UserError
	if errors.As(err, &ue) {
		w.notify(ctx, NoticeWarning, ue.Msg)
	}
	return err
}

func (w *Wizard) attendeeFailure(ctx context.Context, err error) error {
	var fe *FormError
	if errors.As(err, &fe) {
		return err
	}
	var ue *UserError
	if errors.As(err, &ue) {
		w.notify(ctx, NoticeWarning, ue.Msg)
		return err
	}
	msg := UserMessage(err, "Failed to save attendee")
	Logger().Warn("attendee_save_failed", zap.String("wizard_id", w.id), zap.Error(err))
	w.notify(ctx, NoticeError, msg)
	return &UserError{Msg: msg, Err: err}
}

// ---------- attachments ----------

// StageFiles checks and buffers files. With the immediate strategy files go
// straight to the backend once the appointment exists, so a submitted wizard
// keeps accepting them.
func (w *Wizard) StageFiles(ctx context.Context, files []FileUpload) (WizardSnapshot, StageResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil && !(errors.Is(err, ErrWizardSubmitted) && w.stager.Immediate()) {
		return WizardSnapshot{}, StageResult{}, err
	}
	opCtx, done := w.opContext(ctx)
	defer done()
	res := w.stager.Stage(opCtx, files)
	for _, r := range res.Rejected {
		w.notify(ctx, NoticeWarning, r.Message)
	}
	if n := len(res.Uploaded); n > 0 {
		w.notify(ctx, NoticeSuccess, fmt.Sprintf("%d attachment(s) uploaded", n))
	}
	return w.snapshot(), res, nil
}

func (w *Wizard) UnstageFile(index int) (WizardSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return WizardSnapshot{}, err
	}
	if _, err := w.stager.Unstage(index); err != nil {
		return WizardSnapshot{}, err
	}
	return w.snapshot(), nil
}

// ---------- submit ----------

// Submit sends the assembled request and then uploads staged attachments.
// On failure the wizard stays at the review step unchanged.
func (w *Wizard) Submit(ctx context.Context) (SubmitResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return SubmitResult{}, err
	}
	if w.state.CurrentStepIndex != StepReviewSubmit {
		return SubmitResult{}, ErrNotAtReview
	}
	if step, errs := w.firstInvalidStep(); errs.HasErrors() {
		w.state.CurrentStepIndex = step
		for s := step; s <= StepReviewSubmit; s++ {
			delete(w.state.StepsCompleted, s)
		}
		wizardTransitions.WithLabelValues("submit", "invalid").Inc()
		return SubmitResult{}, &FormError{Errors: errs}
	}

	opCtx, done := w.opContext(ctx)
	defer done()
	mode := string(w.strategy.Mode())
	appt, err := w.strategy.Submit(opCtx, w.backend, w.buildRequest())
	if err != nil {
		submissions.WithLabelValues(mode, "error").Inc()
		msg := UserMessage(err, "Failed to create appointment request")
		Logger().Warn("appointment_submit_failed", zap.String("wizard_id", w.id), zap.String("mode", mode), zap.Error(err))
		w.notify(ctx, NoticeError, msg)
		return SubmitResult{}, &UserError{Msg: msg, Err: err}
	}
	submissions.WithLabelValues(mode, "ok").Inc()

	res := SubmitResult{Appointment: appt}
	w.stager.SetOwner(appt.ID)
	if w.stager.Len() > 0 {
		res.Attachments, err = w.stager.Commit(opCtx, appt.ID, func(pct int) {
			w.notifier.Notify(ctx, w.userID, progressNotice(w.id, pct))
		})
		if err != nil {
			w.notify(ctx, NoticeWarning, "Appointment created, but some attachments failed to upload")
		}
	}

	w.submitted = appt
	w.state.StepsCompleted[StepReviewSubmit] = true
	w.notify(ctx, NoticeSuccess, "Appointment request submitted")
	RecordAudit(ctx, AuditLevelInfo, "wizard", "submit", "appointment request submitted", map[string]any{
		"wizard_id":      w.id,
		"appointment_id": appt.ID,
		"mode":           mode,
		"attachments":    len(res.Attachments.Uploaded),
	})
	return res, nil
}

// firstInvalidStep re-runs the checks of every step before review, since the
// draft can still change after the index reached it.
func (w *Wizard) firstInvalidStep() (Step, ValidationErrors) {
	for s := StepInitialInfo; s < StepReviewSubmit; s++ {
		if errs := w.validateStep(s); errs.HasErrors() {
			return s, errs
		}
	}
	return StepReviewSubmit, nil
}

func (w *Wizard) buildRequest() AppointmentCreateRequest {
	d := w.draft
	req := AppointmentCreateRequest{
		RequestType:                 d.RequestType,
		NumberOfAttendees:           d.NumberOfAttendees,
		Purpose:                     d.Purpose,
		PreferredTimeOfDay:          d.PreferredTimeOfDay,
		LocationID:                  d.LocationID,
		RequesterNotesToSecretariat: d.NotesToSecretariat,
	}
	if w.flow != nil && w.flow.UsesDateRange() {
		req.PreferredStartDate = d.PreferredStartDate
		req.PreferredEndDate = d.PreferredEndDate
	} else {
		req.PreferredDate = d.PreferredDate
	}
	for _, a := range w.attendees.Items() {
		switch a.Kind {
		case AttendeeDignitary:
			req.DignitaryIDs = append(req.DignitaryIDs, a.ID)
		case AttendeeContact:
			req.ContactIDs = append(req.ContactIDs, a.ID)
		}
	}
	return req
}

// Close abandons in-flight backend calls and discards the session.
func (w *Wizard) Close() {
	w.cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	wizardsActive.Dec()
}

// ---------- registry ----------

// WizardRegistry holds the open wizard sessions.
type WizardRegistry struct {
	mu      sync.RWMutex
	wizards map[string]*Wizard
}

func NewWizardRegistry() *WizardRegistry {
	return &WizardRegistry{wizards: make(map[string]*Wizard)}
}

func (r *WizardRegistry) Add(w *Wizard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wizards[w.id] = w
}

// Get returns the wizard if it belongs to userID.
func (r *WizardRegistry) Get(id string, userID int64) (*Wizard, error) {
	r.mu.RLock()
	w, ok := r.wizards[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wizard %s: %w", id, ErrNotFound)
	}
	if w.userID != userID {
		return nil, fmt.Errorf("wizard %s: %w", id, ErrUnauthorized)
	}
	return w, nil
}

// Remove closes and forgets the wizard.
func (r *WizardRegistry) Remove(id string, userID int64) error {
	w, err := r.Get(id, userID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.wizards, id)
	r.mu.Unlock()
	w.Close()
	return nil
}

func (r *WizardRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wizards)
}

// CloseAll tears down every session, used on shutdown.
func (r *WizardRegistry) CloseAll() {
	r.mu.Lock()
	all := r.wizards
	r.wizards = make(map[string]*Wizard)
	r.mu.Unlock()
	for _, w := range all {
		w.Close()
	}
}
