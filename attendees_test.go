package secretariat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dignitary(id int64, first, last string) AttendeeRef {
	return dignitaryRef(Dignitary{ID: id, FirstName: first, LastName: last})
}

func TestAttendeeCollection_RejectsDuplicate(t *testing.T) {
	c := NewAttendeeCollection(3)

	require.NoError(t, c.Add(dignitary(5, "Maya", "Iyer")))
	err := c.Add(dignitary(5, "Maya", "Iyer"))

	require.ErrorIs(t, err, ErrDuplicateAttendee)
	var ue *UserError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "Maya Iyer has already been added", ue.Msg)
	assert.Equal(t, 1, c.Len())
}

func TestAttendeeCollection_SameIDDifferentKindIsNotDuplicate(t *testing.T) {
	c := NewAttendeeCollection(2)

	require.NoError(t, c.Add(dignitary(5, "Maya", "Iyer")))
	require.NoError(t, c.Add(contactRef(Contact{ID: 5, FirstName: "Ravi", LastName: "Menon"})))
	assert.Equal(t, 2, c.Len())
}

func TestAttendeeCollection_Capacity(t *testing.T) {
	c := NewAttendeeCollection(1)
	require.NoError(t, c.Add(dignitary(1, "A", "One")))

	err := c.Add(dignitary(2, "B", "Two"))

	require.ErrorIs(t, err, ErrAttendeeCapacity)
	assert.Equal(t, "Maximum 1 attendees allowed", err.Error())
	assert.Equal(t, 1, c.Len())
}

func TestAttendeeCollection_EditSaveReplacesInPlace(t *testing.T) {
	c := NewAttendeeCollection(3)
	require.NoError(t, c.Add(dignitary(1, "A", "One")))
	require.NoError(t, c.Add(dignitary(2, "B", "Two")))

	_, err := c.Edit(0)
	require.NoError(t, err)
	assert.Equal(t, FormEditing, c.Mode())
	assert.True(t, c.IsEditing())

	require.NoError(t, c.Save(dignitary(1, "A", "Uno")))

	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "Uno", items[0].LastName)
	assert.Equal(t, int64(2), items[1].ID)
	assert.Equal(t, FormClosed, c.Mode())
	assert.Equal(t, -1, c.EditIndex())
}

func TestAttendeeCollection_SaveRejectsDuplicateOfOtherEntry(t *testing.T) {
	c := NewAttendeeCollection(3)
	require.NoError(t, c.Add(dignitary(1, "A", "One")))
	require.NoError(t, c.Add(dignitary(2, "B", "Two")))
	_, err := c.Edit(0)
	require.NoError(t, err)

	err = c.Save(dignitary(2, "B", "Two"))

	require.ErrorIs(t, err, ErrDuplicateAttendee)
	assert.Equal(t, int64(1), c.Items()[0].ID)
	assert.Equal(t, FormEditing, c.Mode())
}

func TestAttendeeCollection_SaveRequiresEditMode(t *testing.T) {
	c := NewAttendeeCollection(1)
	assert.ErrorIs(t, c.Save(dignitary(1, "A", "One")), ErrNotEditing)
}

func TestAttendeeCollection_RemoveAdjustsEditState(t *testing.T) {
	c := NewAttendeeCollection(3)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, c.Add(dignitary(i, "N", "X")))
	}

	_, err := c.Edit(2)
	require.NoError(t, err)
	_, err = c.Remove(0)
	require.NoError(t, err)
	assert.Equal(t, 1, c.EditIndex())
	assert.Equal(t, FormEditing, c.Mode())

	removed, err := c.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed.ID)
	assert.Equal(t, FormClosed, c.Mode())
	assert.Equal(t, 1, c.Len())

	_, err = c.Remove(5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttendeeCollection_ItemsIsACopy(t *testing.T) {
	c := NewAttendeeCollection(1)
	require.NoError(t, c.Add(dignitary(1, "A", "One")))

	items := c.Items()
	items[0].FirstName = "changed"

	assert.Equal(t, "A", c.Items()[0].FirstName)
}

func TestNewAttendeeFlow(t *testing.T) {
	ref := testReference()
	dcfg, _ := ref.RequestTypeConfig(RequestTypeDignitary)
	pcfg, _ := ref.RequestTypeConfig(RequestTypePersonal)

	d := NewAttendeeFlow(dcfg, newFakeBackend())
	assert.Equal(t, AttendeeDignitary, d.Kind())
	assert.True(t, d.UsesDateRange())
	assert.Contains(t, d.Fields(), "honorific_title")

	p := NewAttendeeFlow(pcfg, newFakeBackend())
	assert.Equal(t, AttendeeContact, p.Kind())
	assert.False(t, p.UsesDateRange())

	assert.Equal(t, AttendeeContact, NewAttendeeFlow(RequestTypeConfig{}, nil).Kind())
}

func TestAttendeeFlow_ValidateCountsAttendees(t *testing.T) {
	flow := &DignitaryAttendeeFlow{}
	draft := AppointmentDraft{NumberOfAttendees: 3, Attendees: []AttendeeRef{dignitary(1, "A", "One")}}

	assert.Equal(t, ValidationErrors{"attendees": "Please add 2 more attendee(s)"}, flow.Validate(draft))

	draft.NumberOfAttendees = 1
	assert.Empty(t, flow.Validate(draft))
}

func TestDignitaryAttendeeFlow_Prepare(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	flow := &DignitaryAttendeeFlow{api: backend}

	ref, err := flow.Prepare(ctx, AttendeeCandidate{Dignitary: &Dignitary{FirstName: "Maya", LastName: "Iyer"}})
	require.NoError(t, err)
	assert.NotZero(t, ref.ID)
	assert.Len(t, backend.createdDignitaries, 1)

	ref, err = flow.Prepare(ctx, AttendeeCandidate{ID: 42, Dignitary: &Dignitary{FirstName: "Maya", LastName: "Iyer"}})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ref.ID)
	assert.Empty(t, backend.updatedDignitaries)

	_, err = flow.Prepare(ctx, AttendeeCandidate{ID: 42, Modified: true, Dignitary: &Dignitary{FirstName: "Maya", LastName: "Iyer-Shah"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, backend.updatedDignitaries)
}

func TestDignitaryAttendeeFlow_PrepareRejectsInvalidForm(t *testing.T) {
	backend := newFakeBackend()
	flow := &DignitaryAttendeeFlow{api: backend}

	_, err := flow.Prepare(context.Background(), AttendeeCandidate{Dignitary: &Dignitary{FirstName: "Maya", Email: "not-an-email"}})

	var fe *FormError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Last name is required", fe.Errors["last_name"])
	assert.Equal(t, "Email must be a valid email address", fe.Errors["email"])
	assert.Empty(t, backend.createdDignitaries)

	_, err = flow.Prepare(context.Background(), AttendeeCandidate{Kind: AttendeeContact, Contact: &Contact{}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestContactAttendeeFlow_Self(t *testing.T) {
	flow := &ContactAttendeeFlow{api: newFakeBackend()}

	ref, err := flow.Self(context.Background())

	require.NoError(t, err)
	assert.Equal(t, AttendeeContact, ref.Kind)
	require.NotNil(t, ref.Contact)
	assert.True(t, ref.Contact.IsSelf)
}
