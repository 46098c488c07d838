package secretariat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	t       *testing.T
	api     *API
	backend *fakeBackend
	storage *Storage
	auth    *Authenticator
}

func newAPIHarness(t *testing.T, auditHash string) *apiHarness {
	t.Helper()
	storage := newTestStorage(t)
	SetAuditRepository(storage)
	t.Cleanup(func() { SetAuditRepository(nil) })

	backend := newFakeBackend()
	auth := NewAuthenticator("test-secret")
	api := NewAPI(APIOptions{
		Auth:           auth,
		Backends:       func(Session) SessionBackend { return backend },
		References:     NewReferenceLoader(time.Minute),
		Notifications:  NewNotificationService(storage, nil),
		AuditRepo:      storage,
		AuditTokenHash: auditHash,
		Health:         storage.Ping,
	})
	t.Cleanup(api.Wizards().CloseAll)
	return &apiHarness{t: t, api: api, backend: backend, storage: storage, auth: auth}
}

func (h *apiHarness) token(userID int64, role Role) string {
	tok, err := h.auth.GenerateToken(userID, role, time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h *apiHarness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.api.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAPI_RequiresToken(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(http.MethodPost, "/api/wizards", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAPI_WizardFlow(t *testing.T) {
	h := newAPIHarness(t, "")
	tok := h.token(21, RoleUser)

	rec := h.do(http.MethodPost, "/api/wizards", tok, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snap := decode[WizardSnapshot](t, rec)
	base := "/api/wizards/" + snap.ID
	assert.Equal(t, SubmitRequester, snap.Mode)

	// Another user cannot see the session.
	rec = h.do(http.MethodGet, base, h.token(22, RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, base+"/next", tok, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[map[string]json.RawMessage](t, rec)
	assert.Contains(t, string(body["errors"]), "Request type is required")

	tomorrow := string(DateOf(time.Now().AddDate(0, 0, 1)))
	rec = h.do(http.MethodPut, base+"/draft", tok, map[string]any{
		"request_type":          RequestTypePersonal,
		"number_of_attendees":   1,
		"purpose":               "Family blessing",
		"preferred_date":        tomorrow,
		"preferred_time_of_day": "Morning",
		"location_id":           1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for i := 0; i < 2; i++ {
		rec = h.do(http.MethodPost, base+"/next", tok, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodPost, base+"/attendees/form", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodPost, base+"/back", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = h.do(http.MethodPost, base+"/attendees/cancel", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h.backend.contacts = []Contact{{ID: 31, FirstName: "Lata", LastName: "Menon"}}
	rec = h.do(http.MethodGet, base+"/attendees/candidates", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	picker := decode[AttendeeOptions](t, rec)
	assert.Equal(t, AttendeeContact, picker.Kind)
	require.Len(t, picker.Contacts, 1)
	assert.Equal(t, int64(31), picker.Contacts[0].ID)

	rec = h.do(http.MethodPost, base+"/attendees", tok, AttendeeCandidate{Kind: AttendeeContact, Contact: &Contact{FirstName: "Ravi"}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Last name is required")

	rec = h.do(http.MethodPut, base+"/attendees/self", tok, map[string]bool{"attending": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, base+"/attendees", tok, AttendeeCandidate{Kind: AttendeeContact, Contact: &Contact{FirstName: "Ravi", LastName: "Menon"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Maximum 1 attendees allowed")

	rec = h.do(http.MethodPost, base+"/next", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, base+"/submit", tok, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[SubmitResult](t, rec)
	require.NotNil(t, res.Appointment)
	require.Len(t, h.backend.createdRequests, 1)
	assert.Equal(t, []int64{7}, h.backend.createdRequests[0].ContactIDs)

	notes, err := h.storage.GetUserNotifications(21)
	require.NoError(t, err)
	assert.NotEmpty(t, notes)

	rec = h.do(http.MethodDelete, base, tok, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodGet, base, tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_AdminModeRequiresRole(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(http.MethodPost, "/api/wizards", h.token(1, RoleUser), map[string]string{"mode": "placeholder"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/api/wizards", h.token(1, RoleAdmin), map[string]string{"mode": "placeholder"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, SubmitPlaceholder, decode[WizardSnapshot](t, rec).Mode)
}

func TestAPI_StageAttachments(t *testing.T) {
	h := newAPIHarness(t, "")
	tok := h.token(30, RoleUser)
	rec := h.do(http.MethodPost, "/api/wizards", tok, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[WizardSnapshot](t, rec).ID

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("attachment_type", "business_card"))
	fw, err := mw.CreateFormFile("files", "letter.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.7\n1 0 obj\n"))
	require.NoError(t, err)
	fw, err = mw.CreateFormFile("files", "tool.exe")
	require.NoError(t, err)
	_, err = fw.Write([]byte("MZ\x90\x00\x03\x00\x00\x00"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/wizards/"+id+"/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Wizard   WizardSnapshot  `json:"wizard"`
		Rejected []FileRejection `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Wizard.Draft.Attachments, 1)
	assert.Equal(t, "application/pdf", out.Wizard.Draft.Attachments[0].MimeType)
	assert.Equal(t, AttachmentBusinessCard, out.Wizard.Draft.Attachments[0].AttachmentType)
	require.Len(t, out.Rejected, 1)
	assert.Equal(t, "tool.exe has an unsupported file type", out.Rejected[0].Message)

	rec = h.do(http.MethodDelete, "/api/wizards/"+id+"/attachments/0", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[WizardSnapshot](t, rec).Draft.Attachments)
}

func TestAPI_ValidateAppointment(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(http.MethodPost, "/api/appointments/validate", h.token(1, RoleUser), Appointment{Status: "Approved", SubStatus: "Scheduled", AppointmentType: "Private"})

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Valid  bool             `json:"valid"`
		Errors ValidationErrors `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.Valid)
	assert.Len(t, out.Errors, 3)
}

func TestAPI_ReviewAppointment(t *testing.T) {
	h := newAPIHarness(t, "")
	h.backend.appointment = Appointment{Status: "Pending", SubStatus: "Not reviewed"}
	admin := h.token(2, RoleSecretariat)

	rec := h.do(http.MethodPut, "/api/appointments/14/review", h.token(3, RoleUser), AppointmentPatch{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPut, "/api/appointments/14/review", admin, AppointmentPatch{Status: ptr("Approved")})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var invalid struct {
		Errors      ValidationErrors `json:"errors"`
		Appointment Appointment      `json:"appointment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invalid))
	assert.Equal(t, "Scheduled", invalid.Appointment.SubStatus)
	assert.Contains(t, invalid.Errors, FieldAppointmentType)
	assert.Empty(t, h.backend.savedAppointments)

	rec = h.do(http.MethodPut, "/api/appointments/14/review", admin, AppointmentPatch{
		Status:    ptr("Rejected"),
		SubStatus: ptr("Darshan line"),

		SecretariatNotesToRequester: ptr("Please join the darshan line on Sunday"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[Appointment](t, rec)
	assert.Equal(t, int64(14), saved.ID)
	assert.Equal(t, "Darshan line", saved.SubStatus)
	require.Len(t, h.backend.savedAppointments, 1)
}

func TestAPI_Notifications(t *testing.T) {
	h := newAPIHarness(t, "")
	tok := h.token(40, RoleUser)
	n := &Notification{UserID: 40, Type: "success", Payload: `{"message":"Appointment request submitted"}`}
	require.NoError(t, h.storage.AddNotification(n))

	rec := h.do(http.MethodGet, "/api/notifications?unread=true", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]Notification](t, rec), 1)

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/notifications/%d/read", n.ID), h.token(41, RoleUser), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/notifications/%d/read", n.ID), tok, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, "/api/notifications?unread=true", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]Notification](t, rec))
}

func TestAPI_AuditLogs(t *testing.T) {
	hash, err := HashAuditToken("audit-me")
	require.NoError(t, err)
	h := newAPIHarness(t, hash)
	tok := h.token(50, RoleUser)

	rec := h.do(http.MethodPost, "/api/wizards", tok, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/audit/logs?component=wizard", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.Header.Set("X-Audit-Token", "audit-me")
	rec = httptest.NewRecorder()
	h.api.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Logs []AuditLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Logs, 1)
	assert.Equal(t, "open", out.Logs[0].Action)
	require.NotNil(t, out.Logs[0].ActorID)
	assert.Equal(t, int64(50), *out.Logs[0].ActorID)
}

func TestAPI_ReferenceData(t *testing.T) {
	h := newAPIHarness(t, "")
	tok := h.token(1, RoleUser)

	rec := h.do(http.MethodGet, "/api/reference-data", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ref := decode[ReferenceData](t, rec)
	assert.Len(t, ref.RequestTypes, 2)

	h.do(http.MethodGet, "/api/reference-data?refresh=true", tok, nil)
	assert.Equal(t, 2, h.backend.refCalls)
}
