// apiclient.go
package secretariat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// ======================
// Errores del backend
// ======================

// APIError is a non-2xx answer from the backend.
// Detail is only set when the body carried a plain-string "detail".
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.StatusCode)
}

func newAPIError(resp *resty.Response) *APIError {
	e := &APIError{
		Method:     resp.Request.Method,
		Path:       resp.Request.URL,
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
	}
	if detail := gjson.GetBytes(e.Body, "detail"); detail.Type == gjson.String {
		e.Detail = detail.String()
	}
	return e
}

// UserMessage returns the server's message when it is a plain string, else fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

// ======================
// Cliente
// ======================

type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// APIClient talks to the appointment backend. A session copy carries the
// caller's bearer token and decides between requester and /admin endpoints.
type APIClient struct {
	http  *resty.Client
	token string
	admin bool
}

func NewAPIClient(cfg ClientConfig) *APIClient {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		// Only reads are retried; creates and uploads are at-most-once.
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &APIClient{http: c}
}

// ForSession returns a client bound to one user's token and role.
func (c *APIClient) ForSession(token string, role Role) *APIClient {
	return &APIClient{http: c.http, token: token, admin: role.IsAdmin()}
}

func (c *APIClient) IsAdmin() bool { return c.admin }

// Factory hands out session-bound copies of c.
func (c *APIClient) Factory() BackendFactory {
	return func(s Session) SessionBackend { return c.ForSession(s.Token, s.Role) }
}

func (c *APIClient) r(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if c.token != "" {
		req.SetAuthToken(c.token)
	}
	return req
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	req := c.r(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return newAPIError(resp)
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func (c *APIClient) pick(requester, admin string) string {
	if c.admin {
		return admin
	}
	return requester
}

func idPath(prefix string, id int64) string {
	return prefix + strconv.FormatInt(id, 10)
}

// ---------- reference feeds ----------

func (c *APIClient) StatusOptionsMap(ctx context.Context) (StatusMap, error) {
	var m StatusMap
	err := c.do(ctx, http.MethodGet, "/appointments/status-options-map", nil, &m)
	return m, err
}

func (c *APIClient) SubStatusOptionsMap(ctx context.Context) (SubStatusMap, error) {
	var m SubStatusMap
	err := c.do(ctx, http.MethodGet, "/appointments/sub-status-options-map", nil, &m)
	return m, err
}

func (c *APIClient) StatusSubStatusMapping(ctx context.Context) (StatusSubStatusMapping, error) {
	var m StatusSubStatusMapping
	err := c.do(ctx, http.MethodGet, "/appointments/status-substatus-mapping", nil, &m)
	return m, err
}

func (c *APIClient) Locations(ctx context.Context) ([]Location, error) {
	var out []Location
	err := c.do(ctx, http.MethodGet, "/locations/all", nil, &out)
	return out, err
}

func (c *APIClient) Countries(ctx context.Context) ([]Country, error) {
	var out []Country
	err := c.do(ctx, http.MethodGet, "/countries/all", nil, &out)
	return out, err
}

func (c *APIClient) TimeOfDayOptions(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/appointments/time-of-day-options", nil, &out)
	return out, err
}

func (c *APIClient) RequestTypeConfigs(ctx context.Context) ([]RequestTypeConfig, error) {
	var out []RequestTypeConfig
	err := c.do(ctx, http.MethodGet, "/request-types/configurations", nil, &out)
	return out, err
}

// ---------- dignitaries ----------

func (c *APIClient) Dignitaries(ctx context.Context) ([]Dignitary, error) {
	var out []Dignitary
	err := c.do(ctx, http.MethodGet, c.pick("/dignitaries/assigned", "/admin/dignitaries/all"), nil, &out)
	return out, err
}

func (c *APIClient) CreateDignitary(ctx context.Context, d Dignitary) (*Dignitary, error) {
	var out Dignitary
	if err := c.do(ctx, http.MethodPost, c.pick("/dignitaries/new", "/admin/dignitaries/new"), d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) UpdateDignitary(ctx context.Context, id int64, d Dignitary) (*Dignitary, error) {
	var out Dignitary
	if err := c.do(ctx, http.MethodPost, idPath("/dignitaries/update/", id), d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------- contacts ----------

func (c *APIClient) Contacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	err := c.do(ctx, http.MethodGet, "/contacts/", nil, &out)
	return out, err
}

func (c *APIClient) CreateContact(ctx context.Context, ct Contact) (*Contact, error) {
	var out Contact
	if err := c.do(ctx, http.MethodPost, "/contacts/", ct, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) UpdateContact(ctx context.Context, id int64, ct Contact) (*Contact, error) {
	var out Contact
	if err := c.do(ctx, http.MethodPut, idPath("/contacts/", id), ct, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SelfContact gets or creates the contact that represents the caller.
func (c *APIClient) SelfContact(ctx context.Context) (*Contact, error) {
	var out Contact
	if err := c.do(ctx, http.MethodGet, "/contacts/self", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------- appointments ----------

func (c *APIClient) CreateAppointment(ctx context.Context, req AppointmentCreateRequest) (*Appointment, error) {
	var out Appointment
	if err := c.do(ctx, http.MethodPost, c.pick("/appointments/new", "/admin/appointments/new"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) CreateCalendarEvent(ctx context.Context, req AppointmentCreateRequest) (*Appointment, error) {
	var out Appointment
	if err := c.do(ctx, http.MethodPost, "/admin/calendar-events/new", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	var out Appointment
	if err := c.do(ctx, http.MethodGet, idPath(c.pick("/appointments/", "/admin/appointments/"), id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) UpdateAppointment(ctx context.Context, id int64, a Appointment) (*Appointment, error) {
	var out Appointment
	if err := c.do(ctx, http.MethodPatch, idPath("/admin/appointments/update/", id), a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadAttachment sends one staged file as multipart form data.
func (c *APIClient) UploadAttachment(ctx context.Context, appointmentID int64, f StagedFile) (*Attachment, error) {
	path := fmt.Sprintf("/appointments/%d/attachments", appointmentID)
	attType := f.AttachmentType
	if attType == "" {
		attType = AttachmentGeneral
	}
	resp, err := c.r(ctx).
		SetFileReader("file", f.Name, bytes.NewReader(f.Data)).
		SetFormData(map[string]string{"attachment_type": string(attType)}).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, newAPIError(resp)
	}
	var out Attachment
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("POST %s: decode: %w", path, err)
		}
	}
	return &out, nil
}

// ---------- profile ----------

func (c *APIClient) UpdateProfile(ctx context.Context, p Profile) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodPatch, "/users/me/update", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentProfile reads the caller's own profile for the wizard's profile gate.
func (c *APIClient) CurrentProfile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
