// Package moodle implements a minimal client for the Moodle web-service
// REST API (webservice/rest/server.php).
//
// Every call is a form-encoded POST with the token, function name, and
// response format passed as query parameters. Calls carry a timeout and are
// never retried; callers decide how to surface failures.
package moodle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Web-service function names used by this client.
const (
	fnSiteInfo        = "core_webservice_get_site_info"
	fnCreateUsers     = "core_user_create_users"
	fnGetUsersByField = "core_user_get_users_by_field"
	fnUpdateUsers     = "core_user_update_users"
	fnGetUserCourses  = "core_enrol_get_users_courses"
	fnEnrolUsers      = "enrol_manual_enrol_users"
)

// errorcode Moodle returns when a user is already enrolled via another method.
const errAlreadyEnrolled = "wsusercannotbeenrolled"

// Client calls the Moodle web-service REST endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// New creates a client for the given REST endpoint and token.
// timeout bounds each individual call; zero falls back to 30s.
func New(endpoint, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: timeout},
	}
}

// APIError is a Moodle "exception" payload returned with HTTP 200.
type APIError struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
	DebugInfo string `json:"debuginfo,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("moodle: %s: %s", e.ErrorCode, e.Message)
	if e.DebugInfo != "" {
		msg += " (" + e.DebugInfo + ")"
	}
	return msg
}

// User is the subset of Moodle account fields this service reads.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	Suspended bool   `json:"suspended"`
}

// Course is a course a user is enrolled in.
type Course struct {
	ID        int    `json:"id"`
	ShortName string `json:"shortname"`
}

// NewUser carries the fields for account creation. Password is sent to the
// API and then discarded; it is never part of any event or export.
type NewUser struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// EnrolResult distinguishes a fresh enrolment from an already-enrolled no-op.
type EnrolResult int

const (
	Enrolled EnrolResult = iota
	AlreadyEnrolled
)

// call POSTs a web-service function and decodes the response into out.
// A Moodle exception payload is returned as *APIError.
func (c *Client) call(ctx context.Context, function string, form url.Values, out any) error {
	params := url.Values{
		"wstoken":            {c.token},
		"wsfunction":         {function},
		"moodlewsrestformat": {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"?"+params.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("moodle: build request for %s: %w", function, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("moodle: %s: %w", function, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("moodle: %s: read response: %w", function, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("moodle: %s: unexpected status %d", function, resp.StatusCode)
	}

	if apiErr := decodeAPIError(body); apiErr != nil {
		return apiErr
	}

	// Some mutating functions return JSON null on success.
	if out == nil || strings.TrimSpace(string(body)) == "null" {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("moodle: %s: decode response: %w", function, err)
	}
	return nil
}

// decodeAPIError returns an *APIError when body is a Moodle exception object.
func decodeAPIError(body []byte) *APIError {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil
	}
	if apiErr.Exception == "" && apiErr.ErrorCode == "" {
		return nil
	}
	return &apiErr
}

// SiteInfo verifies connectivity and token validity. Returns the site name.
func (c *Client) SiteInfo(ctx context.Context) (string, error) {
	var info struct {
		SiteName string `json:"sitename"`
	}
	if err := c.call(ctx, fnSiteInfo, url.Values{}, &info); err != nil {
		return "", err
	}
	return info.SiteName, nil
}

// GetUsersByField looks up users by a single field ("email", "username").
func (c *Client) GetUsersByField(ctx context.Context, field string, values ...string) ([]User, error) {
	form := url.Values{"field": {field}}
	for i, v := range values {
		form.Set(fmt.Sprintf("values[%d]", i), v)
	}

	var users []User
	if err := c.call(ctx, fnGetUsersByField, form, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser creates a manual-auth account and returns its remote id.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (int, error) {
	form := url.Values{}
	form.Set("users[0][username]", u.Username)
	form.Set("users[0][firstname]", u.FirstName)
	form.Set("users[0][lastname]", u.LastName)
	form.Set("users[0][email]", u.Email)
	form.Set("users[0][password]", u.Password)
	form.Set("users[0][auth]", "manual")

	var created []struct {
		ID int `json:"id"`
	}
	if err := c.call(ctx, fnCreateUsers, form, &created); err != nil {
		return 0, err
	}
	if len(created) == 0 {
		return 0, fmt.Errorf("moodle: %s: empty response", fnCreateUsers)
	}
	return created[0].ID, nil
}

// SetSuspended updates a user's suspension flag.
func (c *Client) SetSuspended(ctx context.Context, userID int, suspended bool) error {
	form := url.Values{}
	form.Set("users[0][id]", strconv.Itoa(userID))
	if suspended {
		form.Set("users[0][suspended]", "1")
	} else {
		form.Set("users[0][suspended]", "0")
	}
	return c.call(ctx, fnUpdateUsers, form, nil)
}

// UpdateName updates a user's display name fields.
func (c *Client) UpdateName(ctx context.Context, userID int, firstName, lastName string) error {
	form := url.Values{}
	form.Set("users[0][id]", strconv.Itoa(userID))
	form.Set("users[0][firstname]", firstName)
	form.Set("users[0][lastname]", lastName)
	return c.call(ctx, fnUpdateUsers, form, nil)
}

// GetUserCourses returns the courses a user is enrolled in.
func (c *Client) GetUserCourses(ctx context.Context, userID int) ([]Course, error) {
	form := url.Values{"userid": {strconv.Itoa(userID)}}

	var courses []Course
	if err := c.call(ctx, fnGetUserCourses, form, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// EnrolUser enrols a user into a course with the given role. Enrolment is
// checked first so a re-run degrades to AlreadyEnrolled instead of erroring.
func (c *Client) EnrolUser(ctx context.Context, userID, courseID, roleID int) (EnrolResult, error) {
	courses, err := c.GetUserCourses(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, course := range courses {
		if course.ID == courseID {
			return AlreadyEnrolled, nil
		}
	}

	form := url.Values{}
	form.Set("enrolments[0][roleid]", strconv.Itoa(roleID))
	form.Set("enrolments[0][userid]", strconv.Itoa(userID))
	form.Set("enrolments[0][courseid]", strconv.Itoa(courseID))

	err = c.call(ctx, fnEnrolUsers, form, nil)
	if apiErr, ok := err.(*APIError); ok && apiErr.ErrorCode == errAlreadyEnrolled {
		return AlreadyEnrolled, nil
	}
	if err != nil {
		return 0, err
	}
	return Enrolled, nil
}
