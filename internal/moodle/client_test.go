package moodle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMoodle records requests and serves canned responses per ws function.
type fakeMoodle struct {
	t         *testing.T
	responses map[string]string
	requests  []recordedRequest
}

type recordedRequest struct {
	Function string
	Form     url.Values
}

func (f *fakeMoodle) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(f.t, http.MethodPost, r.Method)
		require.Equal(f.t, "json", r.URL.Query().Get("moodlewsrestformat"))
		require.NotEmpty(f.t, r.URL.Query().Get("wstoken"))

		fn := r.URL.Query().Get("wsfunction")
		require.NoError(f.t, r.ParseForm())
		f.requests = append(f.requests, recordedRequest{Function: fn, Form: r.PostForm})

		resp, ok := f.responses[fn]
		if !ok {
			resp = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}
}

func newTestClient(t *testing.T, responses map[string]string) (*Client, *fakeMoodle) {
	t.Helper()
	fake := &fakeMoodle{t: t, responses: responses}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL, "testtoken", 5*time.Second), fake
}

func TestSiteInfo(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		fnSiteInfo: `{"sitename":"Test Campus"}`,
	})

	name, err := client.SiteInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Test Campus", name)
}

func TestGetUsersByField(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		fnGetUsersByField: `[{"id":42,"username":"jsmith","email":"j@s.com","suspended":true}]`,
	})

	users, err := client.GetUsersByField(context.Background(), "email", "j@s.com")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, 42, users[0].ID)
	assert.Equal(t, "jsmith", users[0].Username)
	assert.True(t, users[0].Suspended)

	require.Len(t, fake.requests, 1)
	assert.Equal(t, "email", fake.requests[0].Form.Get("field"))
	assert.Equal(t, "j@s.com", fake.requests[0].Form.Get("values[0]"))
}

func TestCreateUser(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		fnCreateUsers: `[{"id":7,"username":"jdoe"}]`,
	})

	id, err := client.CreateUser(context.Background(), NewUser{
		Username:  "jdoe",
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane@example.com",
		Password:  "S3cret!pass",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	form := fake.requests[0].Form
	assert.Equal(t, "jdoe", form.Get("users[0][username]"))
	assert.Equal(t, "manual", form.Get("users[0][auth]"))
	assert.Equal(t, "S3cret!pass", form.Get("users[0][password]"))
}

func TestCreateUser_APIError(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		fnCreateUsers: `{"exception":"invalid_parameter_exception","errorcode":"invalidparameter","message":"Invalid parameter value detected"}`,
	})

	_, err := client.CreateUser(context.Background(), NewUser{Username: "x"})
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok, "error should be *APIError, got %T", err)
	assert.Equal(t, "invalidparameter", apiErr.ErrorCode)
	assert.Contains(t, apiErr.Error(), "Invalid parameter")
}

func TestSetSuspended(t *testing.T) {
	client, fake := newTestClient(t, nil)

	err := client.SetSuspended(context.Background(), 42, false)
	require.NoError(t, err)

	form := fake.requests[0].Form
	assert.Equal(t, "42", form.Get("users[0][id]"))
	assert.Equal(t, "0", form.Get("users[0][suspended]"))
}

func TestEnrolUser_Fresh(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		fnGetUserCourses: `[{"id":900,"shortname":"other"}]`,
	})

	res, err := client.EnrolUser(context.Background(), 42, 101, 5)
	require.NoError(t, err)
	assert.Equal(t, Enrolled, res)

	require.Len(t, fake.requests, 2)
	assert.Equal(t, fnGetUserCourses, fake.requests[0].Function)
	assert.Equal(t, fnEnrolUsers, fake.requests[1].Function)
	form := fake.requests[1].Form
	assert.Equal(t, "5", form.Get("enrolments[0][roleid]"))
	assert.Equal(t, "42", form.Get("enrolments[0][userid]"))
	assert.Equal(t, "101", form.Get("enrolments[0][courseid]"))
}

func TestEnrolUser_AlreadyEnrolledByCourseList(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		fnGetUserCourses: `[{"id":101,"shortname":"target"}]`,
	})

	res, err := client.EnrolUser(context.Background(), 42, 101, 5)
	require.NoError(t, err)
	assert.Equal(t, AlreadyEnrolled, res)
	// No enrol call should have been issued.
	require.Len(t, fake.requests, 1)
}

func TestEnrolUser_AlreadyEnrolledByErrorCode(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		fnGetUserCourses: `[]`,
		fnEnrolUsers:     `{"exception":"moodle_exception","errorcode":"wsusercannotbeenrolled","message":"User already enrolled"}`,
	})

	res, err := client.EnrolUser(context.Background(), 42, 101, 5)
	require.NoError(t, err)
	assert.Equal(t, AlreadyEnrolled, res)
}

func TestCall_Non200Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := New(srv.URL, "tok", time.Second)
	_, err := client.SiteInfo(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCall_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	client := New(srv.URL, "tok", 20*time.Millisecond)
	_, err := client.SiteInfo(context.Background())
	require.Error(t, err)
}
