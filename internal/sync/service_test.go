package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCSV = "First Name,Last Name,Email,Course IDs\n" +
	"John,Smith,john@example.com,101;202\n" +
	"Jane,Doe,jane@example.com,101\n"

func newTestService(api API) *Service {
	return NewService(api, nil, Options{
		MaxConcurrent: 2,
		MaxWaitTime:   time.Second,
		JobTimeout:    time.Minute,
	})
}

func waitDone(t *testing.T, svc *Service, jobID string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := svc.Result(ctx, jobID)
	require.NoError(t, err)
	return status
}

func TestService_FullBatch(t *testing.T) {
	api := newFakeAPI()
	svc := newTestService(api)

	jobID, err := svc.Start(context.Background(), []byte(testCSV))
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	status := waitDone(t, svc, jobID)
	assert.Equal(t, PhaseComplete, status.Phase)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 2, status.Processed)
	assert.Equal(t, 2, status.Summary.Created)
	assert.Equal(t, 3, status.Summary.Enrolled)
	assert.Zero(t, status.Summary.Failed)

	// Both accounts now exist remotely.
	assert.Len(t, api.byEmail, 2)
	assert.Equal(t, "johnsmith", api.byEmail["john@example.com"].Username)
}

func TestService_ParseErrorIsSynchronous(t *testing.T) {
	svc := newTestService(newFakeAPI())

	_, err := svc.Start(context.Background(), []byte("no,header,here\n1,2,3\n"))
	require.Error(t, err)

	_, err = svc.Start(context.Background(), []byte("First Name,Last Name,Email\n"))
	require.Error(t, err)
}

func TestService_SubscribeReplay(t *testing.T) {
	api := newFakeAPI()
	svc := newTestService(api)

	jobID, err := svc.Start(context.Background(), []byte(testCSV))
	require.NoError(t, err)
	waitDone(t, svc, jobID)

	// Subscribing after completion replays everything on a closed channel.
	replay, ch, err := svc.Subscribe(jobID, 0)
	require.NoError(t, err)
	assert.Len(t, replay, 5) // 2 account events + 3 enrolments

	_, open := <-ch
	assert.False(t, open, "channel must be closed for a finished job")

	// Resuming mid-stream only replays the tail.
	tail, _, err := svc.Subscribe(jobID, 3)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
	assert.Equal(t, replay[3], tail[0])

	// An out-of-range offset replays nothing rather than failing.
	none, _, err := svc.Subscribe(jobID, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_SubscribeUnknownJob(t *testing.T) {
	svc := newTestService(newFakeAPI())
	_, _, err := svc.Subscribe("nope", 0)
	require.Error(t, err)
}

func TestService_Export(t *testing.T) {
	api := newFakeAPI()
	svc := newTestService(api)

	jobID, err := svc.Start(context.Background(), []byte(testCSV))
	require.NoError(t, err)
	waitDone(t, svc, jobID)

	var buf bytes.Buffer
	require.NoError(t, svc.WriteExport(jobID, &buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\ufeff"), "export carries a UTF-8 BOM")
	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(out, "\ufeff")), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "First Name,Last Name,Email,Course IDs,Username", strings.TrimSpace(lines[0]))
	assert.Contains(t, lines[1], "johnsmith")
	assert.Contains(t, lines[2], "janedoe")
}

func TestService_Cancel(t *testing.T) {
	api := newFakeAPI()
	svc := newTestService(api)

	// Large enough batch that cancellation lands mid-run.
	var sb strings.Builder
	sb.WriteString("First Name,Last Name,Email\n")
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&sb, "User,Name,u%d@example.com\n", i)
	}

	jobID, err := svc.Start(context.Background(), []byte(sb.String()))
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(jobID))

	status := waitDone(t, svc, jobID)
	if status.Phase == PhaseComplete {
		t.Skip("batch finished before cancellation took effect")
	}
	assert.Equal(t, PhaseCancelled, status.Phase)
	assert.NotEmpty(t, status.Error)

	// Export still works after cancellation.
	var buf bytes.Buffer
	assert.NoError(t, svc.WriteExport(jobID, &buf))
}

func TestService_DuplicateNamesAcrossRows(t *testing.T) {
	api := newFakeAPI()
	svc := newTestService(api)

	csv := "First Name,Last Name,Email\n" +
		"John,Smith,john1@example.com\n" +
		"John,Smith,john2@example.com\n"

	jobID, err := svc.Start(context.Background(), []byte(csv))
	require.NoError(t, err)
	waitDone(t, svc, jobID)

	assert.Equal(t, "johnsmith", api.byEmail["john1@example.com"].Username)
	assert.Equal(t, "johnsmith2", api.byEmail["john2@example.com"].Username)
}

func TestService_RegistrySeededFromRemote(t *testing.T) {
	api := newFakeAPI()
	// The base name is taken remotely by a different address; the new row
	// must receive the suffixed name.
	api.addUser("other@example.com", "johnsmith", false)
	svc := newTestService(api)

	csv := "First Name,Last Name,Email\n" +
		"John,Smith,john@example.com\n" +
		"Other,Person,other@example.com\n"

	jobID, err := svc.Start(context.Background(), []byte(csv))
	require.NoError(t, err)
	status := waitDone(t, svc, jobID)

	assert.Equal(t, "johnsmith2", api.byEmail["john@example.com"].Username)
	assert.Equal(t, 1, status.Summary.Created)
	assert.Equal(t, 1, status.Summary.NoOp)
}

func TestService_ProcessedCountsEachRowOnce(t *testing.T) {
	api := newFakeAPI()
	// A literal "0" in the course column parses to course id 0; its enrolment
	// failure must not be mistaken for a second account-step event.
	api.enrolErr[0] = errors.New("invalid course")
	svc := newTestService(api)

	csv := "First Name,Last Name,Email,Course IDs\n" +
		"John,Smith,john@example.com,0\n"

	jobID, err := svc.Start(context.Background(), []byte(csv))
	require.NoError(t, err)
	status := waitDone(t, svc, jobID)

	assert.Equal(t, 1, status.Total)
	assert.Equal(t, 1, status.Processed)
	assert.Equal(t, 1, status.Summary.Created)
	assert.Equal(t, 1, status.Summary.Failed)
}

func TestService_LiveEventSequenceMatchesBuffer(t *testing.T) {
	api := newFakeAPI()
	api.createGate = make(chan struct{})
	svc := newTestService(api)

	jobID, err := svc.Start(context.Background(),
		[]byte("First Name,Last Name,Email\nJohn,Smith,john@example.com\n"))
	require.NoError(t, err)

	// Nothing emitted while the create call is gated, so this subscription
	// sees every event live.
	replay, ch, err := svc.Subscribe(jobID, 0)
	require.NoError(t, err)
	assert.Empty(t, replay)

	close(api.createGate)

	se, open := <-ch
	require.True(t, open)
	assert.Equal(t, 1, se.Seq)
	assert.Equal(t, ActionCreated, se.Event.Action)

	status := waitDone(t, svc, jobID)
	assert.Equal(t, PhaseComplete, status.Phase)
}
