package sync

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shaheenhirany/moodle-csv-user-sync/internal/moodle"
	"github.com/shaheenhirany/moodle-csv-user-sync/internal/roster"
)

// Engine executes the per-record synchronization state machine for a batch.
//
// Records are independent and may be processed with bounded parallelism;
// the shared username registry is not touched here (usernames are reserved
// earlier, by the row processor), so the only cross-record coordination is
// ordered event emission.
type Engine struct {
	api      API
	resolver *Resolver

	// RoleID is assigned on every enrolment.
	RoleID int

	// Workers bounds row parallelism. 1 processes rows sequentially and
	// keeps outcome events in ascending row order.
	Workers int
}

// NewEngine creates an engine with the given API, enrolment role, and
// worker count.
func NewEngine(api API, roleID, workers int) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		api:      api,
		resolver: NewResolver(api),
		RoleID:   roleID,
		Workers:  workers,
	}
}

// Run synchronizes all records, invoking emit for every outcome event, and
// returns the batch summary. emit is called from a single goroutine at a
// time and receives each record's events contiguously and in order.
//
// Cancellation is cooperative: in-flight rows finish, no new rows start,
// and the returned summary covers the rows that did run.
func (e *Engine) Run(ctx context.Context, records []roster.Record, emit func(Event)) Summary {
	var (
		mu      sync.Mutex
		summary = Summary{Rows: len(records)}
	)

	emitRecord := func(events []Event) {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			summary.count(ev)
			if emit != nil {
				emit(ev)
			}
		}
	}

	g := &errgroup.Group{}
	g.SetLimit(e.Workers)

	for _, rec := range records {
		rec := rec
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			emitRecord(e.syncRecord(ctx, rec))
			return nil
		})
	}
	g.Wait()

	return summary
}

// syncRecord runs the state machine for one record and returns its events:
// one account-step event, a name-refresh event for re-activated accounts,
// then one per attempted course enrolment. A failed account step produces no
// enrolment events.
func (e *Engine) syncRecord(ctx context.Context, rec roster.Record) []Event {
	event := func(action Action, detail string) Event {
		return Event{RowIndex: rec.Index, Email: rec.Email, Action: action, Detail: detail}
	}

	// Rows that failed validation are exported but never synced.
	if rec.Invalid != "" {
		return []Event{event(ActionFailed, rec.Invalid)}
	}

	res := e.resolver.Resolve(ctx, rec.Email)
	if res.Err != nil {
		// Resolution failure is not "absent": creating here could duplicate
		// an existing account, so the whole record is skipped.
		return []Event{event(ActionFailed, fmt.Sprintf("resolve account: %v", res.Err))}
	}

	var (
		events []Event
		userID int
	)

	switch res.Status {
	case StatusAbsent:
		id, err := e.api.CreateUser(ctx, moodle.NewUser{
			Username:  rec.Username,
			FirstName: rec.FirstName,
			LastName:  rec.LastName,
			Email:     rec.Email,
			Password:  roster.StrongPassword(),
		})
		if err != nil {
			return []Event{event(ActionFailed, fmt.Sprintf("create account: %v", err))}
		}
		userID = id
		events = append(events, event(ActionCreated, fmt.Sprintf("account %d username %s", id, rec.Username)))

	case StatusSuspended:
		if err := e.api.SetSuspended(ctx, res.UserID, false); err != nil {
			return []Event{event(ActionFailed, fmt.Sprintf("unsuspend account %d: %v", res.UserID, err))}
		}
		userID = res.UserID
		events = append(events, event(ActionUnsuspended, fmt.Sprintf("account %d re-activated", res.UserID)))

		// Re-activated accounts may carry stale names from before the
		// suspension. The refresh is best-effort: a failure is reported but
		// the account is active, so enrolments still proceed.
		if err := e.api.UpdateName(ctx, res.UserID, rec.FirstName, rec.LastName); err != nil {
			events = append(events, event(ActionFailed, fmt.Sprintf("update name on account %d: %v", res.UserID, err)))
		} else {
			events = append(events, event(ActionUpdated, fmt.Sprintf("account %d name set to %s %s", res.UserID, rec.FirstName, rec.LastName)))
		}

	case StatusActive:
		userID = res.UserID
		events = append(events, event(ActionNoOp, fmt.Sprintf("account %d already active", res.UserID)))
	}

	// Enrolments run after any non-failed account step. Each course is
	// independent: one failure does not stop the others.
	for _, courseID := range rec.CourseIDs {
		ev := event("", "")
		ev.CourseID = courseID

		result, err := e.api.EnrolUser(ctx, userID, courseID, e.RoleID)
		switch {
		case err != nil:
			ev.Action = ActionFailed
			ev.Detail = fmt.Sprintf("enrol course %d: %v", courseID, err)
		case result == moodle.AlreadyEnrolled:
			ev.Action = ActionEnrollmentSkipped
			ev.Detail = fmt.Sprintf("already enrolled in course %d", courseID)
		default:
			ev.Action = ActionEnrollmentAdded
			ev.Detail = fmt.Sprintf("enrolled in course %d", courseID)
		}
		events = append(events, ev)
	}

	return events
}
