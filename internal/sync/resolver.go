package sync

import (
	"context"

	"github.com/shaheenhirany/moodle-csv-user-sync/internal/moodle"
	"github.com/shaheenhirany/moodle-csv-user-sync/internal/roster"
)

// API is the subset of the Moodle client the orchestrator needs.
// *moodle.Client satisfies it; tests substitute a fake.
type API interface {
	GetUsersByField(ctx context.Context, field string, values ...string) ([]moodle.User, error)
	CreateUser(ctx context.Context, u moodle.NewUser) (int, error)
	SetSuspended(ctx context.Context, userID int, suspended bool) error
	UpdateName(ctx context.Context, userID int, firstName, lastName string) error
	EnrolUser(ctx context.Context, userID, courseID, roleID int) (moodle.EnrolResult, error)
}

// RemoteStatus is the remote account state for one email.
type RemoteStatus int

const (
	StatusAbsent RemoteStatus = iota
	StatusActive
	StatusSuspended
)

// Resolution is the result of looking up a row's email on the remote system.
// Err is set when the lookup itself failed; that case is distinct from
// StatusAbsent so the orchestrator skips the row instead of wrongly creating
// a possibly-existing account.
type Resolution struct {
	Status RemoteStatus
	UserID int
	Err    error
}

// Resolver maps an email to remote account existence and suspension state.
type Resolver struct {
	api API
}

// NewResolver returns a Resolver backed by the given API.
func NewResolver(api API) *Resolver {
	return &Resolver{api: api}
}

// Resolve looks up one email.
func (r *Resolver) Resolve(ctx context.Context, email string) Resolution {
	users, err := r.api.GetUsersByField(ctx, "email", email)
	if err != nil {
		return Resolution{Err: err}
	}
	if len(users) == 0 {
		return Resolution{Status: StatusAbsent}
	}

	u := users[0]
	if u.Suspended {
		return Resolution{Status: StatusSuspended, UserID: u.ID}
	}
	return Resolution{Status: StatusActive, UserID: u.ID}
}

// SeedRegistry pre-loads the registry with usernames already taken on the
// remote system by the batch's emails. Best-effort: on lookup failure the
// registry stays as-is and unknown usernames are treated as unoccupied,
// accepting a small residual collision risk rather than blocking the batch.
func (r *Resolver) SeedRegistry(ctx context.Context, reg *roster.Registry, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	users, err := r.api.GetUsersByField(ctx, "email", emails...)
	if err != nil {
		return err
	}
	for _, u := range users {
		reg.Seed(u.Username)
	}
	return nil
}
