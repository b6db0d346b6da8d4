// Package sync reconciles processed roster records against remote Moodle
// account and enrollment state. It implements the per-record state machine
// (create / unsuspend / no-op / skip, then per-course enrolment), batch job
// management with live outcome streaming, and best-effort username
// registry seeding.
package sync

// Action classifies the outcome of one step of a record's synchronization.
type Action string

const (
	// ActionCreated: a new account was created for the row.
	ActionCreated Action = "created"
	// ActionUnsuspended: an existing suspended account was re-activated.
	ActionUnsuspended Action = "unsuspended"
	// ActionUpdated: an existing account's name fields were refreshed.
	ActionUpdated Action = "updated"
	// ActionNoOp: the account already exists and is active.
	ActionNoOp Action = "noop"
	// ActionEnrollmentAdded: the user was enrolled into one course.
	ActionEnrollmentAdded Action = "enrollment_added"
	// ActionEnrollmentSkipped: the user was already enrolled in the course.
	ActionEnrollmentSkipped Action = "enrollment_skipped"
	// ActionFailed: validation, resolution, or an API call failed.
	ActionFailed Action = "failed"
)

// Event is one immutable outcome for a record. Every record produces one
// account-step event, a name-refresh event when a suspended account was
// re-activated, and one event per attempted course enrolment; a record's own
// events are always emitted in that order.
type Event struct {
	RowIndex int    `json:"rowIndex"`
	Email    string `json:"email"`
	Action   Action `json:"action"`
	Detail   string `json:"detail,omitempty"`
	CourseID int    `json:"courseId,omitempty"`
}

// Summary tallies outcome events for a completed batch.
type Summary struct {
	Rows          int `json:"rows"`
	Created       int `json:"created"`
	Unsuspended   int `json:"unsuspended"`
	Updated       int `json:"updated"`
	NoOp          int `json:"noop"`
	Enrolled      int `json:"enrolled"`
	EnrollSkipped int `json:"enrollSkipped"`
	Failed        int `json:"failed"`
}

func (s *Summary) count(ev Event) {
	switch ev.Action {
	case ActionCreated:
		s.Created++
	case ActionUnsuspended:
		s.Unsuspended++
	case ActionUpdated:
		s.Updated++
	case ActionNoOp:
		s.NoOp++
	case ActionEnrollmentAdded:
		s.Enrolled++
	case ActionEnrollmentSkipped:
		s.EnrollSkipped++
	case ActionFailed:
		s.Failed++
	}
}
