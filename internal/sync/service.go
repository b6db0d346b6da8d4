package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaheenhirany/moodle-csv-user-sync/internal/roster"
)

// JobTimeout is the default maximum duration for a single batch.
var JobTimeout = 30 * time.Minute

// Phase indicates the stage of a sync job.
type Phase string

const (
	PhaseSeeding   Phase = "seeding"
	PhaseSyncing   Phase = "syncing"
	PhaseComplete  Phase = "complete"
	PhaseCancelled Phase = "cancelled"
)

// Recorder persists batch history. The zero-value NopRecorder is used when
// persistence is not configured.
type Recorder interface {
	StartRun(ctx context.Context, jobID string, totalRows int) error
	RecordEvent(ctx context.Context, jobID string, ev Event) error
	FinishRun(ctx context.Context, jobID string, phase string, summary Summary) error
}

// NopRecorder discards all history.
type NopRecorder struct{}

func (NopRecorder) StartRun(context.Context, string, int) error              { return nil }
func (NopRecorder) RecordEvent(context.Context, string, Event) error         { return nil }
func (NopRecorder) FinishRun(context.Context, string, string, Summary) error { return nil }

// Options configures a Service.
type Options struct {
	RoleID         int           // enrolment role (default 5, Student)
	Workers        int           // row parallelism per job (default 1)
	MaxUsernameLen int           // generated username cap (default 100)
	JobTimeout     time.Duration // per-batch timeout
	MaxConcurrent  int           // parallel jobs
	MaxWaitTime    time.Duration // wait for a job slot
}

// Service owns batch jobs: it parses rosters, generates usernames, runs the
// sync engine in the background, buffers outcome events for replay, and
// serves the cleaned CSV export.
type Service struct {
	api      API
	recorder Recorder
	limiter  *Limiter
	opts     Options

	mu   sync.RWMutex
	jobs map[string]*job
}

type job struct {
	ID        string
	CreatedAt time.Time
	Cancel    context.CancelFunc
	Done      chan struct{}

	roster  *roster.Roster
	records []roster.Record

	mu        sync.Mutex
	phase     Phase
	processed int
	seen      map[int]bool // row indexes with at least one event
	events    []Event
	listeners []chan StreamEvent
	summary   Summary
	errMsg    string
}

// StreamEvent pairs an outcome event with its 1-based position in the job's
// replay buffer. The position doubles as the SSE event id, so a reconnecting
// consumer resumes from exactly the events it has not seen.
type StreamEvent struct {
	Seq   int
	Event Event
}

// Status is a point-in-time snapshot of a job for API responses.
type Status struct {
	JobID     string  `json:"jobId"`
	Phase     Phase   `json:"phase"`
	Total     int     `json:"total"`
	Processed int     `json:"processed"`
	Summary   Summary `json:"summary"`
	Error     string  `json:"error,omitempty"`
}

// NewService creates a Service. recorder may be nil.
func NewService(api API, recorder Recorder, opts Options) *Service {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if opts.RoleID <= 0 {
		opts.RoleID = 5
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxUsernameLen <= 0 {
		opts.MaxUsernameLen = 100
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = JobTimeout
	}

	return &Service{
		api:      api,
		recorder: recorder,
		limiter:  NewLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		opts:     opts,
		jobs:     make(map[string]*job),
	}
}

// Start parses the uploaded CSV and begins an asynchronous sync job.
// Parse and validation errors are returned synchronously; everything after
// that is reported through the job's event stream.
func (s *Service) Start(ctx context.Context, data []byte) (string, error) {
	ros, err := roster.ParseRoster(data)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)

	j := &job{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Cancel:    cancel,
		Done:      make(chan struct{}),
		roster:    ros,
		phase:     PhaseSeeding,
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	go s.run(jobCtx, j)

	return j.ID, nil
}

// run executes one batch: seed registry, process rows, sync, finalize.
func (s *Service) run(ctx context.Context, j *job) {
	defer s.limiter.Release()
	defer func() {
		j.closeListeners()
		close(j.Done)
		s.cleanup(j.ID, 30*time.Minute)
	}()

	logger := slog.Default().With("job_id", j.ID, "rows", len(j.roster.Rows))
	logger.Info("sync job started")

	_ = s.recorder.StartRun(ctx, j.ID, len(j.roster.Rows))

	// Best-effort registry seeding from the remote account list. A failure
	// here degrades to "treat unknown as unoccupied" rather than blocking.
	reg := roster.NewRegistry()
	resolver := NewResolver(s.api)
	emails := make([]string, 0, len(j.roster.Rows))
	for _, row := range j.roster.Rows {
		emails = append(emails, roster.CleanEmail(row.Email))
	}
	if err := resolver.SeedRegistry(ctx, reg, emails); err != nil {
		logger.Warn("username registry seeding failed, continuing unseeded", "error", err)
	}

	// Row processing is local and fast; records exist for every row before
	// any remote mutation, so the export never depends on sync outcomes.
	processor := roster.Processor{MaxUsernameLen: s.opts.MaxUsernameLen}
	records := make([]roster.Record, len(j.roster.Rows))
	for i, row := range j.roster.Rows {
		records[i] = processor.Process(row, reg)
	}

	j.mu.Lock()
	j.records = records
	j.phase = PhaseSyncing
	j.mu.Unlock()

	engine := NewEngine(s.api, s.opts.RoleID, s.opts.Workers)
	summary := engine.Run(ctx, records, func(ev Event) {
		j.appendEvent(ev)
		_ = s.recorder.RecordEvent(context.WithoutCancel(ctx), j.ID, ev)
	})

	phase := PhaseComplete
	if ctx.Err() != nil {
		phase = PhaseCancelled
	}

	j.mu.Lock()
	j.phase = phase
	j.summary = summary
	if ctx.Err() != nil {
		j.errMsg = ctx.Err().Error()
	}
	j.mu.Unlock()

	_ = s.recorder.FinishRun(context.WithoutCancel(ctx), j.ID, string(phase), summary)

	logger.Info("sync job finished",
		"phase", phase,
		"created", summary.Created,
		"unsuspended", summary.Unsuspended,
		"noop", summary.NoOp,
		"enrolled", summary.Enrolled,
		"failed", summary.Failed,
	)
}

// Subscribe returns the events already emitted from index from onward plus a
// live channel for subsequent ones. The channel is closed when the job ends.
// Buffered replay lets consumers that connect late (or reconnect) catch up;
// a slow consumer may miss live events until it reconnects, but sequence
// numbers always index the replay buffer, so resumption never duplicates.
func (s *Service) Subscribe(jobID string, from int) ([]Event, <-chan StreamEvent, error) {
	j, err := s.get(jobID)
	if err != nil {
		return nil, nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if from < 0 || from > len(j.events) {
		from = len(j.events)
	}
	replay := make([]Event, len(j.events)-from)
	copy(replay, j.events[from:])

	ch := make(chan StreamEvent, 64)
	if j.phase == PhaseComplete || j.phase == PhaseCancelled {
		close(ch)
		return replay, ch, nil
	}
	j.listeners = append(j.listeners, ch)
	return replay, ch, nil
}

// Progress returns a snapshot of the job's state.
func (s *Service) Progress(jobID string) (Status, error) {
	j, err := s.get(jobID)
	if err != nil {
		return Status{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{
		JobID:     j.ID,
		Phase:     j.phase,
		Total:     len(j.roster.Rows),
		Processed: j.processed,
		Summary:   j.summary,
		Error:     j.errMsg,
	}, nil
}

// Result blocks until the job completes, then returns its final status.
func (s *Service) Result(ctx context.Context, jobID string) (Status, error) {
	j, err := s.get(jobID)
	if err != nil {
		return Status{}, err
	}

	select {
	case <-j.Done:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	return s.Progress(jobID)
}

// Cancel requests cooperative cancellation: in-flight rows finish, no new
// rows start.
func (s *Service) Cancel(jobID string) error {
	j, err := s.get(jobID)
	if err != nil {
		return err
	}
	j.Cancel()
	return nil
}

// WriteExport writes the job's cleaned CSV (original columns + Username) to
// w. Available once row processing has finished, regardless of sync outcome.
func (s *Service) WriteExport(jobID string, w io.Writer) error {
	j, err := s.get(jobID)
	if err != nil {
		return err
	}

	j.mu.Lock()
	records := j.records
	j.mu.Unlock()

	if records == nil {
		return fmt.Errorf("job %s: export not ready", jobID)
	}
	return roster.WriteExport(w, j.roster, records)
}

// LimiterStatus exposes job-slot usage for monitoring and shutdown.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForJobs blocks until all running jobs complete or ctx is cancelled.
func (s *Service) WaitForJobs(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) get(jobID string) (*job, error) {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return j, nil
}

// cleanup removes the job from tracking after a delay, keeping results
// available for late result/export fetches.
func (s *Service) cleanup(jobID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}

// appendEvent buffers an event for replay and fans it out to listeners.
// A record's events arrive contiguously after its sync finishes, so the
// first event for a row index marks that row as processed.
func (j *job) appendEvent(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, ev)
	if j.seen == nil {
		j.seen = make(map[int]bool)
	}
	if !j.seen[ev.RowIndex] {
		j.seen[ev.RowIndex] = true
		j.processed++
	}

	se := StreamEvent{Seq: len(j.events), Event: ev}
	for _, ch := range j.listeners {
		select {
		case ch <- se:
		default:
			// Listener is slow, skip this update; it can re-sync via replay.
		}
	}
}

func (j *job) closeListeners() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ch := range j.listeners {
		close(ch)
	}
	j.listeners = nil
}
