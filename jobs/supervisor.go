// Package jobs runs transfers in the background, a fixed number at a time.
//
// Each submitted job gets a slot in a fixed-size table and a goroutine of its
// own. The foreground polls with Reap to learn which jobs finished; nothing
// is pushed to it. Ids grow monotonically and are never reused, slots are.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ftpshell/transfer"
)

// DefaultCapacity is the number of jobs that may run at once.
const DefaultCapacity = 10

// Kind is the direction of a transfer job.
type Kind int

const (
	Download Kind = iota
	Upload
)

func (k Kind) String() string {
	switch k {
	case Download:
		return "DOWNLOAD"
	case Upload:
		return "UPLOAD"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Job describes one background transfer.
type Job struct {
	ID         int
	Kind       Kind
	LocalPath  string
	RemotePath string
	Mode       transfer.Mode // data connection mode captured at submission
	Offset     int64         // restart offset requested for a download
	Dir        string        // remote working directory to change to first
	Worker     string        // handle of the goroutine running the job
	Active     bool
	Started    time.Time
}

// SubmitOption sets optional job parameters.
type SubmitOption func(*Job)

// WithMode records the data connection mode for the job.
func WithMode(m transfer.Mode) SubmitOption {
	return func(j *Job) { j.Mode = m }
}

// WithOffset asks for a download to restart at offset.
func WithOffset(offset int64) SubmitOption {
	return func(j *Job) { j.Offset = offset }
}

// WithDir makes the job change to dir before transferring.
func WithDir(dir string) SubmitOption {
	return func(j *Job) { j.Dir = dir }
}

// Outcome is what a finished job reports at reap time.
type Outcome struct {
	Job        Job
	Result     transfer.Result
	Err        error
	ExitStatus int // 0 on success, 1 on failure
	Finished   time.Time
}

// Success reports whether the job completed without error.
func (o Outcome) Success() bool {
	return o.ExitStatus == 0
}

// CapacityError is returned by Submit when every slot is taken.
type CapacityError struct {
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("transfer limit reached (%d active jobs)", e.Capacity)
}

// Runner performs the transfer for a job. It runs on the job's own goroutine
// and must not touch the foreground control channel.
type Runner func(ctx context.Context, job Job) (transfer.Result, error)

// Recorder is told about job submissions and completions.
type Recorder interface {
	JobSubmitted(job Job)
	JobFinished(outcome Outcome)
}

type nopRecorder struct{}

func (nopRecorder) JobSubmitted(Job)     {}
func (nopRecorder) JobFinished(Outcome) {}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger for job lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder sets the sink for job metrics.
func WithRecorder(r Recorder) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithContext sets the context every worker runs under.
func WithContext(ctx context.Context) Option {
	return func(s *Supervisor) {
		s.ctx = ctx
	}
}

type slot struct {
	job  Job
	done chan Outcome
}

// Supervisor owns the job table.
type Supervisor struct {
	run      Runner
	logger   *zap.Logger
	recorder Recorder
	ctx      context.Context

	mu     sync.Mutex
	slots  []slot
	free   []int       // indexes of unused slots, used as a stack
	index  map[int]int // job id -> slot index
	nextID int
}

// New returns a supervisor with room for capacity concurrent jobs.
func New(capacity int, run Runner, opts ...Option) *Supervisor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Supervisor{
		run:      run,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		ctx:      context.Background(),
		slots:    make([]slot, capacity),
		free:     make([]int, 0, capacity),
		index:    make(map[int]int, capacity),
		nextID:   1,
	}
	// Push in reverse so slot 0 is handed out first.
	for i := capacity - 1; i >= 0; i-- {
		s.free = append(s.free, i)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity returns the size of the job table.
func (s *Supervisor) Capacity() int {
	return len(s.slots)
}

// Submit records a job and starts its worker. It fails with *CapacityError,
// leaving the table untouched, when no slot is free.
func (s *Supervisor) Submit(kind Kind, local, remote string, opts ...SubmitOption) (int, error) {
	s.mu.Lock()
	if len(s.free) == 0 {
		s.mu.Unlock()
		return 0, &CapacityError{Capacity: len(s.slots)}
	}
	i := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	job := Job{
		ID:         s.nextID,
		Kind:       kind,
		LocalPath:  local,
		RemotePath: remote,
		Active:     true,
		Started:    time.Now(),
	}
	for _, opt := range opts {
		opt(&job)
	}
	s.nextID++
	done := make(chan Outcome, 1)
	s.slots[i] = slot{job: job, done: done}
	s.index[job.ID] = i
	s.mu.Unlock()

	job.Worker = uuid.NewString()
	go s.work(job, done)

	s.mu.Lock()
	if j, ok := s.index[job.ID]; ok && j == i {
		s.slots[i].job.Worker = job.Worker
	}
	s.mu.Unlock()

	s.logger.Info("job submitted",
		zap.Int("id", job.ID),
		zap.Stringer("kind", kind),
		zap.String("local", local),
		zap.String("remote", remote),
		zap.String("worker", job.Worker))
	s.recorder.JobSubmitted(job)
	return job.ID, nil
}

// work runs one job and always delivers exactly one outcome.
func (s *Supervisor) work(job Job, done chan<- Outcome) {
	outcome := Outcome{Job: job}
	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("worker panic: %v", r)
		}
		if outcome.Err != nil {
			outcome.ExitStatus = 1
		}
		outcome.Finished = time.Now()
		done <- outcome
	}()
	outcome.Result, outcome.Err = s.run(s.ctx, job)
}

// Reap collects every finished job without waiting, frees its slot and
// returns the outcomes in slot order.
func (s *Supervisor) Reap() []Outcome {
	s.mu.Lock()
	var finished []Outcome
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.job.Active {
			continue
		}
		select {
		case o := <-sl.done:
			o.Job.Active = false
			finished = append(finished, o)

			delete(s.index, sl.job.ID)
			*sl = slot{}
			s.free = append(s.free, i)
		default:
		}
	}
	s.mu.Unlock()

	for _, o := range finished {
		fields := []zap.Field{
			zap.Int("id", o.Job.ID),
			zap.Stringer("kind", o.Job.Kind),
			zap.Int("exit", o.ExitStatus),
			zap.Int64("bytes", o.Result.Bytes),
			zap.Duration("elapsed", o.Result.Elapsed),
		}
		if o.Err != nil {
			s.logger.Warn("job failed", append(fields, zap.Error(o.Err))...)
		} else {
			s.logger.Info("job finished", fields...)
		}
		s.recorder.JobFinished(o)
	}
	return finished
}

// List returns the active jobs ordered by id.
func (s *Supervisor) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.index))
	for _, i := range s.index {
		jobs = append(jobs, s.slots[i].job)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	return jobs
}

// Active returns the number of jobs not yet reaped.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Wait reaps until no job is left, sleeping interval between rounds and
// calling onWait with the number still running. It returns every outcome it
// reaped, or early with ctx's error.
func (s *Supervisor) Wait(ctx context.Context, interval time.Duration, onWait func(active int)) ([]Outcome, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var all []Outcome
	for {
		all = append(all, s.Reap()...)
		n := s.Active()
		if n == 0 {
			return all, nil
		}
		if onWait != nil {
			onWait(n)
		}
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		case <-ticker.C:
		}
	}
}
