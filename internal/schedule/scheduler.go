// Package schedule runs named jobs on fixed intervals without letting a job
// overlap with itself.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRunning is returned when the scheduler is modified or started while
// already running.
var ErrRunning = errors.New("scheduler already running")

// State is the current state of a job.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Job is a unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration

	// Run performs one invocation. Its context is cancelled when the
	// per-run Timeout elapses or when Stop gives up waiting.
	Run func(ctx context.Context) error

	// Timeout bounds a single run; zero means no bound.
	Timeout time.Duration

	// RunAtStart runs the job once as soon as the scheduler starts.
	RunAtStart bool
}

// JobStatus is a snapshot of a job's run history.
type JobStatus struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration

	State        State
	Runs         int
	Skipped      int
	LastRun      time.Time
	LastDuration time.Duration
	LastError    error
}

type jobEntry struct {
	job     Job
	busy    atomic.Bool
	trigger chan struct{}
	status  JobStatus
}

// Scheduler owns a fixed set of jobs. Each job gets its own ticker; a tick
// that fires while the previous run of the same job is still in progress
// is skipped and counted. Different jobs run independently.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []*jobEntry
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc

	loops sync.WaitGroup
	runs  sync.WaitGroup
}

// New creates a scheduler with the given jobs.
func New(logger *slog.Logger, jobs ...Job) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{logger: logger}
	for _, j := range jobs {
		if err := s.Register(j); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register adds a job. Jobs cannot be added while the scheduler runs.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.New("schedule: job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("schedule: job %s: interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("schedule: job %s: run func is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunning
	}
	for _, e := range s.jobs {
		if e.job.Name == job.Name {
			return fmt.Errorf("schedule: duplicate job %s", job.Name)
		}
	}
	s.jobs = append(s.jobs, &jobEntry{
		job:     job,
		trigger: make(chan struct{}, 1),
		status: JobStatus{
			Name:     job.Name,
			Interval: job.Interval,
			Timeout:  job.Timeout,
			State:    StateIdle,
		},
	})
	return nil
}

// Start launches one loop per job. Runs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, e := range s.jobs {
		s.loops.Add(1)
		go s.loop(runCtx, e, s.stopCh)
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts all tickers and waits for in-flight runs. If ctx ends first,
// the runs are cancelled and Stop returns ctx's error once they return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	cancel := s.cancel
	s.mu.Unlock()

	s.loops.Wait()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline reached, cancelling in-flight runs")
		cancel()
		<-done
		return fmt.Errorf("stopping scheduler: %w", ctx.Err())
	}
}

// Trigger requests an immediate run of the named job. The run still obeys
// the overlap guard. It reports false for an unknown job or when a trigger
// is already pending.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.jobs {
		if e.job.Name != name {
			continue
		}
		select {
		case e.trigger <- struct{}{}:
			return true
		default:
			return false
		}
	}
	return false
}

// Statuses returns a snapshot of every job, in registration order.
func (s *Scheduler) Statuses() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		statuses = append(statuses, e.status)
	}
	return statuses
}

// loop drives one job until stop is closed or ctx ends.
func (s *Scheduler) loop(ctx context.Context, e *jobEntry, stop <-chan struct{}) {
	defer s.loops.Done()

	ticker := time.NewTicker(e.job.Interval)
	defer ticker.Stop()

	if e.job.RunAtStart {
		s.dispatch(ctx, e)
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, e)
		case <-e.trigger:
			s.dispatch(ctx, e)
		}
	}
}

// dispatch starts a run unless the previous one is still in progress.
func (s *Scheduler) dispatch(ctx context.Context, e *jobEntry) {
	if !e.busy.CompareAndSwap(false, true) {
		s.mu.Lock()
		e.status.Skipped++
		s.mu.Unlock()
		s.logger.Warn("skipping run, previous run still in progress", "job", e.job.Name)
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer e.busy.Store(false)
		s.execute(ctx, e)
	}()
}

func (s *Scheduler) execute(ctx context.Context, e *jobEntry) {
	started := time.Now().UTC()
	s.mu.Lock()
	e.status.State = StateRunning
	s.mu.Unlock()

	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}

	err := safeRun(ctx, e.job.Run)
	elapsed := time.Since(started)

	s.mu.Lock()
	e.status.Runs++
	e.status.LastRun = started
	e.status.LastDuration = elapsed
	e.status.LastError = err
	if err != nil {
		e.status.State = StateError
	} else {
		e.status.State = StateIdle
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job run failed", "job", e.job.Name, "duration", elapsed, "error", err)
		return
	}
	s.logger.Debug("job run finished", "job", e.job.Name, "duration", elapsed)
}

func safeRun(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx)
}
