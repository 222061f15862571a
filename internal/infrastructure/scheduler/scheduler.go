// Package scheduler runs background jobs of the scoring worker on fixed
// intervals. Timing is delegated to gocron; this package adds named jobs,
// cancellation, run history and hooks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/hirohiroko250/autograder-system/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string
	Description string
	Interval    time.Duration
	RunCount    int64
	FailCount   int64
	LastRun     *JobResult
}

var (
	// ErrNilJob is returned when trying to register a nil job.
	ErrNilJob = errors.New("job cannot be nil")

	// ErrInvalidInterval is returned for a non-positive interval.
	ErrInvalidInterval = errors.New("interval must be positive")

	// ErrJobAlreadyExists is returned when a job with the same name already exists.
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")

	// ErrSchedulerAlreadyRunning is returned when Start is called on a running scheduler.
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")

	// ErrSchedulerNotRunning is returned when Stop is called on a stopped scheduler.
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobRunning is returned when a manual run finds the job busy.
	ErrJobRunning = errors.New("job is already running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Scheduler.
type Config struct {
	Logger *slog.Logger

	// Location for schedule calculations (default: UTC).
	Location *time.Location

	// RunOnStart runs every job once right after Start instead of waiting
	// for the first interval.
	RunOnStart bool

	// JobTimeout bounds one run of a job; 0 disables it.
	JobTimeout time.Duration

	// MaxHistorySize is the maximum number of job results kept.
	MaxHistorySize int
}

type scheduledJob struct {
	job      Job
	interval time.Duration

	// busy is held for the whole of a run, scheduled or manual.
	busy sync.Mutex

	runCount  int64
	failCount int64
	lastRun   *JobResult
}

// Scheduler manages and executes scheduled jobs. A job never overlaps with
// another run of itself, whether scheduled or started by hand.
type Scheduler struct {
	mu sync.RWMutex

	cron   *gocron.Scheduler
	config Config
	log    *slog.Logger

	jobs    map[string]*scheduledJob
	history []JobResult
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	onJobComplete func(result JobResult)
}

// New creates a new Scheduler with the given configuration.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 100
	}

	cron := gocron.NewScheduler(cfg.Location)
	if !cfg.RunOnStart {
		cron.WaitForScheduleAll()
	}

	return &Scheduler{
		cron:   cron,
		config: cfg,
		log:    cfg.Logger.With(logger.Component("scheduler")),
		jobs:   make(map[string]*scheduledJob),
		ctx:    context.Background(),
	}
}

// Register adds a job that runs every interval.
func (s *Scheduler) Register(job Job, interval time.Duration) error {
	if job == nil {
		return ErrNilJob
	}
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	sj := &scheduledJob{job: job, interval: interval}
	if _, err := s.cron.Every(interval).SingletonMode().Tag(name).Do(s.runJob, sj); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.jobs[name] = sj

	s.log.Info("job registered",
		slog.String("job", name),
		slog.String("description", job.Description()),
		slog.Duration("interval", interval),
	)
	return nil
}

// Start starts the scheduler. Jobs receive a context derived from ctx that
// is cancelled on Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.StartAsync()

	s.log.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop stops the scheduler, cancels running jobs and waits for them.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.cron.Stop()
	s.wg.Wait()

	s.log.Info("scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunNow executes a job by name and waits for it, ignoring its schedule.
// Returns ErrJobRunning while another run of the job is in progress.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (*JobResult, error) {
	s.mu.RLock()
	sj, ok := s.jobs[jobName]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	if !sj.busy.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, jobName)
	}
	defer sj.busy.Unlock()

	result := s.execute(ctx, sj)
	return &result, nil
}

// Trigger starts a run of a job in the background and returns at once.
// The run gets the scheduler context and Stop waits for it.
func (s *Scheduler) Trigger(jobName string) error {
	s.mu.RLock()
	sj, ok := s.jobs[jobName]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	if !s.running {
		s.mu.RUnlock()
		return ErrSchedulerNotRunning
	}
	if !sj.busy.TryLock() {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrJobRunning, jobName)
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.wg.Done()
		defer sj.busy.Unlock()
		s.execute(ctx, sj)
	}()
	return nil
}

// ListJobs returns every registered job sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, sj := range s.jobs {
		info := JobInfo{
			Name:        sj.job.Name(),
			Description: sj.job.Description(),
			Interval:    sj.interval,
			RunCount:    sj.runCount,
			FailCount:   sj.failCount,
		}
		if sj.lastRun != nil {
			r := *sj.lastRun
			info.LastRun = &r
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History returns up to limit most recent results, newest last.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]JobResult, len(h))
	copy(out, h)
	return out
}

// OnJobComplete sets a hook called after every run.
func (s *Scheduler) OnJobComplete(fn func(result JobResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJobComplete = fn
}

// runJob is the gocron entry point.
func (s *Scheduler) runJob(sj *scheduledJob) {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.RUnlock()
	defer s.wg.Done()

	if !sj.busy.TryLock() {
		s.log.Warn("skipping scheduled run, job is already running", slog.String("job", sj.job.Name()))
		return
	}
	defer sj.busy.Unlock()
	s.execute(ctx, sj)
}

func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob) JobResult {
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}

	name := sj.job.Name()
	log := s.log.With(slog.String("job", name))
	log.Info("job started")

	startedAt := time.Now()
	err := sj.job.Run(ctx)
	completedAt := time.Now()

	result := JobResult{
		JobName:     name,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		Success:     err == nil,
		Error:       err,
	}

	s.mu.Lock()
	sj.runCount++
	if err != nil {
		sj.failCount++
	}
	sj.lastRun = &result
	s.history = append(s.history, result)
	if len(s.history) > s.config.MaxHistorySize {
		s.history = s.history[len(s.history)-s.config.MaxHistorySize:]
	}
	hook := s.onJobComplete
	s.mu.Unlock()

	if err != nil {
		log.Error("job failed", logger.Latency(result.Duration), logger.Err(err))
	} else {
		log.Info("job completed", logger.Latency(result.Duration))
	}

	if hook != nil {
		hook(result)
	}
	return result
}
