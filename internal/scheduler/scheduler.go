package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/service"
)

// Job names used by LifecycleJobs and the CLI.
const (
	JobExpireHeld    = "expire-held"
	JobSyncStatus    = "sync-status"
	JobSendReminders = "send-reminders"
)

// Job is one named periodic task. Run returns a one-line summary of what
// it did, which is logged and handed back by RunOnce.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) (string, error)
}

// Config controls locking and timeouts for scheduled runs.
type Config struct {
	LockTTL    time.Duration
	JobTimeout time.Duration
	LockPrefix string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LockTTL:    5 * time.Minute,
		JobTimeout: 2 * time.Minute,
		LockPrefix: "registration:job:",
	}
}

// Scheduler runs lifecycle jobs on cron schedules, holding a lock per job
// so only one replica does the work at a time.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]Job
	entries map[string]cron.EntryID
	locker  Locker
	cfg     Config
	logger  *zap.Logger
	mu      sync.Mutex
	running bool
	ctx     context.Context
}

// New creates a scheduler. A nil locker means a process-local one.
func New(locker Locker, logger *zap.Logger, cfg Config) *Scheduler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	cl := cronLogger{log: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Add registers a job. An empty spec registers it for RunOnce only.
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if job.Spec != "" {
		id, err := s.cron.AddFunc(job.Spec, func() { s.execute(s.runContext(), job) })
		if err != nil {
			return fmt.Errorf("schedule job %q: %w", job.Name, err)
		}
		s.entries[job.Name] = id
	}
	s.jobs[job.Name] = job
	return nil
}

// Jobs returns the registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins firing scheduled jobs. Runs see ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("starting scheduler", zap.Int("jobs", len(s.entries)))
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

// RunOnce runs the named job immediately under the same lock the cron
// runs take. It returns the job's summary and whether the lock was
// acquired.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return "", false, fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) execute(ctx context.Context, job Job) (string, bool, error) {
	release, ok, err := s.locker.Acquire(ctx, s.cfg.LockPrefix+job.Name, s.cfg.LockTTL)
	if err != nil {
		s.logger.Error("job lock failed", zap.String("job", job.Name), zap.Error(err))
		return "", false, err
	}
	if !ok {
		s.logger.Debug("job held elsewhere, skipping", zap.String("job", job.Name))
		return "", false, nil
	}
	defer release()

	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	summary, err := job.Run(ctx)
	if err != nil {
		s.logger.Error("job failed",
			zap.String("job", job.Name),
			zap.String("summary", summary),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return summary, true, err
	}
	s.logger.Info("job completed",
		zap.String("job", job.Name),
		zap.String("summary", summary),
		zap.Duration("elapsed", time.Since(start)))
	return summary, true, nil
}

// Lifecycle is the part of the registration service the jobs drive.
type Lifecycle interface {
	ExpireHeldRegistrations(ctx context.Context) (service.SweepReport, error)
	SyncHostStatus(ctx context.Context) (int, error)
	SendReminders(ctx context.Context) (int, error)
}

// Specs holds one cron spec per lifecycle job. Empty disables the schedule.
type Specs struct {
	ExpireHeld    string `mapstructure:"expire_held"`
	SyncStatus    string `mapstructure:"sync_status"`
	SendReminders string `mapstructure:"send_reminders"`
}

// LifecycleJobs builds the standard jobs over svc. A sweep that leaves
// registrations unexpired fails with the first failure wrapped.
func LifecycleJobs(svc Lifecycle, specs Specs) []Job {
	return []Job{
		{
			Name: JobExpireHeld,
			Spec: specs.ExpireHeld,
			Run: func(ctx context.Context) (string, error) {
				report, err := svc.ExpireHeldRegistrations(ctx)
				if err != nil {
					return "", err
				}
				summary := fmt.Sprintf("expired %d, promoted %d, skipped %d",
					len(report.Expired), len(report.Promoted), report.Skipped)
				if len(report.Failures) > 0 {
					f := report.Failures[0]
					return summary, fmt.Errorf("%d registrations could not be expired, first %s: %w",
						len(report.Failures), f.RegistrationID, f.Err)
				}
				return summary, nil
			},
		},
		{
			Name: JobSyncStatus,
			Spec: specs.SyncStatus,
			Run: func(ctx context.Context) (string, error) {
				n, err := svc.SyncHostStatus(ctx)
				return fmt.Sprintf("changed %d hosts", n), err
			},
		},
		{
			Name: JobSendReminders,
			Spec: specs.SendReminders,
			Run: func(ctx context.Context) (string, error) {
				n, err := svc.SendReminders(ctx)
				return fmt.Sprintf("sent %d reminders", n), err
			},
		},
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
