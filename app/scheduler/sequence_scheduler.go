package scheduler

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/repository"
	"github.com/leadpulse/sequence-engine/utils"
)

// Config holds the batch runner's tuning knobs
type Config struct {
	// Interval between batch runs.
	Interval time.Duration
	// BatchSize caps how many due enrollments one run picks up.
	BatchSize int
	// Workers bounds concurrent step executions to respect provider limits.
	Workers int
	// LeaseTTL bounds how long a crashed worker can block an enrollment.
	LeaseTTL time.Duration
	// OrganizationID scopes the runner to one tenant; nil runs all tenants.
	OrganizationID *uint
	// LogPath is the rotating scheduler log file; empty logs to stdout only.
	LogPath string
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 5 * time.Minute
	}
}

// Outcome reports what one batch run did
type Outcome struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// SequenceScheduler periodically claims due enrollments and fans them out to
// the step executor. Multiple instances may run concurrently; the claim
// protocol keeps them from processing the same enrollment twice.
type SequenceScheduler struct {
	enrollmentRepo repository.EnrollmentRepository
	executor       StepExecutor
	cfg            Config
	workerID       string
	logger         *log.Logger
}

// NewSequenceScheduler creates a scheduler. logger may be nil; a rotating
// file logger (plus stdout) is built from cfg.LogPath in that case.
func NewSequenceScheduler(enrollmentRepo repository.EnrollmentRepository, executor StepExecutor, cfg Config, logger *log.Logger) *SequenceScheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = newSchedulerLogger(cfg.LogPath)
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return &SequenceScheduler{
		enrollmentRepo: enrollmentRepo,
		executor:       executor,
		cfg:            cfg,
		workerID:       hostname + "-" + uuid.New().String()[:8],
		logger:         logger,
	}
}

// newSchedulerLogger writes to stdout and a size-rotated file
func newSchedulerLogger(path string) *log.Logger {
	var w io.Writer = os.Stdout
	if path != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return log.New(w, "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// WorkerID returns this instance's claim identity
func (s *SequenceScheduler) WorkerID() string {
	return s.workerID
}

// Start launches the scheduler loop in a background goroutine and returns a
// stop function
func (s *SequenceScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (s *SequenceScheduler) runOnce(ctx context.Context) {
	outcome, err := s.RunDueWork(ctx, utils.UTCNow())
	if err != nil {
		s.logger.Printf("scheduler: batch run failed: %v", err)
		return
	}
	if outcome.Processed+outcome.Skipped+outcome.Failed > 0 {
		s.logger.Printf("scheduler: batch done processed=%d skipped=%d failed=%d", outcome.Processed, outcome.Skipped, outcome.Failed)
	}
}

// RunDueWork claims and processes every enrollment due at now, with bounded
// concurrency. Failures on one enrollment never abort the batch; they are
// counted and the next cycle retries whatever remained claimed-expired or
// unadvanced. Running it twice over the same due set cannot double-send:
// the claim compare-and-swap admits one winner per enrollment.
func (s *SequenceScheduler) RunDueWork(ctx context.Context, now time.Time) (Outcome, error) {
	return s.run(ctx, s.cfg.OrganizationID, now)
}

// RunDueWorkForOrganization runs one batch scoped to a single tenant. It
// backs the externally triggered run endpoint; the claim protocol makes it
// safe to invoke while the ticker loop is running.
func (s *SequenceScheduler) RunDueWorkForOrganization(ctx context.Context, organizationID uint, now time.Time) (Outcome, error) {
	return s.run(ctx, &organizationID, now)
}

func (s *SequenceScheduler) run(ctx context.Context, organizationID *uint, now time.Time) (Outcome, error) {
	started := time.Now()
	defer func() { runDuration.Observe(time.Since(started).Seconds()) }()

	due, err := s.enrollmentRepo.ListDue(ctx, organizationID, now, s.cfg.BatchSize)
	if err != nil {
		return Outcome{}, err
	}
	dueBacklog.Set(float64(len(due)))
	if len(due) == 0 {
		return Outcome{}, nil
	}
	s.logger.Printf("scheduler: %d enrollments due", len(due))

	jobs := make(chan *models.Enrollment)
	var (
		mu      sync.Mutex
		outcome Outcome
		wg      sync.WaitGroup
	)

	record := func(res RunResult) {
		mu.Lock()
		defer mu.Unlock()
		switch res {
		case RunResultProcessed:
			outcome.Processed++
		case RunResultSkipped:
			outcome.Skipped++
		default:
			outcome.Failed++
		}
		enrollmentsProcessed.WithLabelValues(string(res)).Inc()
	}

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				record(s.processOne(ctx, e, now))
			}
		}()
	}

	for _, e := range due {
		select {
		case <-ctx.Done():
			// Stop feeding; in-flight work finishes and releases normally.
			close(jobs)
			wg.Wait()
			return outcome, ctx.Err()
		case jobs <- e:
		}
	}
	close(jobs)
	wg.Wait()

	return outcome, nil
}

// processOne claims a single due enrollment and dispatches it by run kind.
// Losing the claim race is normal and counts as skipped.
func (s *SequenceScheduler) processOne(ctx context.Context, e *models.Enrollment, now time.Time) RunResult {
	claimed, err := s.enrollmentRepo.Claim(ctx, e.ID, s.workerID, now, s.cfg.LeaseTTL)
	if err != nil {
		s.logger.Printf("scheduler: claim enrollment %d failed: %v", e.ID, err)
		return RunResultFailed
	}
	if !claimed {
		return RunResultSkipped
	}

	var res RunResult
	if e.NextRunKind == models.RunKindEvaluateCondition {
		res, err = s.executor.EvaluateDueCondition(ctx, e.ID, s.workerID)
	} else {
		res, err = s.executor.ExecuteDueStep(ctx, e.ID, s.workerID)
	}
	if err != nil {
		s.logger.Printf("scheduler: enrollment %d: %v", e.ID, err)
	}
	return res
}
