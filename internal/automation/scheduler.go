package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"landflow/internal/lock"
	"landflow/internal/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrSchedulerRunning = errors.New("scheduler already running")

const (
	DefaultPollInterval = time.Minute
	DefaultClaimLease   = 15 * time.Minute
)

// Notifier receives every terminal task transition.
type Notifier interface {
	NotifyTask(task models.ScheduledTask)
}

// Scheduler polls for due ScheduledTasks and delivers them.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	lease    time.Duration
	clock    clockwork.Clock
	locker   lock.Locker
	notifier Notifier
	logger   *zap.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	lastRunAt time.Time
	healthy   bool
}

type SchedulerOption func(*Scheduler)

func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithLock serialises whole poll cycles across instances.
func WithLock(l lock.Locker) SchedulerOption {
	return func(s *Scheduler) { s.locker = l }
}

func WithNotifier(n Notifier) SchedulerOption {
	return func(s *Scheduler) { s.notifier = n }
}

// WithClaimLease sets how long a task may stay claimed before it is failed.
func WithClaimLease(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.lease = d
		}
	}
}

func NewScheduler(engine *Engine, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		engine:   engine,
		interval: DefaultPollInterval,
		lease:    DefaultClaimLease,
		clock:    engine.clock,
		locker:   lock.Noop{},
		logger:   engine.logger.With(zap.String("component", "scheduler")),
		healthy:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs ProcessScheduledTasks every interval. A cycle that is still
// running when the next tick fires causes that tick to be skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrSchedulerRunning
	}

	cronLog := cron.PrintfLogger(zap.NewStdLog(s.logger))
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		),
	)
	if _, err := c.AddFunc("@every "+s.interval.String(), func() {
		s.ProcessScheduledTasks(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule poller: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the ticker and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *Scheduler) LastRunAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunAt
}

// CycleStats summarises one poll cycle.
type CycleStats struct {
	Skipped   bool
	Due       int
	Completed int
	Failed    int
	Expired   int
}

// ProcessScheduledTasks runs a single poll cycle.
func (s *Scheduler) ProcessScheduledTasks(ctx context.Context) CycleStats {
	var stats CycleStats
	now := s.clock.Now()

	acquired, err := s.locker.Acquire(ctx)
	if err != nil {
		s.logger.Error("acquire poll lock", zap.Error(err))
		s.setHealth(now, false)
		stats.Skipped = true
		return stats
	}
	if !acquired {
		s.logger.Debug("poll cycle held by another instance")
		stats.Skipped = true
		return stats
	}
	defer func() {
		if err := s.locker.Release(ctx); err != nil {
			s.logger.Warn("release poll lock", zap.Error(err))
		}
	}()

	tasks, err := s.engine.stores.Tasks.GetScheduledTasks(ctx, models.TaskPending)
	if err != nil {
		s.logger.Error("load scheduled tasks", zap.Error(err))
		s.setHealth(now, false)
		return stats
	}

	for _, task := range tasks {
		if task.ScheduledFor.After(now) {
			continue
		}
		stats.Due++
		switch s.runTask(ctx, task) {
		case outcomeCompleted:
			stats.Completed++
		case outcomeFailed:
			stats.Failed++
		}
	}

	stats.Expired = s.expireClaims(ctx, now)
	s.setHealth(now, true)

	if stats.Due > 0 || stats.Expired > 0 {
		s.logger.Info("poll cycle finished",
			zap.Int("due", stats.Due),
			zap.Int("completed", stats.Completed),
			zap.Int("failed", stats.Failed),
			zap.Int("expired", stats.Expired))
	}
	return stats
}

type taskOutcome int

const (
	outcomeSkipped taskOutcome = iota
	outcomeCompleted
	outcomeFailed
)

// runTask claims and delivers one due task.
func (s *Scheduler) runTask(ctx context.Context, task models.ScheduledTask) (outcome taskOutcome) {
	log := s.logger.With(zap.Uint("task_id", task.ID), zap.Uint("client_id", task.ClientID))

	token := uuid.NewString()
	claimed, err := s.engine.stores.Tasks.ClaimScheduledTask(ctx, task.ID, token, s.clock.Now())
	if err != nil {
		log.Error("claim task", zap.Error(err))
		return outcomeSkipped
	}
	if !claimed {
		log.Debug("task claimed elsewhere")
		return outcomeSkipped
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while running task", zap.Any("panic", r))
			s.finish(ctx, task, token, models.TaskFailed, fmt.Sprintf("panic: %v", r))
			outcome = outcomeFailed
		}
	}()

	if task.TaskType != models.TaskTypeSendAutomationEmail {
		s.finish(ctx, task, token, models.TaskFailed, "unsupported task type: "+task.TaskType)
		return outcomeFailed
	}

	result, err := s.deliver(ctx, task)
	if err != nil {
		log.Warn("scheduled email failed", zap.Error(err))
		s.finish(ctx, task, token, models.TaskFailed, err.Error())
		return outcomeFailed
	}
	s.finish(ctx, task, token, models.TaskCompleted, result)
	return outcomeCompleted
}

func (s *Scheduler) deliver(ctx context.Context, task models.ScheduledTask) (string, error) {
	var ref TaskReference
	if err := json.Unmarshal([]byte(task.ReferenceName), &ref); err != nil {
		return "", fmt.Errorf("decode task reference: %w", err)
	}
	if ref.EmailID == 0 {
		ref.EmailID = task.ReferenceID
	}

	e := s.engine
	lead, err := e.loadLead(ctx, ref.LeadID, task.ClientID)
	if err != nil {
		return "", fmt.Errorf("load lead: %w", err)
	}

	sendErr := e.sendAutomationEmail(ctx, task.ClientID, ref.EmailID, lead)

	if a, err := e.stores.Automations.GetAutomationByID(ctx, ref.AutomationID); err == nil && a != nil {
		e.record(ctx, a, lead.ID, fmt.Sprintf("scheduled_email:%d", ref.EmailID), sendErr)
	}
	if sendErr != nil {
		return "", sendErr
	}
	return "email sent to " + lead.Email, nil
}

// expireClaims fails tasks whose claim outlived the lease. They are not
// retried since the send may already have happened.
func (s *Scheduler) expireClaims(ctx context.Context, now time.Time) int {
	claimed, err := s.engine.stores.Tasks.GetScheduledTasks(ctx, models.TaskClaimed)
	if err != nil {
		s.logger.Error("load claimed tasks", zap.Error(err))
		return 0
	}
	expired := 0
	for _, task := range claimed {
		if task.ClaimedAt == nil || now.Sub(*task.ClaimedAt) < s.lease {
			continue
		}
		if s.finish(ctx, task, task.ClaimToken, models.TaskFailed, "claim lease expired") {
			expired++
		}
	}
	return expired
}

// finish records a terminal status while token still holds the claim. It
// reports whether the write applied.
func (s *Scheduler) finish(ctx context.Context, task models.ScheduledTask, token, status, result string) bool {
	executedAt := s.clock.Now()
	ok, err := s.engine.stores.Tasks.FinishScheduledTask(ctx, task.ID, token, status, result, executedAt)
	if err != nil {
		s.logger.Error("update task status", zap.Uint("task_id", task.ID), zap.String("status", status), zap.Error(err))
		return false
	}
	if !ok {
		s.logger.Warn("task claim no longer held, status not written", zap.Uint("task_id", task.ID), zap.String("status", status))
		return false
	}
	task.Status = status
	task.Result = result
	task.ExecutedAt = &executedAt
	if s.notifier != nil {
		s.notifier.NotifyTask(task)
	}
	return true
}

func (s *Scheduler) setHealth(at time.Time, ok bool) {
	s.mu.Lock()
	s.lastRunAt = at
	s.healthy = ok
	s.mu.Unlock()
}
